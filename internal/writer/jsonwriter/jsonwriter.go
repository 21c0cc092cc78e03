// Package jsonwriter is the default writer.Writer: it turns assembled
// BEGIN/DML/COMMIT events into JSON documents, one per length-framed
// outputbuffer.Buffer message (no newline delimiter); the wire encoding is left
// unspecified beyond the recognized-options table. Grounded on the
// teacher's core/replication/events wire-encoding style (length-framed
// payloads written straight to an output sink) plus the outputbuffer
// package's own framing contract.
package jsonwriter

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oracdc-io/oracdc/internal/outputbuffer"
	"github.com/oracdc-io/oracdc/internal/redo"
	"github.com/oracdc-io/oracdc/internal/writer"
)

// Options controls the recognized writer options this
// implementation honors.
type Options struct {
	XidFormat       string // "hex" or "dec"
	TimestampFormat string // "iso8601" or "unix"
	ScnFormat       string // "numeric" or "string"
	ColumnFormat    outputbuffer.ColumnFormat
}

// DefaultOptions mirrors pkg/config.Default's writer section.
func DefaultOptions() Options {
	return Options{
		XidFormat:       "hex",
		TimestampFormat: "iso8601",
		ScnFormat:       "numeric",
		ColumnFormat:    outputbuffer.ColumnFormatChanged,
	}
}

// Writer drives a *outputbuffer.Buffer, one framed JSON document per
// DML/DDL/transaction-boundary call.
type Writer struct {
	buf  *outputbuffer.Buffer
	opts Options

	schema   string
	table    string
	pending  []event
	scn      uint64
	xid      redo.XID
	commitAt time.Time
}

type event struct {
	Type      string    `json:"type"`
	Schema    string    `json:"schema,omitempty"`
	Table     string    `json:"table,omitempty"`
	Scn       any       `json:"scn,omitempty"`
	Xid       string    `json:"xid,omitempty"`
	Timestamp any       `json:"ts,omitempty"`
	Columns   []column  `json:"columns,omitempty"`
}

type column struct {
	Name   string `json:"name"`
	PK     bool   `json:"pk,omitempty"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// New wraps buf for JSON emission.
func New(buf *outputbuffer.Buffer, opts Options) *Writer {
	return &Writer{buf: buf, opts: opts}
}

func (w *Writer) formatXid(xid redo.XID) string {
	if w.opts.XidFormat == "dec" {
		return fmt.Sprintf("%d.%d.%d", xid.Usn, xid.Slot, xid.Wrap)
	}
	return fmt.Sprintf("%04x.%04x.%08x", xid.Usn, xid.Slot, xid.Wrap)
}

func (w *Writer) formatScn(scn uint64) any {
	if w.opts.ScnFormat == "string" {
		return fmt.Sprintf("%d", scn)
	}
	return scn
}

func (w *Writer) formatTime(t time.Time) any {
	if w.opts.TimestampFormat == "unix" {
		return t.Unix()
	}
	return t.Format(time.RFC3339Nano)
}

// ProcessBegin implements writer.Writer.
func (w *Writer) ProcessBegin(scn uint64, commitTime time.Time, xid redo.XID) error {
	w.scn = scn
	w.xid = xid
	w.commitAt = commitTime
	w.pending = w.pending[:0]
	return w.emit(event{
		Type:      "begin",
		Scn:       w.formatScn(scn),
		Xid:       w.formatXid(xid),
		Timestamp: w.formatTime(commitTime),
	})
}

// ParseDML implements writer.Writer: first1/first2 are the chain's
// first row-piece pair, typ classifies the operation.
func (w *Writer) ParseDML(first1, first2 *redo.Record, typ writer.DMLType) error {
	cols := columnsFromSupplemental(first1)
	cols = projectedColumns(w.buf, cols, w.opts.ColumnFormat)
	return w.emit(event{
		Type:      typ.String(),
		Scn:       w.formatScn(first1.Scn),
		Xid:       w.formatXid(w.xid),
		Timestamp: w.formatTime(w.commitAt),
		Columns:   cols,
	})
}

// ParseInsertMultiple implements writer.Writer's array-insert path.
func (w *Writer) ParseInsertMultiple(r1, r2 *redo.Record) error {
	return w.ParseDML(r1, r2, writer.DMLInsert)
}

// ParseDeleteMultiple implements writer.Writer's array-delete path.
func (w *Writer) ParseDeleteMultiple(r1, r2 *redo.Record) error {
	return w.ParseDML(r1, r2, writer.DMLDelete)
}

// ParseDDL implements writer.Writer's DDL path (e.g. truncate).
func (w *Writer) ParseDDL(r1, r2 *redo.Record) error {
	return w.emit(event{
		Type:      "ddl",
		Scn:       w.formatScn(r1.Scn),
		Xid:       w.formatXid(w.xid),
		Timestamp: w.formatTime(w.commitAt),
	})
}

// ProcessCommit implements writer.Writer.
func (w *Writer) ProcessCommit() error {
	return w.emit(event{
		Type:      "commit",
		Scn:       w.formatScn(w.scn),
		Xid:       w.formatXid(w.xid),
		Timestamp: w.formatTime(w.commitAt),
	})
}

func (w *Writer) emit(ev event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("jsonwriter: marshal %s event: %w", ev.Type, err)
	}
	w.buf.BeginMessage()
	w.buf.Append(payload)
	w.buf.CommitMessage()
	return nil
}

// columnsFromSupplemental builds the before/after column view straight
// from the supplemental-log before/after byte images carried on the
// row piece's first record, hex-encoded since the parsed column schema
// (datatype-aware decoding) is out of this core's scope.
func columnsFromSupplemental(r *redo.Record) []column {
	if len(r.SuppLogBefore) == 0 && len(r.SuppLogAfter) == 0 {
		return nil
	}
	return []column{{
		Name:   "supplemental_log",
		Before: hex.EncodeToString(r.SuppLogBefore),
		After:  hex.EncodeToString(r.SuppLogAfter),
		PK:     false,
	}}
}

func projectedColumns(buf *outputbuffer.Buffer, cols []column, format outputbuffer.ColumnFormat) []column {
	if format == outputbuffer.ColumnFormatAll || len(cols) == 0 {
		return cols
	}
	ob := make([]outputbuffer.Column, len(cols))
	for i, c := range cols {
		ob[i] = outputbuffer.Column{
			Name:     c.Name,
			IsPK:     c.PK,
			Before:   []byte(c.Before),
			After:    []byte(c.After),
			HasAfter: c.After != "",
		}
	}
	kept := buf.ProjectColumns(ob, format)
	out := make([]column, len(kept))
	for i, c := range kept {
		out[i] = column{Name: c.Name, PK: c.IsPK, Before: string(c.Before), After: string(c.After)}
	}
	return out
}
