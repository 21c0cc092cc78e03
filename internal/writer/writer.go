// Package writer declares the pluggable downstream interface that
// turns assembled row-piece chains into wire messages.
// The wire encoding itself (JSON and others) is not fixed by this core.
package writer

import (
	"time"

	"github.com/oracdc-io/oracdc/internal/redo"
)

// DMLType classifies a flushed logical row's operation, per the
// lattice a flushed row piece can fall into.
type DMLType int

const (
	DMLUnknown DMLType = iota
	DMLInsert
	DMLDelete
	DMLUpdate
)

func (t DMLType) String() string {
	switch t {
	case DMLInsert:
		return "INSERT"
	case DMLDelete:
		return "DELETE"
	case DMLUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Writer is the BEGIN / (DML-events|DDL-event)* / COMMIT framing
// contract a Transaction drives during Flush.
type Writer interface {
	ProcessBegin(scn uint64, commitTime time.Time, xid redo.XID) error
	ParseDML(first1, first2 *redo.Record, typ DMLType) error
	ParseInsertMultiple(r1, r2 *redo.Record) error
	ParseDeleteMultiple(r1, r2 *redo.Record) error
	ParseDDL(r1, r2 *redo.Record) error
	ProcessCommit() error
}
