// Command oracdc-replay is an interactive harness for exercising the
// transaction assembly core against hand-typed redo/undo record
// scripts, without a live Oracle redo reader attached. It wires
// together the same collaborators a production analyser loop would:
// pkg/config, pkg/logger, pkg/telemetry, internal/engine,
// internal/metrics, internal/nls, internal/outputbuffer, and the
// default internal/writer/jsonwriter.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/oracdc-io/oracdc/internal/engine"
	"github.com/oracdc-io/oracdc/internal/metrics"
	"github.com/oracdc-io/oracdc/internal/nls"
	"github.com/oracdc-io/oracdc/internal/outputbuffer"
	"github.com/oracdc-io/oracdc/internal/redo"
	"github.com/oracdc-io/oracdc/internal/transaction"
	"github.com/oracdc-io/oracdc/internal/writer/jsonwriter"
	"github.com/oracdc-io/oracdc/pkg/config"
	"github.com/oracdc-io/oracdc/pkg/logger"
	"github.com/oracdc-io/oracdc/pkg/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config document (defaults built in if omitted)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "oracdc-replay:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "oracdc-replay: logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()
	sugar := log.Sugar()

	tel, shutdownTel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		sugar.Fatalw("telemetry init failed", "err", err)
	}
	defer shutdownTel(context.Background())

	m, err := metrics.New(tel.Meter)
	if err != nil {
		sugar.Fatalw("metrics init failed", "err", err)
	}

	dict := nls.NewDictionary()
	out := outputbuffer.NewBuffer(dict, m)
	if err := out.SetNlsCharset(cfg.Writer.NlsCharset); err != nil {
		sugar.Fatalw("nls charset init failed", "err", err)
	}
	if err := out.SetNlsNcharCharset(cfg.Writer.NlsNcharCharset); err != nil {
		sugar.Fatalw("nls ncharset init failed", "err", err)
	}

	eng := engine.New(sugar)
	jw := jsonwriter.New(out, jsonwriter.Options{
		XidFormat:       cfg.Writer.XidFormat,
		TimestampFormat: cfg.Writer.TimestampFormat,
		ScnFormat:       cfg.Writer.ScnFormat,
		ColumnFormat:    columnFormatFromString(cfg.Writer.ColumnFormat),
	})

	sess := &session{
		eng:    eng,
		out:    out,
		writer: jw,
		logger: sugar,
		metrics: m,
		maxMessageMb: cfg.Writer.MaxMessageMb,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.drainOutput(ctx)

	rl, err := readline.New("oracdc> ")
	if err != nil {
		sugar.Fatalw("readline init failed", "err", err)
	}
	defer rl.Close()

	fmt.Println("oracdc-replay: type 'help' for commands, Ctrl-D to exit")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			sugar.Warnw("readline error", "err", err)
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := sess.dispatch(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	out.Close()
}

func columnFormatFromString(s string) outputbuffer.ColumnFormat {
	switch s {
	case "all":
		return outputbuffer.ColumnFormatAll
	case "ins_dec":
		return outputbuffer.ColumnFormatInsDec
	default:
		return outputbuffer.ColumnFormatChanged
	}
}

// session holds the harness's live state: one active transaction per
// xid, the shared output buffer, and the writer/engine the scripted
// commands drive.
type session struct {
	eng          *engine.Engine
	out          *outputbuffer.Buffer
	writer       *jsonwriter.Writer
	logger       interface {
		Warnw(string, ...interface{})
		Infow(string, ...interface{})
	}
	metrics      *metrics.Metrics
	maxMessageMb int

	seq uint32
}

func (s *session) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		printHelp()
		return nil
	case "begin":
		return s.begin(args)
	case "insert", "delete", "update":
		return s.piece(args, cmd)
	case "commit":
		return s.commit(ctx, args)
	case "rollback":
		return s.rollbackLast(args)
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
}

func printHelp() {
	fmt.Println(`commands:
  begin <usn> <slot> <wrap>
  insert|delete|update <usn> <slot> <wrap> <object> <bdba> <rowslot>
  commit <usn> <slot> <wrap>
  rollback <usn> <slot> <wrap>
  help`)
}

func parseXid(args []string) (redo.XID, []string, error) {
	if len(args) < 3 {
		return redo.XID{}, nil, fmt.Errorf("expected <usn> <slot> <wrap> ...")
	}
	usn, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return redo.XID{}, nil, err
	}
	slot, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return redo.XID{}, nil, err
	}
	wrap, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return redo.XID{}, nil, err
	}
	return redo.XID{Usn: uint16(usn), Slot: uint16(slot), Wrap: uint32(wrap)}, args[3:], nil
}

func (s *session) begin(args []string) error {
	xid, _, err := parseXid(args)
	if err != nil {
		return err
	}
	if _, ok := s.eng.Get(xid); ok {
		return fmt.Errorf("transaction %+v already active", xid)
	}
	tx := transaction.New(&transaction.Deps{
		Output:       s.out,
		Writer:       s.writer,
		Engine:       s.eng,
		Metrics:      s.metrics,
		MaxMessageMb: s.maxMessageMb,
	}, xid)
	tx.IsBegin = true
	s.eng.Track(tx)
	fmt.Printf("started transaction %04x.%04x.%08x\n", xid.Usn, xid.Slot, xid.Wrap)
	return nil
}

func (s *session) piece(args []string, kind string) error {
	xid, rest, err := parseXid(args)
	if err != nil {
		return err
	}
	if len(rest) < 3 {
		return fmt.Errorf("expected <object> <bdba> <rowslot>")
	}
	tx, ok := s.eng.Get(xid)
	if !ok {
		return fmt.Errorf("no active transaction %+v, run 'begin' first", xid)
	}
	object, err := strconv.ParseUint(rest[0], 10, 32)
	if err != nil {
		return err
	}
	bdba, err := strconv.ParseUint(rest[1], 10, 32)
	if err != nil {
		return err
	}
	rowSlot, err := strconv.ParseUint(rest[2], 10, 16)
	if err != nil {
		return err
	}

	s.seq++
	scn := uint64(s.seq)

	var op2 uint32
	switch kind {
	case "insert":
		op2 = redo.OpInsertRowPiece
	case "delete":
		op2 = redo.OpDeleteRowPiece
	default:
		op2 = redo.OpUpdateRowPiece
	}

	r1 := &redo.Record{
		Scn: scn, Sequence: s.seq, Xid: xid,
		Object: uint32(object), SuppLogBdba: uint32(bdba), SuppLogSlot: uint16(rowSlot),
		SuppLogType: 1, Fb: redo.FbF | redo.FbL,
		Length: 96,
	}
	r2 := &redo.Record{
		Scn: scn, Sequence: s.seq, Xid: xid,
		OpCode: op2, Object: uint32(object), Dba: uint32(bdba), Slot: uint16(rowSlot),
		Length: 64,
	}
	return tx.Add(r1, r2)
}

func (s *session) commit(ctx context.Context, args []string) error {
	xid, _, err := parseXid(args)
	if err != nil {
		return err
	}
	tx, ok := s.eng.Get(xid)
	if !ok {
		return fmt.Errorf("no active transaction %+v", xid)
	}
	if err := tx.FlushSplitBlocks(ctx); err != nil {
		return err
	}
	tx.IsCommit = true
	tx.CommitTime = time.Now()
	ops := tx.OpCodes()
	if err := tx.Flush(ctx); err != nil {
		return err
	}
	s.eng.Untrack(tx)
	fmt.Printf("committed transaction %04x.%04x.%08x (%d ops)\n", xid.Usn, xid.Slot, xid.Wrap, ops)
	return nil
}

func (s *session) rollbackLast(args []string) error {
	xid, _, err := parseXid(args)
	if err != nil {
		return err
	}
	tx, ok := s.eng.Get(xid)
	if !ok {
		return fmt.Errorf("no active transaction %+v", xid)
	}
	r1, r2 := tx.LastRecords()
	if r1 == nil {
		return fmt.Errorf("transaction %+v has no operations to roll back", xid)
	}
	if !tx.RollbackLastOp(r1, r2) {
		return fmt.Errorf("rollback did not match the last operation")
	}
	fmt.Println("rolled back last operation")
	return nil
}

func (s *session) drainOutput(ctx context.Context) {
	for {
		payload, ok, err := s.out.ReadMessage(ctx)
		if err != nil {
			return
		}
		if !ok {
			return
		}
		fmt.Printf("<< %s\n", string(payload))
	}
}
