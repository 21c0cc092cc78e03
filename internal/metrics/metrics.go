// Package metrics holds the transaction-assembly core's OpenTelemetry
// instruments: one struct of pre-registered counters/histograms,
// created once from an injected metric.Meter.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument this core's components report to.
type Metrics struct {
	TransactionsFlushed  metric.Int64Counter
	DMLEventsEmitted     metric.Int64Counter
	SplitBlockMerges     metric.Int64Counter
	ForcedSplits         metric.Int64Counter
	RollbackMatches      metric.Int64Counter
	OutputChunkAllocs    metric.Int64Counter
	FlushDuration        metric.Int64Histogram
}

// New creates and registers every instrument against meter.
func New(meter metric.Meter) (*Metrics, error) {
	transactionsFlushed, err := meter.Int64Counter(
		"oracdc.transaction.flushed_total",
		metric.WithDescription("Total number of committed transactions flushed to a writer."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	dmlEventsEmitted, err := meter.Int64Counter(
		"oracdc.transaction.dml_events_total",
		metric.WithDescription("Total number of DML events emitted via parseDML/parseInsertMultiple/parseDeleteMultiple."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	splitBlockMerges, err := meter.Int64Counter(
		"oracdc.splitblock.merges_total",
		metric.WithDescription("Total number of multi-block UNDO fragment groups merged."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	forcedSplits, err := meter.Int64Counter(
		"oracdc.transaction.forced_splits_total",
		metric.WithDescription("Total number of implicit commit/begin boundaries inserted for oversized transactions."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rollbackMatches, err := meter.Int64Counter(
		"oracdc.transaction.rollback_matches_total",
		metric.WithDescription("Total number of successful rollbackLastOp/rollbackPartOp matches."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	outputChunkAllocs, err := meter.Int64Counter(
		"oracdc.outputbuffer.chunk_allocs_total",
		metric.WithDescription("Total number of output buffer chunks allocated on overflow."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushDuration, err := meter.Int64Histogram(
		"oracdc.transaction.flush_duration",
		metric.WithDescription("Wall-clock duration of Transaction.Flush."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		TransactionsFlushed: transactionsFlushed,
		DMLEventsEmitted:    dmlEventsEmitted,
		SplitBlockMerges:    splitBlockMerges,
		ForcedSplits:        forcedSplits,
		RollbackMatches:     rollbackMatches,
		OutputChunkAllocs:   outputChunkAllocs,
		FlushDuration:       flushDuration,
	}, nil
}

func (m *Metrics) incr(ctx context.Context, c metric.Int64Counter) {
	if m == nil || c == nil {
		return
	}
	c.Add(ctx, 1)
}

func (m *Metrics) IncTransactionsFlushed(ctx context.Context) { m.incr(ctx, m.TransactionsFlushed) }
func (m *Metrics) IncDMLEventsEmitted(ctx context.Context)    { m.incr(ctx, m.DMLEventsEmitted) }
func (m *Metrics) IncSplitBlockMerges(ctx context.Context)    { m.incr(ctx, m.SplitBlockMerges) }
func (m *Metrics) IncForcedSplits(ctx context.Context)        { m.incr(ctx, m.ForcedSplits) }
func (m *Metrics) IncRollbackMatches(ctx context.Context)     { m.incr(ctx, m.RollbackMatches) }
func (m *Metrics) IncOutputChunkAllocs(ctx context.Context)   { m.incr(ctx, m.OutputChunkAllocs) }
