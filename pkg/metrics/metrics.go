// Package metrics wraps go.opentelemetry.io/otel/metric instruments for
// the in-flight transaction manager. Every instrument here is optional —
// a Metrics built with a nil MeterProvider falls back to the otel no-op
// default, so callers that don't care about metrics never have to guard
// their call sites.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/orneryd/inflightdb/pkg/inflight"

// Metrics is a pre-bound bundle of instruments for the manager's
// lifecycle events.
type Metrics struct {
	txOpened      metric.Int64Counter
	txCompleted   metric.Int64Counter
	opsStaged     metric.Int64Counter
	commitSeconds metric.Float64Histogram
	registered    metric.Int64ObservableGauge

	registeredFn func() int64
}

// New builds a Metrics bundle from provider. If provider is nil,
// otel.GetMeterProvider() is used, which defaults to a safe no-op
// implementation until an embedder installs a real one.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	txOpened, err := meter.Int64Counter("inflight.tx.opened",
		metric.WithDescription("transactions opened, by source"))
	if err != nil {
		return nil, fmt.Errorf("metrics: tx.opened: %w", err)
	}
	txCompleted, err := meter.Int64Counter("inflight.tx.completed",
		metric.WithDescription("transactions completed, by source"))
	if err != nil {
		return nil, fmt.Errorf("metrics: tx.completed: %w", err)
	}
	opsStaged, err := meter.Int64Counter("inflight.ops.staged",
		metric.WithDescription("staged operations, by classification status"))
	if err != nil {
		return nil, fmt.Errorf("metrics: ops.staged: %w", err)
	}
	commitSeconds, err := meter.Float64Histogram("inflight.commit.duration",
		metric.WithDescription("commit fold + engine commit duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("metrics: commit.duration: %w", err)
	}

	m := &Metrics{
		txOpened:      txOpened,
		txCompleted:   txCompleted,
		opsStaged:     opsStaged,
		commitSeconds: commitSeconds,
	}

	registered, err := meter.Int64ObservableGauge("inflight.documents.registered",
		metric.WithDescription("documents currently referenced by an open transaction"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if m.registeredFn != nil {
				o.Observe(m.registeredFn())
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: documents.registered: %w", err)
	}
	m.registered = registered

	return m, nil
}

// SetDocumentsRegisteredFunc wires the callback the async gauge polls for
// inflight.documents.registered. Called once by Handle construction.
func (m *Metrics) SetDocumentsRegisteredFunc(fn func() int64) {
	m.registeredFn = fn
}

func (m *Metrics) RecordTxOpened(ctx context.Context, source string) {
	m.txOpened.Add(ctx, 1, metric.WithAttributes(sourceAttr(source)))
}

func (m *Metrics) RecordTxCompleted(ctx context.Context, source string) {
	m.txCompleted.Add(ctx, 1, metric.WithAttributes(sourceAttr(source)))
}

func (m *Metrics) RecordOpStaged(ctx context.Context, status string) {
	m.opsStaged.Add(ctx, 1, metric.WithAttributes(statusAttr(status)))
}

func (m *Metrics) ObserveCommitDuration(ctx context.Context, seconds float64) {
	m.commitSeconds.Record(ctx, seconds)
}
