package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/types"
)

const storageScopeName = "github.com/aimediator/mediator/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in mediator.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

var _ storage.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("mediator.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("mediator.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("mediator.storage.errors",
		metric.WithDescription("Total storage I/O errors (not-found is not counted)"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func keyAttrs(id types.MediationID) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("mediator.group_id", id.GroupID),
		attribute.String("mediator.token", id.Token),
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("db.operation", name)))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, name string, err error) {
	opAttr := attribute.String("db.operation", name)
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(opAttr))
	if err != nil && storage.IsStorageError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(opAttr))
	}
	span.End()
}

func (s *InstrumentedStore) Insert(ctx context.Context, m *types.Mediation) error {
	ctx, span, t := s.op(ctx, "insert", keyAttrs(m.ID)...)
	err := s.inner.Insert(ctx, m)
	s.done(ctx, span, t, "insert", err)
	return err
}

func (s *InstrumentedStore) Load(ctx context.Context, id types.MediationID) (*types.Mediation, error) {
	ctx, span, t := s.op(ctx, "load", keyAttrs(id)...)
	m, err := s.inner.Load(ctx, id)
	s.done(ctx, span, t, "load", err)
	return m, err
}

func (s *InstrumentedStore) Save(ctx context.Context, m *types.Mediation) error {
	ctx, span, t := s.op(ctx, "save", append(keyAttrs(m.ID), attribute.String("mediator.state", string(m.State)))...)
	err := s.inner.Save(ctx, m)
	s.done(ctx, span, t, "save", err)
	return err
}

func (s *InstrumentedStore) PutPerspective(ctx context.Context, id types.MediationID, userID int64, text string) (bool, error) {
	ctx, span, t := s.op(ctx, "put_perspective", keyAttrs(id)...)
	existed, err := s.inner.PutPerspective(ctx, id, userID, text)
	s.done(ctx, span, t, "put_perspective", err)
	return existed, err
}

func (s *InstrumentedStore) GetPerspective(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	ctx, span, t := s.op(ctx, "get_perspective", keyAttrs(id)...)
	text, err := s.inner.GetPerspective(ctx, id, userID)
	s.done(ctx, span, t, "get_perspective", err)
	return text, err
}

func (s *InstrumentedStore) PutAnswer(ctx context.Context, id types.MediationID, userID int64, text string) error {
	ctx, span, t := s.op(ctx, "put_answer", keyAttrs(id)...)
	err := s.inner.PutAnswer(ctx, id, userID, text)
	s.done(ctx, span, t, "put_answer", err)
	return err
}

func (s *InstrumentedStore) GetAnswer(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	ctx, span, t := s.op(ctx, "get_answer", keyAttrs(id)...)
	text, err := s.inner.GetAnswer(ctx, id, userID)
	s.done(ctx, span, t, "get_answer", err)
	return text, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
