package storage

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metrics counts remote store operations by outcome.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the store metrics on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_store_operations_total",
				Help: "Remote content store calls by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "content_store_operation_duration_seconds",
				Help:    "Latency of remote content store calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
	if err := reg.Register(m.operations); err != nil {
		return nil, err
	}
	if err := reg.Register(m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

type instrumented struct {
	next    Store
	metrics *Metrics
	tracer  trace.Tracer
}

// Instrument wraps s so every call is traced and counted.
func Instrument(s Store, m *Metrics) Store {
	return &instrumented{next: s, metrics: m, tracer: otel.Tracer("gitblog/storage")}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (i *instrumented) observe(ctx context.Context, op, path string, fn func(ctx context.Context) error) {
	ctx, span := i.tracer.Start(ctx, "store."+op, trace.WithAttributes(attribute.String("store.path", path)))
	start := time.Now()
	err := fn(ctx)
	i.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	i.metrics.operations.WithLabelValues(op, outcome(err)).Inc()
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (i *instrumented) Get(ctx context.Context, path string) (f *File, err error) {
	i.observe(ctx, "get", path, func(ctx context.Context) error {
		f, err = i.next.Get(ctx, path)
		return err
	})
	return f, err
}

func (i *instrumented) Put(ctx context.Context, path string, content []byte, message, sha string) (newSHA string, err error) {
	i.observe(ctx, "put", path, func(ctx context.Context) error {
		newSHA, err = i.next.Put(ctx, path, content, message, sha)
		return err
	})
	return newSHA, err
}

func (i *instrumented) Delete(ctx context.Context, path, sha, message string) (err error) {
	i.observe(ctx, "delete", path, func(ctx context.Context) error {
		err = i.next.Delete(ctx, path, sha, message)
		return err
	})
	return err
}

func (i *instrumented) List(ctx context.Context, dir string) (entries []Entry, err error) {
	i.observe(ctx, "list", dir, func(ctx context.Context) error {
		entries, err = i.next.List(ctx, dir)
		return err
	})
	return entries, err
}

func (i *instrumented) URL(path string) string {
	return i.next.URL(path)
}

func (i *instrumented) PathFromURL(rawURL string) (string, bool) {
	return i.next.PathFromURL(rawURL)
}
