package store

import (
	"context"
	"time"

	"github.com/osa030/tapedeck/internal/infra/metrics"
)

// Instrumented records prometheus metrics for every operation of the wrapped store.
type Instrumented struct {
	next    Store
	backend string
}

var _ Store = (*Instrumented)(nil)

// Instrument wraps s; backend is used as the metric label.
func Instrument(s Store, backend string) *Instrumented {
	return &Instrumented{next: s, backend: backend}
}

func (i *Instrumented) record(op string, coll Collection, start time.Time, err error) {
	status := metrics.Status(err)
	if IsNotFound(err) {
		status = "not_found"
	}
	metrics.StoreOperationsTotal.WithLabelValues(i.backend, op, string(coll), status).Inc()
	metrics.StoreOperationDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

// Put forwards to the wrapped store.
func (i *Instrumented) Put(ctx context.Context, coll Collection, key string, value []byte) error {
	start := time.Now()
	err := i.next.Put(ctx, coll, key, value)
	i.record("put", coll, start, err)
	return err
}

// Get forwards to the wrapped store.
func (i *Instrumented) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	start := time.Now()
	v, err := i.next.Get(ctx, coll, key)
	i.record("get", coll, start, err)
	return v, err
}

// GetAll forwards to the wrapped store.
func (i *Instrumented) GetAll(ctx context.Context, coll Collection) ([]Entry, error) {
	start := time.Now()
	entries, err := i.next.GetAll(ctx, coll)
	i.record("get_all", coll, start, err)
	return entries, err
}

// Close closes the wrapped store.
func (i *Instrumented) Close() error {
	return i.next.Close()
}
