// Package store persists the relay route table.
//
// Two backends implement Store: FileStore keeps the table in a JSON file and
// KVStore keeps it under one key of a NATS JetStream Key-Value bucket. Both use
// the route table's JSON encoding. Load returns ErrNotFound when nothing has been
// saved yet, which callers treat as "use the bootstrap table".
package store

import (
	"context"
	"time"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/metric"
	"github.com/c360/udprelay/relay"
)

// ErrNotFound is returned by Load when no table has been persisted.
var ErrNotFound = errors.New("route table not found")

// Backend names.
const (
	BackendFile = "file"
	BackendNATS = "nats"
)

// Store loads and saves the route table.
type Store interface {
	Load(ctx context.Context) (*relay.RouteTable, error)
	Save(ctx context.Context, table *relay.RouteTable) error
}

// Instrumented wraps a Store and records each operation in core metrics.
type Instrumented struct {
	next    Store
	backend string
	metrics *metric.Metrics
}

// WithMetrics wraps s. A nil metrics returns s unchanged.
func WithMetrics(s Store, backend string, metrics *metric.Metrics) Store {
	if metrics == nil {
		return s
	}
	return &Instrumented{next: s, backend: backend, metrics: metrics}
}

// Load delegates to the wrapped store. ErrNotFound is recorded as success.
func (s *Instrumented) Load(ctx context.Context) (*relay.RouteTable, error) {
	table, err := s.next.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		s.metrics.RecordStoreOperation(s.backend, "load", nil)
	} else {
		s.metrics.RecordStoreOperation(s.backend, "load", err)
	}
	return table, err
}

// Save delegates to the wrapped store.
func (s *Instrumented) Save(ctx context.Context, table *relay.RouteTable) error {
	err := s.next.Save(ctx, table)
	s.metrics.RecordStoreOperation(s.backend, "save", err)
	return err
}

func validateTable(table *relay.RouteTable, component, method string) error {
	if table == nil {
		return errors.WrapInvalid(errors.Validationf("route table is nil"), component, method, "table validation")
	}
	return nil
}

// defaultOpTimeout bounds a single store operation when the caller's context has no deadline.
const defaultOpTimeout = 5 * time.Second

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
