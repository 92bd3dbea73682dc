// Package store defines the contract every backing store adapter satisfies and the errors
// they report. A Collection is one named set of records in one backend.
package store

import (
	"context"

	"pipestock/internal/model"
)

const (
	CollectionPipelines    = "pipelines"
	CollectionTransactions = "transactions"
)

// Fields is a partial record keyed by stored field name, merged into an existing record on Update.
type Fields map[string]any

// Query narrows a subscription. Backends without server side ordering apply it to each snapshot.
type Query struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// Unsubscribe stops a subscription. Once it returns no further callback runs. It must not be
// called from inside one of the subscription's own callbacks.
type Unsubscribe func()

type Collection[T any] interface {
	Name() string
	// Subscribe delivers the full current record set to onSnapshot on every change. An error is
	// returned if the listener cannot be established; onError fires if it is dropped later, after
	// which no more snapshots arrive.
	Subscribe(ctx context.Context, q Query, onSnapshot func([]T), onError func(error)) (Unsubscribe, error)
	// Create inserts record and returns the identifier the store assigned.
	Create(ctx context.Context, record T) (string, error)
	// Update merges fields into the record with id and returns the record as it was before the
	// merge, failing with ErrNotFound if there is none.
	Update(ctx context.Context, id string, fields Fields) (T, error)
	Delete(ctx context.Context, id string) error
}

// Backend is one backing store: its name and the two collections the application uses.
type Backend struct {
	Name         string
	Pipelines    Collection[model.StockItem]
	Transactions Collection[model.Transaction]
}
