package coordinator

import (
	"context"

	"pipestock/internal/model"
	"pipestock/internal/store"
)

// Selector picks one collection out of a backend.
type Selector[T any] func(b store.Backend) store.Collection[T]

func Pipelines(b store.Backend) store.Collection[model.StockItem] {
	return b.Pipelines
}

func Transactions(b store.Backend) store.Collection[model.Transaction] {
	return b.Transactions
}

func Create[T any](ctx context.Context, c *Coordinator, sel Selector[T], record T) (string, store.Backend, error) {
	var id string
	served, err := c.Do(ctx, "create "+sel(c.primary).Name(), func(ctx context.Context, b store.Backend) error {
		var err error
		id, err = sel(b).Create(ctx, record)
		return err
	})
	if err != nil {
		return "", served, err
	}
	return id, served, nil
}

// Update merges fields into id on whichever backend accepts it and returns the record as that
// backend held it before the merge.
func Update[T any](ctx context.Context, c *Coordinator, sel Selector[T], id string, fields store.Fields) (T, store.Backend, error) {
	var prior T
	served, err := c.Do(ctx, "update "+sel(c.primary).Name(), func(ctx context.Context, b store.Backend) error {
		var err error
		prior, err = sel(b).Update(ctx, id, fields)
		return err
	})
	return prior, served, err
}

func Delete[T any](ctx context.Context, c *Coordinator, sel Selector[T], id string) (store.Backend, error) {
	return c.Do(ctx, "delete "+sel(c.primary).Name(), func(ctx context.Context, b store.Backend) error {
		return sel(b).Delete(ctx, id)
	})
}

// CreateOn inserts record into b only.
func CreateOn[T any](ctx context.Context, c *Coordinator, b store.Backend, sel Selector[T], record T) (string, error) {
	var id string
	err := c.On(ctx, b, "create "+sel(b).Name(), func(ctx context.Context, b store.Backend) error {
		var err error
		id, err = sel(b).Create(ctx, record)
		return err
	})
	return id, err
}
