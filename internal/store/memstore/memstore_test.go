package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

type recorder[T any] struct {
	mu        sync.Mutex
	snapshots [][]T
	errs      []error
}

func (r *recorder[T]) onSnapshot(records []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, records)
}

func (r *recorder[T]) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder[T]) last() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestCollectionCRUDAndSnapshots(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[model.StockItem](store.CollectionPipelines)
	rec := &recorder[model.StockItem]{}

	unsubscribe, err := c.Subscribe(ctx, store.Query{OrderBy: model.FieldQuantity}, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsubscribe()
	require.Equal(t, 1, rec.count())
	assert.Empty(t, rec.last())

	id, err := c.Create(ctx, model.StockItem{Type: "Steel Pipes", Quantity: 150})
	require.NoError(t, err)
	assert.Equal(t, "pipelines-1", id)
	_, err = c.Create(ctx, model.StockItem{Type: "PVC Pipes", Quantity: 20})
	require.NoError(t, err)

	snapshot := rec.last()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "PVC Pipes", snapshot[0].Type)
	assert.Equal(t, id, snapshot[1].ID)

	prior, err := c.Update(ctx, id, store.Fields{model.FieldQuantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 150, prior.Quantity)
	assert.Equal(t, id, prior.ID)
	snapshot = rec.last()
	require.Len(t, snapshot, 2)
	assert.Equal(t, 3, snapshot[0].Quantity)
	assert.Equal(t, "Steel Pipes", snapshot[0].Type)

	require.NoError(t, c.Delete(ctx, id))
	assert.Len(t, rec.last(), 1)
	assert.Empty(t, rec.errs)
}

func TestCollectionNotFound(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[model.StockItem](store.CollectionPipelines)

	_, err := c.Update(ctx, "missing", store.Fields{model.FieldQuantity: 1})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = c.Delete(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestCollectionInjectedFailures(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[model.Transaction](store.CollectionTransactions)

	c.FailWrites(ErrInjected)
	_, err := c.Create(ctx, model.Transaction{Quantity: 1})
	assert.True(t, errors.Is(err, store.ErrWrite))
	assert.True(t, errors.Is(err, ErrInjected))
	assert.Zero(t, c.Len())

	c.FailSubscribe(ErrInjected)
	_, err = c.Subscribe(ctx, store.Query{}, func([]model.Transaction) {}, func(error) {})
	assert.True(t, errors.Is(err, store.ErrSubscription))

	c.Heal()
	_, err = c.Create(ctx, model.Transaction{Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestCollectionStallWritesHonoursContext(t *testing.T) {
	c := NewCollection[model.Transaction](store.CollectionTransactions)
	c.StallWrites()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Create(ctx, model.Transaction{Quantity: 1})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, c.Len())
}

func TestDropSubscribers(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[model.StockItem](store.CollectionPipelines)
	rec := &recorder[model.StockItem]{}

	_, err := c.Subscribe(ctx, store.Query{}, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	require.Equal(t, 1, c.Subscribers())

	c.DropSubscribers(ErrInjected)
	assert.Zero(t, c.Subscribers())
	require.Len(t, rec.errs, 1)
	assert.True(t, errors.Is(rec.errs[0], store.ErrSubscription))

	_, err = c.Create(ctx, model.StockItem{Type: "Copper Pipes"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count())
}

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[model.StockItem](store.CollectionPipelines)
	rec := &recorder[model.StockItem]{}

	unsubscribe, err := c.Subscribe(ctx, store.Query{}, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	unsubscribe()

	_, err = c.Create(ctx, model.StockItem{Type: "Galvanized Pipes"})
	require.NoError(t, err)
	c.DropSubscribers(ErrInjected)

	assert.Equal(t, 1, rec.count())
	assert.Empty(t, rec.errs)
	assert.Zero(t, c.Subscribers())
}

func TestBackendFaults(t *testing.T) {
	b := NewBackend("memory")
	sb := b.Store()
	assert.Equal(t, "memory", sb.Name)
	assert.Equal(t, store.CollectionPipelines, sb.Pipelines.Name())
	assert.Equal(t, store.CollectionTransactions, sb.Transactions.Name())

	b.FailWrites(ErrInjected)
	_, err := sb.Pipelines.Create(context.Background(), model.StockItem{})
	assert.Error(t, err)
	_, err = sb.Transactions.Create(context.Background(), model.Transaction{})
	assert.Error(t, err)

	b.Heal()
	_, err = sb.Transactions.Create(context.Background(), model.Transaction{})
	assert.NoError(t, err)
}
