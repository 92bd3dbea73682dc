// Package memstore keeps collections in process memory as JSON records. It satisfies the same
// contract as the networked adapters, including their failure modes, which can be switched on
// at will.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

var ErrInjected = errors.New("injected failure")

type Collection[T any] struct {
	name string

	mu      sync.Mutex
	records map[string][]byte
	seq     int
	version uint64
	subs    map[int]*subscriber[T]
	nextSub int

	writeErr     error
	subscribeErr error
	stall        bool
}

type subscriber[T any] struct {
	q          store.Query
	guard      store.Guard
	seen       uint64
	delivered  bool
	onSnapshot func([]T)
	onError    func(error)
}

func NewCollection[T any](name string) *Collection[T] {
	return &Collection[T]{
		name:    name,
		records: make(map[string][]byte),
		subs:    make(map[int]*subscriber[T]),
	}
}

func (c *Collection[T]) Name() string {
	return c.name
}

func (c *Collection[T]) Subscribe(ctx context.Context, q store.Query, onSnapshot func([]T), onError func(error)) (store.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.SubscriptionFailed(c.name, err)
	}
	c.mu.Lock()
	if c.subscribeErr != nil {
		err := c.subscribeErr
		c.mu.Unlock()
		return nil, store.SubscriptionFailed(c.name, err)
	}
	key := c.nextSub
	c.nextSub++
	s := &subscriber[T]{q: q, onSnapshot: onSnapshot, onError: onError}
	c.subs[key] = s
	version, records := c.copyLocked()
	c.mu.Unlock()

	c.deliver(s, version, records)

	return func() {
		c.mu.Lock()
		delete(c.subs, key)
		c.mu.Unlock()
		s.guard.Close()
	}, nil
}

func (c *Collection[T]) Create(ctx context.Context, record T) (string, error) {
	c.mu.Lock()
	if err := c.failLocked(ctx); err != nil {
		return "", store.WriteFailed("create", c.name, "", err)
	}
	c.seq++
	id := fmt.Sprintf("%s-%d", c.name, c.seq)
	raw, err := store.EncodeRecord(record, id)
	if err != nil {
		c.mu.Unlock()
		return "", store.WriteFailed("create", c.name, "", err)
	}
	c.records[id] = raw
	c.commitLocked()
	return id, nil
}

func (c *Collection[T]) Update(ctx context.Context, id string, fields store.Fields) (T, error) {
	var prior T
	c.mu.Lock()
	if err := c.failLocked(ctx); err != nil {
		return prior, store.WriteFailed("update", c.name, id, err)
	}
	raw, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return prior, store.NotFound("update", c.name, id)
	}
	if err := json.Unmarshal(raw, &prior); err != nil {
		c.mu.Unlock()
		return prior, store.WriteFailed("update", c.name, id, err)
	}
	merged, err := store.MergeFields(raw, fields)
	if err != nil {
		c.mu.Unlock()
		return prior, store.WriteFailed("update", c.name, id, err)
	}
	c.records[id] = merged
	c.commitLocked()
	return prior, nil
}

// Delete of an unknown id reports ErrNotFound, like the document store.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if err := c.failLocked(ctx); err != nil {
		return store.WriteFailed("delete", c.name, id, err)
	}
	if _, ok := c.records[id]; !ok {
		c.mu.Unlock()
		return store.NotFound("delete", c.name, id)
	}
	delete(c.records, id)
	c.commitLocked()
	return nil
}

// List returns the current records ordered and limited by q, bypassing any injected failure.
func (c *Collection[T]) List(q store.Query) ([]T, error) {
	c.mu.Lock()
	_, records := c.copyLocked()
	c.mu.Unlock()
	ordered, err := store.OrderRaw(records, q)
	if err != nil {
		return nil, err
	}
	return store.DecodeRecords[T](ordered)
}

func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Collection[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// FailWrites makes every following create, update and delete fail with err.
func (c *Collection[T]) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// FailSubscribe makes every following Subscribe fail with err.
func (c *Collection[T]) FailSubscribe(err error) {
	c.mu.Lock()
	c.subscribeErr = err
	c.mu.Unlock()
}

// StallWrites makes writes block until their context is done.
func (c *Collection[T]) StallWrites() {
	c.mu.Lock()
	c.stall = true
	c.mu.Unlock()
}

// DropSubscribers ends every live subscription by passing err to its onError.
func (c *Collection[T]) DropSubscribers(err error) {
	c.mu.Lock()
	dropped := make([]*subscriber[T], 0, len(c.subs))
	for key, s := range c.subs {
		dropped = append(dropped, s)
		delete(c.subs, key)
	}
	c.mu.Unlock()

	for _, s := range dropped {
		s.guard.Deliver(func() {
			if s.onError != nil {
				s.onError(store.SubscriptionFailed(c.name, err))
			}
		})
		s.guard.Close()
	}
}

// Heal clears every injected failure.
func (c *Collection[T]) Heal() {
	c.mu.Lock()
	c.writeErr = nil
	c.subscribeErr = nil
	c.stall = false
	c.mu.Unlock()
}

// failLocked is called with c.mu held and releases it when it returns an error.
func (c *Collection[T]) failLocked(ctx context.Context) error {
	if c.stall {
		c.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	return nil
}

// commitLocked bumps the version, releases c.mu and notifies subscribers outside the lock.
func (c *Collection[T]) commitLocked() {
	c.version++
	version, records := c.copyLocked()
	subs := make([]*subscriber[T], 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		c.deliver(s, version, records)
	}
}

func (c *Collection[T]) copyLocked() (uint64, map[string][]byte) {
	records := make(map[string][]byte, len(c.records))
	for id, raw := range c.records {
		records[id] = raw
	}
	return c.version, records
}

// deliver hands s the snapshot at version unless it has already seen a newer one.
func (c *Collection[T]) deliver(s *subscriber[T], version uint64, records map[string][]byte) {
	ordered, err := store.OrderRaw(records, s.q)
	var snapshot []T
	if err == nil {
		snapshot, err = store.DecodeRecords[T](ordered)
	}
	s.guard.Deliver(func() {
		if s.delivered && version <= s.seen {
			return
		}
		s.seen, s.delivered = version, true
		if err != nil {
			if s.onError != nil {
				s.onError(store.SubscriptionFailed(c.name, err))
			}
			return
		}
		s.onSnapshot(snapshot)
	})
}

// Backend is an in-memory pipelines and transactions pair.
type Backend struct {
	Name         string
	Pipelines    *Collection[model.StockItem]
	Transactions *Collection[model.Transaction]
}

func NewBackend(name string) *Backend {
	return &Backend{
		Name:         name,
		Pipelines:    NewCollection[model.StockItem](store.CollectionPipelines),
		Transactions: NewCollection[model.Transaction](store.CollectionTransactions),
	}
}

func (b *Backend) Store() store.Backend {
	return store.Backend{Name: b.Name, Pipelines: b.Pipelines, Transactions: b.Transactions}
}

func (b *Backend) FailWrites(err error) {
	b.Pipelines.FailWrites(err)
	b.Transactions.FailWrites(err)
}

func (b *Backend) FailSubscribe(err error) {
	b.Pipelines.FailSubscribe(err)
	b.Transactions.FailSubscribe(err)
}

func (b *Backend) DropSubscribers(err error) {
	b.Pipelines.DropSubscribers(err)
	b.Transactions.DropSubscribers(err)
}

func (b *Backend) Heal() {
	b.Pipelines.Heal()
	b.Transactions.Heal()
}
