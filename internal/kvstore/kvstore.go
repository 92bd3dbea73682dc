// Package kvstore stores collections in Redis as flat key-value trees. Each collection is one hash
// at "<prefix>:<collection>" mapping record id to the JSON record, and every mutation is announced
// on "<prefix>:<collection>:changes". Redis has no query engine here, so subscribers read the whole
// hash and order and limit it themselves.
package kvstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

const updateRetries = 5

var errNoRecord = errors.New("no record with id")

type logger interface {
	Debugf(format string, v ...any)
	Errorf(format string, v ...any)
}

type Collection[T any] struct {
	rdb     redis.UniversalClient
	name    string
	key     string
	channel string
	Logger  logger
}

func NewCollection[T any](rdb redis.UniversalClient, prefix, name string, l logger) *Collection[T] {
	key := prefix + ":" + name
	return &Collection[T]{
		rdb:     rdb,
		name:    name,
		key:     key,
		channel: key + ":changes",
		Logger:  l,
	}
}

// Connect opens a client and pings the server. The client is returned even when the ping fails;
// it dials again on every later command.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, errors.Wrapf(err, "error pinging Redis at %s", addr)
	}
	return rdb, nil
}

func NewBackend(name string, rdb redis.UniversalClient, prefix string, l logger) store.Backend {
	return store.Backend{
		Name:         name,
		Pipelines:    NewCollection[model.StockItem](rdb, prefix, store.CollectionPipelines, l),
		Transactions: NewCollection[model.Transaction](rdb, prefix, store.CollectionTransactions, l),
	}
}

func (c *Collection[T]) Name() string {
	return c.name
}

// Create stores record under a freshly generated id, the equivalent of a push key.
func (c *Collection[T]) Create(ctx context.Context, record T) (string, error) {
	id := uuid.NewString()
	raw, err := store.EncodeRecord(record, id)
	if err != nil {
		return "", store.WriteFailed("create", c.name, "", err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key, id, raw)
		pipe.Publish(ctx, c.channel, id)
		return nil
	})
	if err != nil {
		return "", store.WriteFailed("create", c.name, id, err)
	}
	c.Logger.Debugf("Create: Stored record in %s with id: %s", c.key, id)
	return id, nil
}

// Update merges fields into the stored record and returns the record it replaced. The hash is
// watched so a concurrent writer causes a retry instead of a lost update.
func (c *Collection[T]) Update(ctx context.Context, id string, fields store.Fields) (T, error) {
	var prior T
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, c.key, id).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return errNoRecord
			}
			return err
		}
		var old T
		if err = json.Unmarshal(raw, &old); err != nil {
			return errors.Wrapf(err, "error decoding stored record: %s", raw)
		}
		prior = old
		merged, err := store.MergeFields(raw, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, c.key, id, merged)
			pipe.Publish(ctx, c.channel, id)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < updateRetries; i++ {
		err = c.rdb.Watch(ctx, txf, c.key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		c.Logger.Debugf("Update: Concurrent write on %s while updating id: %s, retrying", c.key, id)
	}
	switch {
	case err == nil:
		return prior, nil
	case errors.Is(err, errNoRecord):
		return prior, store.NotFound("update", c.name, id)
	default:
		return prior, store.WriteFailed("update", c.name, id, err)
	}
}

// Delete removes id. Removing an id that is not there succeeds.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, c.key, id)
		pipe.Publish(ctx, c.channel, id)
		return nil
	})
	if err != nil {
		return store.WriteFailed("delete", c.name, id, err)
	}
	return nil
}

// Subscribe listens on the change channel and re-reads the whole hash on every notification. The
// first snapshot is delivered before Subscribe returns. The subscription ends when ctx is done, on
// Unsubscribe, or when the connection drops, in which case onError is called.
func (c *Collection[T]) Subscribe(ctx context.Context, q store.Query, onSnapshot func([]T), onError func(error)) (store.Unsubscribe, error) {
	pubsub := c.rdb.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, store.SubscriptionFailed(c.name, errors.Wrapf(err, "error subscribing to %s", c.channel))
	}
	records, err := c.snapshot(ctx, q)
	if err != nil {
		_ = pubsub.Close()
		return nil, store.SubscriptionFailed(c.name, err)
	}

	guard := &store.Guard{}
	guard.Deliver(func() { onSnapshot(records) })

	var closeOnce sync.Once
	closePubSub := func() {
		closeOnce.Do(func() {
			if err := pubsub.Close(); err != nil {
				c.Logger.Debugf("Subscribe: Error closing subscription to %s, err: %v", c.channel, err)
			}
		})
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer closePubSub()
		for {
			var snapshot []T
			msg, err := pubsub.ReceiveMessage(subCtx)
			if err == nil {
				c.Logger.Debugf("Subscribe: Change on %s for id: %s", c.key, msg.Payload)
				snapshot, err = c.snapshot(subCtx, q)
			}
			if err != nil {
				if subCtx.Err() != nil || guard.Closed() {
					return
				}
				c.Logger.Errorf("Subscribe: Subscription to %s dropped, err: %v", c.channel, err)
				guard.Deliver(func() {
					if onError != nil {
						onError(store.SubscriptionFailed(c.name, err))
					}
				})
				guard.Close()
				return
			}
			guard.Deliver(func() { onSnapshot(snapshot) })
		}
	}()

	return func() {
		guard.Close()
		cancel()
		closePubSub()
		<-done
	}, nil
}

func (c *Collection[T]) snapshot(ctx context.Context, q store.Query) ([]T, error) {
	all, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %s", c.key)
	}
	raws := make(map[string][]byte, len(all))
	for id, v := range all {
		raws[id] = []byte(v)
	}
	ordered, err := store.OrderRaw(raws, q)
	if err != nil {
		return nil, err
	}
	return store.DecodeRecords[T](ordered)
}
