package database

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"pipestock/internal/store"
)

var errStreamClosed = errors.New("change stream closed")

// Collection adapts one MongoDB collection. Records are identified by the hex form of their ObjectID.
type Collection[T any] struct {
	coll   *mongo.Collection
	Logger logger
}

func NewCollection[T any](coll *mongo.Collection, l logger) *Collection[T] {
	return &Collection[T]{coll: coll, Logger: l}
}

func (c *Collection[T]) Name() string {
	return c.coll.Name()
}

func (c *Collection[T]) Create(ctx context.Context, record T) (string, error) {
	r, err := c.coll.InsertOne(ctx, record)
	if err != nil {
		return "", store.WriteFailed("create", c.Name(), "", errors.Wrapf(err, "error inserting record: %+v", record))
	}
	objID, ok := r.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", store.WriteFailed("create", c.Name(), "", errors.Errorf("unexpected inserted id: %v", r.InsertedID))
	}
	return objID.Hex(), nil
}

// Update applies fields with $set and returns the document as it was before.
func (c *Collection[T]) Update(ctx context.Context, id string, fields store.Fields) (T, error) {
	var prior T
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return prior, store.NotFound("update", c.Name(), id)
	}
	set := bson.M{}
	for k, v := range fields {
		if k == "id" || k == "_id" {
			continue
		}
		set[k] = v
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	err = c.coll.FindOneAndUpdate(ctx, bson.M{"_id": objID}, bson.M{"$set": set}, opts).Decode(&prior)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return prior, store.NotFound("update", c.Name(), id)
	}
	if err != nil {
		return prior, store.WriteFailed("update", c.Name(), id, errors.Wrapf(err, "error updating fields: %+v", fields))
	}
	return prior, nil
}

// Delete of an id that matches nothing reports ErrNotFound.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.NotFound("delete", c.Name(), id)
	}
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": objID})
	if err != nil {
		return store.WriteFailed("delete", c.Name(), id, err)
	}
	if res.DeletedCount == 0 {
		return store.NotFound("delete", c.Name(), id)
	}
	return nil
}

// Subscribe opens a change stream on the collection and re-runs the query on every event. Change
// streams need a replica set, so against a standalone server Subscribe fails straight away.
func (c *Collection[T]) Subscribe(ctx context.Context, q store.Query, onSnapshot func([]T), onError func(error)) (store.Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(ctx)
	stream, err := c.coll.Watch(subCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, store.SubscriptionFailed(c.Name(), errors.Wrap(err, "error opening change stream"))
	}
	records, err := c.find(subCtx, q)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, store.SubscriptionFailed(c.Name(), err)
	}

	guard := &store.Guard{}
	guard.Deliver(func() { onSnapshot(records) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if err := stream.Close(context.Background()); err != nil {
				c.Logger.Debugf("Subscribe: Error closing change stream on %s, err: %v", c.Name(), err)
			}
		}()
		for stream.Next(subCtx) {
			c.Logger.Debugf("Subscribe: Change on %s, resume token: %s", c.Name(), stream.ResumeToken())
			snapshot, err := c.find(subCtx, q)
			if err != nil {
				c.drop(subCtx, guard, onError, err)
				return
			}
			guard.Deliver(func() { onSnapshot(snapshot) })
		}
		err := stream.Err()
		if err == nil {
			err = errStreamClosed
		}
		c.drop(subCtx, guard, onError, err)
	}()

	return func() {
		guard.Close()
		cancel()
		<-done
	}, nil
}

func (c *Collection[T]) drop(ctx context.Context, guard *store.Guard, onError func(error), err error) {
	if ctx.Err() != nil || guard.Closed() {
		return
	}
	c.Logger.Errorf("Subscribe: Change stream on %s dropped, err: %v", c.Name(), err)
	guard.Deliver(func() {
		if onError != nil {
			onError(store.SubscriptionFailed(c.Name(), err))
		}
	})
	guard.Close()
}

func (c *Collection[T]) find(ctx context.Context, q store.Query) ([]T, error) {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := c.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "error finding records in %s", c.Name())
	}
	records := make([]T, 0)
	if err = cur.All(ctx, &records); err != nil {
		return nil, errors.Wrapf(err, "error decoding records in %s", c.Name())
	}
	return records, nil
}
