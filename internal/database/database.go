package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

const serverSelectionTimeout = 5 * time.Second

type Database struct {
	*mongo.Database
}

type logger interface {
	Debugf(format string, v ...any)
	Errorf(format string, v ...any)
}

// ConnectDB returns a client for dbURI. The driver connects lazily, so an unreachable server only
// shows up on the first operation, after serverSelectionTimeout.
func ConnectDB(ctx context.Context, dbURI string) (*mongo.Client, error) {
	c, err := mongo.Connect(ctx, options.Client().
		ApplyURI(dbURI).
		SetServerSelectionTimeout(serverSelectionTimeout))
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", dbURI)
	}
	return c, nil
}

// EnsureIndexes creates the indexes the snapshot queries sort on.
func (db Database) EnsureIndexes(ctx context.Context) error {
	_, err := db.Collection(store.CollectionPipelines).Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys: bson.D{{Key: model.FieldType, Value: 1}},
		},
	)
	if err != nil {
		return errors.Wrap(err, "error creating pipelines index")
	}

	_, err = db.Collection(store.CollectionTransactions).Indexes().CreateMany(
		ctx,
		[]mongo.IndexModel{
			{
				Keys: bson.D{{Key: model.FieldDate, Value: -1}},
			},
			{
				Keys: bson.D{{Key: "pipelineId", Value: 1}},
			},
		},
	)
	if err != nil {
		return errors.Wrap(err, "error creating transactions indexes")
	}
	return nil
}

func (db Database) Backend(name string, l logger) store.Backend {
	return store.Backend{
		Name:         name,
		Pipelines:    NewCollection[model.StockItem](db.Collection(store.CollectionPipelines), l),
		Transactions: NewCollection[model.Transaction](db.Collection(store.CollectionTransactions), l),
	}
}
