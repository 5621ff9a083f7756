package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// CollectionAPI defines the collection operations the harness drives, allowing for testing
type CollectionAPI interface {
	InsertOne(ctx context.Context, document interface{}) error
	BulkWrite(ctx context.Context, models []mongo.WriteModel, ordered bool) (*mongo.BulkWriteResult, error)
	// FindOne returns nil, nil when no document matches the filter.
	FindOne(ctx context.Context, filter interface{}) (bson.Raw, error)
	CreateIndex(ctx context.Context, keys bson.D, name string) error
	Drop(ctx context.Context) error
	CountDocuments(ctx context.Context, filter interface{}) (int64, error)
}

// DatabaseAPI hands out collections of one database on one endpoint
type DatabaseAPI interface {
	Collection(name string) CollectionAPI
}

// MongoDBCollection is a wrapper around mongo.Collection to implement CollectionAPI
type MongoDBCollection struct {
	*mongo.Collection
}

func (c *MongoDBCollection) InsertOne(ctx context.Context, document interface{}) error {
	_, err := c.Collection.InsertOne(ctx, document)
	return err
}

func (c *MongoDBCollection) BulkWrite(ctx context.Context, models []mongo.WriteModel, ordered bool) (*mongo.BulkWriteResult, error) {
	return c.Collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(ordered))
}

func (c *MongoDBCollection) FindOne(ctx context.Context, filter interface{}) (bson.Raw, error) {
	var doc bson.Raw
	err := c.Collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return doc, err
}

func (c *MongoDBCollection) CreateIndex(ctx context.Context, keys bson.D, name string) error {
	_, err := c.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(name),
	})
	return err
}

func (c *MongoDBCollection) Drop(ctx context.Context) error {
	return c.Collection.Drop(ctx)
}

func (c *MongoDBCollection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	return c.Collection.CountDocuments(ctx, filter)
}

// MongoDBDatabase is a wrapper around mongo.Database to implement DatabaseAPI
type MongoDBDatabase struct {
	*mongo.Database
}

func (d *MongoDBDatabase) Collection(name string) CollectionAPI {
	opts := options.Collection().SetWriteConcern(writeconcern.W1())
	return &MongoDBCollection{d.Database.Collection(name, opts)}
}

const connectTimeout = 10 * time.Second

// connectMongo opens a client for uri and verifies the endpoint answers.
// The returned func disconnects the client.
func connectMongo(ctx context.Context, uri, dbName string) (DatabaseAPI, func(), error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to MongoDB")
	}
	disconnect := func() {
		_ = client.Disconnect(context.Background())
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		disconnect()
		return nil, nil, errors.Wrap(err, "failed to ping MongoDB")
	}
	return &MongoDBDatabase{client.Database(dbName)}, disconnect, nil
}

// withOpTimeout bounds a single gateway call. A zero timeout leaves ctx unbounded.
func withOpTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
