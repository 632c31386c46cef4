package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BartekS5/moviesync/pkg/database"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 10 * time.Second

// checkpointDoc is the single MongoDB document holding the checkpoint.
// Value carries the JSON encoding, not a BSON sub-document, so every backend
// stores byte-identical payloads.
type checkpointDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStorage keeps the checkpoint under one key in a MongoDB collection.
type MongoStorage struct {
	coll   *mongo.Collection
	key    string
	client *mongo.Client // set only when the storage owns the connection
}

var _ Storage = (*MongoStorage)(nil)

// NewMongoStorage uses an existing collection; Close leaves the client open.
func NewMongoStorage(coll *mongo.Collection, key string) *MongoStorage {
	return &MongoStorage{coll: coll, key: key}
}

// OpenMongoStorage connects to uri and owns the resulting client.
func OpenMongoStorage(ctx context.Context, uri, db, collection, key string) (*MongoStorage, error) {
	client, err := database.ConnectMongo(ctx, uri)
	if err != nil {
		return nil, err
	}
	s := NewMongoStorage(client.Database(db).Collection(collection), key)
	s.client = client
	return s, nil
}

func (s *MongoStorage) Save(ctx context.Context, cp Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	doc := checkpointDoc{Key: s.key, Value: string(data), UpdatedAt: time.Now().UTC()}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": s.key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save checkpoint %q to mongo: %w", s.key, err)
	}
	return nil
}

func (s *MongoStorage) Retrieve(ctx context.Context) (Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc checkpointDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": s.key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %q from mongo: %w", s.key, err)
	}
	return decode([]byte(doc.Value))
}

func (s *MongoStorage) CleanUp(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": s.key}); err != nil {
		return fmt.Errorf("clean up checkpoint %q in mongo: %w", s.key, err)
	}
	return nil
}

func (s *MongoStorage) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
