package graph

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoNodesCollection = "graph_nodes"

type mongoNode struct {
	Path      string    `bson:"path"`
	Key       string    `bson:"key"`
	Data      bson.M    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per node. Change delivery is in-process:
// listeners see writes made through this store only, which fits a single
// relay in front of a standalone mongod.
type MongoStore struct {
	col    *mongo.Collection
	hub    *hub
	closed atomic.Bool
}

// NewMongoStore ensures the node indexes and returns a store on db.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{col: db.Collection(mongoNodesCollection), hub: newHub()}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "path", Value: 1},
				{Key: "key", Value: 1},
			},
			Options: options.Index().SetName("idx_path_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_updated_at"),
		},
	}
	for _, m := range models {
		if _, err := s.col.Indexes().CreateOne(ctx, m); err != nil {
			return errors.Wrap(err, "create graph index")
		}
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, path, key string) (Record, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	if err := checkNode(path, key); err != nil {
		return nil, false, err
	}
	var node mongoNode
	err := s.col.FindOne(ctx, bson.M{"path": path, "key": key}).Decode(&node)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s/%s", path, key)
	}
	return fromBSON(node.Data), true, nil
}

func (s *MongoStore) Put(ctx context.Context, path, key string, partial Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := checkNode(path, key); err != nil {
		return err
	}

	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	for field, v := range partial {
		if strings.ContainsAny(field, ".$") {
			return errors.Errorf("field name %q not storable", field)
		}
		set["data."+field] = v
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var node mongoNode
	err := s.col.FindOneAndUpdate(ctx, bson.M{"path": path, "key": key}, update, opts).Decode(&node)
	if err != nil {
		return errors.Wrapf(err, "put %s/%s", path, key)
	}
	s.hub.dispatch(path, key, fromBSON(node.Data))
	return nil
}

func (s *MongoStore) Set(ctx context.Context, path string, rec Record) (string, error) {
	key := uuid.NewString()
	if err := s.Put(ctx, path, key, rec); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MongoStore) Once(ctx context.Context, path string) (map[string]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	cur, err := s.col.Find(ctx, bson.M{"path": path})
	if err != nil {
		return nil, errors.Wrapf(err, "map %s", path)
	}
	defer cur.Close(ctx)

	out := make(map[string]Record)
	for cur.Next(ctx) {
		var node mongoNode
		if err := cur.Decode(&node); err != nil {
			continue
		}
		out[node.Key] = fromBSON(node.Data)
	}
	return out, errors.Wrap(cur.Err(), "iterate nodes")
}

func (s *MongoStore) On(path string, l Listener) *Subscription {
	return s.hub.subscribe(path, l)
}

// Close drops listeners. The client belongs to the caller.
func (s *MongoStore) Close() error {
	if !s.closed.Swap(true) {
		s.hub.reset()
	}
	return nil
}

func fromBSON(m bson.M) Record {
	rec := make(Record, len(m))
	for k, v := range m {
		rec[k] = v
	}
	return rec
}
