package database

import (
	"context"
	"fmt"
	"log"

	"github.com/vanshansh-prajav/Hack36/internal/config"
	"github.com/vanshansh-prajav/Hack36/internal/graph"
)

// OpenGraphStore connects the backend named by cfg.GraphBackend and returns
// a store on it. The returned cleanup closes the store and its connection.
func OpenGraphStore(ctx context.Context, cfg *config.Config) (graph.Store, func(), error) {
	switch cfg.GraphBackend {
	case config.BackendMemory, "":
		log.Println("⚠️  Using in-memory graph store; data is lost on restart")
		store := graph.NewMemoryStore()
		return store, func() { store.Close() }, nil

	case config.BackendRedis:
		log.Printf("Connecting to Redis...")
		if err := ConnectRedis(ctx, cfg.RedisURI); err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store, err := graph.NewRedisStoreFromClient(ctx, RedisClient)
		if err != nil {
			DisconnectRedis()
			return nil, nil, err
		}
		return store, func() {
			store.Close()
			DisconnectRedis()
		}, nil

	case config.BackendPostgres:
		log.Printf("Connecting to PostgreSQL...")
		if err := ConnectPostgres(ctx, cfg.PostgresURI); err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := graph.NewPostgresStore(ctx, PostgresDB, cfg.PostgresURI)
		if err != nil {
			DisconnectPostgres()
			return nil, nil, err
		}
		return store, func() {
			store.Close()
			DisconnectPostgres()
		}, nil

	case config.BackendMongo:
		log.Printf("Connecting to MongoDB at %s", MaskURI(cfg.MongoURI))
		if err := Connect(ctx, cfg.MongoURI); err != nil {
			return nil, nil, fmt.Errorf("connect mongodb: %w", err)
		}
		store, err := graph.NewMongoStore(ctx, DB)
		if err != nil {
			Disconnect()
			return nil, nil, err
		}
		return store, func() {
			store.Close()
			Disconnect()
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown GRAPH_BACKEND %q", cfg.GraphBackend)
}
