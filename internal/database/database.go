package database

import (
	"context"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultMongoDatabase = "chat"

var Client *mongo.Client
var DB *mongo.Database

// Connect opens Client and selects DB from the URI path.
func Connect(ctx context.Context, mongoURI string) error {
	// Use longer timeout for Atlas connections
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	log.Printf("Attempting to connect to MongoDB...")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return err
	}

	Client = client
	DB = client.Database(mongoDatabaseName(mongoURI))

	log.Println("✅ Connected to MongoDB")
	return nil
}

// mongoDatabaseName takes the database from mongodb://host/<name>?opts,
// falling back to "chat".
func mongoDatabaseName(mongoURI string) string {
	parts := strings.Split(mongoURI, "/")
	if len(parts) > 3 {
		if name := strings.Split(parts[len(parts)-1], "?")[0]; name != "" {
			return name
		}
	}
	return defaultMongoDatabase
}

func Disconnect() error {
	if Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Client.Disconnect(ctx)
	Client, DB = nil, nil
	return err
}

// MaskURI hides the password of a connection string for logging.
func MaskURI(uri string) string {
	scheme := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if scheme == -1 || at < scheme+3 {
		return uri
	}
	userinfo := uri[scheme+3 : at]
	colon := strings.Index(userinfo, ":")
	if colon == -1 {
		return uri
	}
	return uri[:scheme+3] + userinfo[:colon+1] + "***" + uri[at:]
}
