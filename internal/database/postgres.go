package database

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres opens the pool used by the Postgres graph backend. Tables
// are created by the graph store itself; its change feed opens a separate
// listener connection on the same URI.
func ConnectPostgres(ctx context.Context, postgresURI string) error {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return err
	}

	PostgresDB = db
	log.Printf("✅ Connected to PostgreSQL at %s", MaskURI(postgresURI))
	return nil
}

func DisconnectPostgres() error {
	if PostgresDB == nil {
		return nil
	}
	err := PostgresDB.Close()
	PostgresDB = nil
	return err
}
