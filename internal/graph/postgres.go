package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const postgresEventsChannel = "graph_events"

// postgresNotice is the pg_notify payload. Only the address travels; the
// record is re-read so payloads stay under the NOTIFY size limit.
type postgresNotice struct {
	Path string `json:"path"`
	Key  string `json:"key"`
}

// PostgresStore keeps nodes as JSONB rows and uses LISTEN/NOTIFY as the
// change feed.
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener
	hub      *hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// InitGraphTables creates the node table if it does not exist.
func InitGraphTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			path TEXT NOT NULL,
			key TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (path, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_nodes_path ON graph_nodes(path)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_nodes_updated_at ON graph_nodes(updated_at)`,
	}
	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "init graph tables")
		}
	}
	return nil
}

// NewPostgresStore uses db for reads and writes and opens a dedicated
// listener connection on connStr for the change feed.
func NewPostgresStore(ctx context.Context, db *sql.DB, connStr string) (*PostgresStore, error) {
	if err := InitGraphTables(ctx, db); err != nil {
		return nil, err
	}

	listener := pq.NewListener(connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("graph: postgres listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(postgresEventsChannel); err != nil {
		listener.Close()
		return nil, errors.Wrap(err, "listen "+postgresEventsChannel)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		db:       db,
		listener: listener,
		hub:      newHub(),
		cancel:   cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runListener(runCtx)
	}()
	return s, nil
}

func (s *PostgresStore) runListener(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect: notifications sent in the gap are gone,
			// so reload what the listeners watch.
			if n == nil {
				s.catchUp(ctx)
				continue
			}
			s.handleNotice(ctx, n.Extra)
		case <-time.After(90 * time.Second):
			if err := s.listener.Ping(); err != nil {
				log.Printf("graph: postgres listener ping failed: %v", err)
			}
		}
	}
}

func (s *PostgresStore) catchUp(ctx context.Context) {
	replayCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s.hub.replay(replayCtx, s.Once)
}

func (s *PostgresStore) handleNotice(ctx context.Context, payload string) {
	var notice postgresNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		log.Printf("graph: bad notify payload: %v", err)
		return
	}
	if !s.hub.hasListeners(notice.Path) {
		return
	}
	getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, found, err := s.Get(getCtx, notice.Path, notice.Key)
	if err != nil {
		log.Printf("graph: reload %s/%s after notify: %v", notice.Path, notice.Key, err)
		return
	}
	if found {
		s.hub.dispatch(notice.Path, notice.Key, rec)
	}
}

func (s *PostgresStore) Get(ctx context.Context, path, key string) (Record, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	if err := checkNode(path, key); err != nil {
		return nil, false, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM graph_nodes WHERE path = $1 AND key = $2`, path, key,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s/%s", path, key)
	}
	rec, err := DecodeJSON(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decode %s/%s", path, key)
	}
	return rec, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, path, key string, partial Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := checkNode(path, key); err != nil {
		return err
	}
	if partial == nil {
		partial = Record{}
	}
	data, err := json.Marshal(partial)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	notice, err := json.Marshal(postgresNotice{Path: path, Key: key})
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin put")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO graph_nodes (path, key, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (path, key) DO UPDATE
		SET data = graph_nodes.data || EXCLUDED.data, updated_at = NOW()
	`, path, key, string(data))
	if err != nil {
		return errors.Wrapf(err, "put %s/%s", path, key)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, postgresEventsChannel, string(notice)); err != nil {
		return errors.Wrap(err, "notify")
	}
	return errors.Wrap(tx.Commit(), "commit put")
}

func (s *PostgresStore) Set(ctx context.Context, path string, rec Record) (string, error) {
	key := uuid.NewString()
	if err := s.Put(ctx, path, key, rec); err != nil {
		return "", err
	}
	return key, nil
}

func (s *PostgresStore) Once(ctx context.Context, path string) (map[string]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, data FROM graph_nodes WHERE path = $1`, path)
	if err != nil {
		return nil, errors.Wrapf(err, "map %s", path)
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, errors.Wrap(err, "scan node")
		}
		rec, err := DecodeJSON(data)
		if err != nil {
			log.Printf("graph: skipping undecodable node %s/%s: %v", path, key, err)
			continue
		}
		out[key] = rec
	}
	return out, errors.Wrap(rows.Err(), "iterate nodes")
}

func (s *PostgresStore) On(path string, l Listener) *Subscription {
	return s.hub.subscribe(path, l)
}

// Close stops the change feed. The *sql.DB belongs to the caller.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.hub.reset()
	return s.listener.Close()
}
