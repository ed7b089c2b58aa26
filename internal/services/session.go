package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/pkg/utils"
)

const (
	// SessionDuration is how long a Redis-held snapshot survives without a login.
	SessionDuration = 7 * 24 * time.Hour
	// SessionKeyPrefix is the Redis key prefix for snapshots
	SessionKeyPrefix = "chat_session:"
)

// SessionStore persists the local session snapshot outside the graph.
// Load returns (nil, nil) when there is no usable snapshot, including when
// the stored one cannot be parsed.
type SessionStore interface {
	Load(ctx context.Context) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Clear(ctx context.Context) error
}

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func checkSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// decodeSnapshot treats any unreadable snapshot as absent.
func decodeSnapshot(data []byte, source string) *models.Session {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("session: discarding unreadable snapshot in %s: %v", source, err)
		return nil
	}
	if !s.Valid() {
		log.Printf("session: discarding incomplete snapshot in %s", source)
		return nil
	}
	return &s
}

// FileSessionStore keeps one JSON file per session id. With a sealer the
// file content is AES-GCM encrypted.
type FileSessionStore struct {
	path   string
	sealer *utils.Sealer
}

func NewFileSessionStore(dir, sessionID string, sealer *utils.Sealer) (*FileSessionStore, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileSessionStore{
		path:   filepath.Join(dir, sessionID+".json"),
		sealer: sealer,
	}, nil
}

func (f *FileSessionStore) Load(ctx context.Context) (*models.Session, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.sealer != nil {
		plain, err := f.sealer.Open(string(data))
		if err != nil {
			log.Printf("session: discarding snapshot %s that does not decrypt: %v", f.path, err)
			return nil, nil
		}
		data = plain
	}
	return decodeSnapshot(data, f.path), nil
}

func (f *FileSessionStore) Save(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if f.sealer != nil {
		sealed, err := f.sealer.Seal(data)
		if err != nil {
			return err
		}
		data = []byte(sealed)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileSessionStore) Clear(ctx context.Context) error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RedisSessionStore keeps the snapshot in Redis with a sliding 7-day TTL,
// so several terminals on one account can share it.
type RedisSessionStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, sessionID string) (*RedisSessionStore, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	return &RedisSessionStore{
		client: client,
		key:    SessionKeyPrefix + sessionID,
		ttl:    SessionDuration,
	}, nil
}

func (r *RedisSessionStore) Load(ctx context.Context) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := decodeSnapshot(data, r.key)
	if s != nil {
		// Refresh the sliding window on every resume.
		r.client.Expire(ctx, r.key, r.ttl)
	}
	return s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, r.ttl).Err()
}

func (r *RedisSessionStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
