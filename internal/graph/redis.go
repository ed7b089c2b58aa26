package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisNodePrefix    = "graph:node:"
	redisMembersPrefix = "graph:members:"
	redisEventsPrefix  = "graph:events:"
)

// redisEvent is the payload published on graph:events:<path>.
type redisEvent struct {
	Path string          `json:"path"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// RedisStore keeps each node in a hash whose fields hold JSON-encoded values,
// each collection's keys in a set, and fans changes out over pub/sub so every
// process sharing the Redis instance sees every write.
type RedisStore struct {
	client     *redis.Client
	ownsClient bool
	hub        *hub

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ready   chan struct{}
	readyMu sync.Once
	closed  atomic.Bool
}

// NewRedisStore connects to redisURI with the pool settings used across the
// relay and starts the event subscriber.
func NewRedisStore(ctx context.Context, redisURI string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, err
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	s, err := NewRedisStoreFromClient(ctx, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. It blocks until the
// event subscription is confirmed so no write after it returns is missed.
func NewRedisStoreFromClient(ctx context.Context, client *redis.Client) (*RedisStore, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	s := &RedisStore{
		client: client,
		hub:    newHub(),
		cancel: cancel,
		ready:  make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSubscriber(runCtx)
	}()

	select {
	case <-s.ready:
		return s, nil
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("waiting for graph event subscription: %w", ctx.Err())
	}
}

func (s *RedisStore) runSubscriber(ctx context.Context) {
	backoff := time.Second
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := s.client.PSubscribe(ctx, redisEventsPrefix+"*")
			defer pubsub.Close()

			if _, err := pubsub.Receive(ctx); err != nil {
				if ctx.Err() == nil {
					log.Printf("graph: redis subscribe failed: %v", err)
					sleepCtx(ctx, backoff)
					backoff = nextBackoff(backoff)
				}
				return
			}
			s.readyMu.Do(func() { close(s.ready) })
			backoff = time.Second
			if !first {
				s.catchUp(ctx)
			}
			first = false

			// go-redis re-subscribes by itself after a dropped connection and
			// reports it with a fresh *redis.Subscription.
			ch := pubsub.ChannelWithSubscriptions()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						log.Println("graph: redis event channel closed, resubscribing")
						sleepCtx(ctx, backoff)
						backoff = nextBackoff(backoff)
						return
					}
					switch m := msg.(type) {
					case *redis.Subscription:
						if m.Kind == "psubscribe" {
							log.Println("graph: redis event feed reconnected, catching up")
							s.catchUp(ctx)
						}
					case *redis.Message:
						s.handleEvent(m.Payload)
					}
				}
			}
		}()
	}
}

// catchUp reloads every watched collection; events published while the
// subscription was down were never received.
func (s *RedisStore) catchUp(ctx context.Context) {
	replayCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s.hub.replay(replayCtx, s.Once)
}

func (s *RedisStore) handleEvent(payload string) {
	var evt redisEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		log.Printf("graph: failed to unmarshal event: %v", err)
		return
	}
	if !s.hub.hasListeners(evt.Path) {
		return
	}
	rec, err := DecodeJSON(evt.Data)
	if err != nil {
		log.Printf("graph: failed to decode event record %s/%s: %v", evt.Path, evt.Key, err)
		return
	}
	s.hub.dispatch(evt.Path, evt.Key, rec)
}

func (s *RedisStore) Get(ctx context.Context, path, key string) (Record, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	if err := checkNode(path, key); err != nil {
		return nil, false, err
	}
	fields, err := s.client.HGetAll(ctx, nodeKey(path, key)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	rec, err := decodeHash(fields)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) Put(ctx context.Context, path, key string, partial Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := checkNode(path, key); err != nil {
		return err
	}

	values := make([]any, 0, len(partial)*2)
	for field, v := range partial {
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", field, err)
		}
		values = append(values, field, string(enc))
	}

	var merged *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.HSet(ctx, nodeKey(path, key), values...)
		}
		pipe.SAdd(ctx, membersKey(path), key)
		merged = pipe.HGetAll(ctx, nodeKey(path, key))
		return nil
	})
	if err != nil {
		return err
	}

	rec, err := decodeHash(merged.Val())
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	evt, err := json.Marshal(redisEvent{Path: path, Key: key, Data: data})
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, redisEventsPrefix+path, evt).Err()
}

func (s *RedisStore) Set(ctx context.Context, path string, rec Record) (string, error) {
	key := uuid.NewString()
	if err := s.Put(ctx, path, key, rec); err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) Once(ctx context.Context, path string) (map[string]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	keys, err := s.client.SMembers(ctx, membersKey(path)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]Record{}, nil
	}

	cmds := make(map[string]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			cmds[k] = pipe.HGetAll(ctx, nodeKey(path, k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(keys))
	for k, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		rec, err := decodeHash(cmd.Val())
		if err != nil {
			log.Printf("graph: skipping undecodable node %s/%s: %v", path, k, err)
			continue
		}
		out[k] = rec
	}
	return out, nil
}

func (s *RedisStore) On(path string, l Listener) *Subscription {
	return s.hub.subscribe(path, l)
}

// Client exposes the underlying connection for components that share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.hub.reset()
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

// nodeKey length-prefixes the path so a ':' inside path or key cannot make
// two nodes share a hash.
func nodeKey(path, key string) string {
	return redisNodePrefix + strconv.Itoa(len(path)) + ":" + path + ":" + key
}

func membersKey(path string) string {
	return redisMembersPrefix + path
}

func decodeHash(fields map[string]string) (Record, error) {
	rec := make(Record, len(fields))
	for field, raw := range fields {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		rec[field] = v
	}
	return rec, nil
}

func decodeValue(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
