package graph

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MemoryStore keeps the graph in process. Listeners run on the writer's
// goroutine after the write is applied.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[string]map[string]Record
	hub    *hub
	closed atomic.Bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]Record),
		hub:   newHub(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, path, key string) (Record, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	if err := checkNode(path, key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[path][key]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *MemoryStore) Put(ctx context.Context, path, key string, partial Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := checkNode(path, key); err != nil {
		return err
	}

	s.mu.Lock()
	if s.nodes[path] == nil {
		s.nodes[path] = make(map[string]Record)
	}
	merged := s.nodes[path][key].Merge(partial)
	s.nodes[path][key] = merged
	s.mu.Unlock()

	s.hub.dispatch(path, key, merged)
	return nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, rec Record) (string, error) {
	key := uuid.NewString()
	if err := s.Put(ctx, path, key, rec); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MemoryStore) Once(ctx context.Context, path string) (map[string]Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.nodes[path]))
	for k, rec := range s.nodes[path] {
		out[k] = rec.Clone()
	}
	return out, nil
}

func (s *MemoryStore) On(path string, l Listener) *Subscription {
	return s.hub.subscribe(path, l)
}

func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.hub.reset()
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}
