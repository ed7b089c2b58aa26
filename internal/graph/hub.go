package graph

import (
	"context"
	"log"
	"sort"
	"sync"
)

// Subscription is the token returned by On. Off stops delivery and may be
// called any number of times.
type Subscription struct {
	path string
	once sync.Once
	off  func()
}

func newSubscription(path string, off func()) *Subscription {
	return &Subscription{path: path, off: off}
}

// Path is the collection the subscription listens on.
func (s *Subscription) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Off unregisters the listener. Safe on a nil subscription.
func (s *Subscription) Off() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.off != nil {
			s.off()
		}
	})
}

// hub is the in-process listener registry shared by the backends.
type hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Listener
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[uint64]Listener)}
}

func (h *hub) subscribe(path string, l Listener) *Subscription {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[path] == nil {
		h.subs[path] = make(map[uint64]Listener)
	}
	h.subs[path][id] = l
	h.mu.Unlock()

	return newSubscription(path, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[path], id)
		if len(h.subs[path]) == 0 {
			delete(h.subs, path)
		}
	})
}

func (h *hub) hasListeners(path string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[path]) > 0
}

// dispatch calls every listener on path outside the registry lock so a
// listener may itself subscribe, unsubscribe or write.
func (h *hub) dispatch(path, key string, rec Record) {
	h.mu.RLock()
	listeners := make([]Listener, 0, len(h.subs[path]))
	for _, l := range h.subs[path] {
		listeners = append(listeners, l)
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		l.OnRecord(path, key, rec.Clone())
	}
}

// paths lists the collections that currently have listeners.
func (h *hub) paths() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.subs))
	for p := range h.subs {
		out = append(out, p)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// replay reloads every watched collection with load and hands each node to
// its listeners again. Backends call it after their change feed reconnects,
// since writes made while it was down were never announced. Listeners merge
// idempotently, so nodes they already hold are harmless.
func (h *hub) replay(ctx context.Context, load func(ctx context.Context, path string) (map[string]Record, error)) {
	for _, path := range h.paths() {
		if ctx.Err() != nil {
			return
		}
		nodes, err := load(ctx, path)
		if err != nil {
			log.Printf("graph: catch-up of %s after reconnect failed: %v", path, err)
			continue
		}
		for key, rec := range nodes {
			h.dispatch(path, key, rec)
		}
	}
}

func (h *hub) reset() {
	h.mu.Lock()
	h.subs = make(map[string]map[uint64]Listener)
	h.mu.Unlock()
}
