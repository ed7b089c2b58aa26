// Package graph is the boundary to the replicated key/value graph that holds
// the user directory, friend sets and chat channels.
//
// Nodes live in collections addressed by a slash-separated path
// ("usersList", "usersList/0xabc/friends", "chats/0xa_0xb") and are keyed
// inside the collection. Writes merge field by field, last writer wins.
package graph

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrClosed      = errors.New("graph: store closed")
	ErrInvalidPath = errors.New("graph: invalid path")
	ErrInvalidKey  = errors.New("graph: invalid key")
)

// Store is implemented by every backend.
type Store interface {
	// Get reads one node. found is false when the node has never been written.
	Get(ctx context.Context, path, key string) (rec Record, found bool, err error)
	// Put merges partial into the node at path/key, creating it if needed.
	// A nil error is the write acknowledgement.
	Put(ctx context.Context, path, key string, partial Record) error
	// Set inserts rec as a new member of the collection under a fresh key.
	Set(ctx context.Context, path string, rec Record) (key string, err error)
	// Once returns every node currently in the collection.
	Once(ctx context.Context, path string) (map[string]Record, error)
	// On registers l for every future change to a node in the collection.
	// Past nodes are not replayed; pair with Once for catch-up.
	On(path string, l Listener) *Subscription
	Close() error
}

// Listener receives node updates. rec is the full merged node as known to
// the backend and is owned by the listener.
type Listener interface {
	OnRecord(path, key string, rec Record)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(path, key string, rec Record)

func (f ListenerFunc) OnRecord(path, key string, rec Record) { f(path, key, rec) }

// JoinPath builds a collection path from its segments.
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidPath reports whether path can name a collection.
func ValidPath(path string) bool {
	return checkPath(path) == nil
}

func checkPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return ErrInvalidPath
	}
	return nil
}

func checkKey(key string) error {
	if key == "" || strings.Contains(key, "/") {
		return ErrInvalidKey
	}
	return nil
}

func checkNode(path, key string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	return checkKey(key)
}
