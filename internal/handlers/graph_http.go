package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
)

// maxNodeBodyBytes bounds a write body; inline images are up to 5 MiB
// before base64.
const maxNodeBodyBytes = 8 << 20

const graphRequestTimeout = 5 * time.Second

var (
	graphStoreMu sync.RWMutex
	graphStore   graph.Store
)

// SetGraphStore installs the store the relay serves.
func SetGraphStore(store graph.Store) {
	graphStoreMu.Lock()
	graphStore = store
	graphStoreMu.Unlock()
}

func currentGraphStore() graph.Store {
	graphStoreMu.RLock()
	defer graphStoreMu.RUnlock()
	return graphStore
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// writeStoreError maps a store error to a status code.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, graph.ErrInvalidPath):
		writeFailure(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, graph.ErrInvalidKey):
		writeFailure(w, http.StatusBadRequest, "invalid key")
	case errors.Is(err, graph.ErrClosed):
		writeFailure(w, http.StatusServiceUnavailable, "graph store is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		writeFailure(w, http.StatusGatewayTimeout, "graph store timed out")
	default:
		log.Printf("graph: %s failed: %v", op, err)
		writeFailure(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func requireStore(w http.ResponseWriter) (graph.Store, bool) {
	store := currentGraphStore()
	if store == nil {
		writeFailure(w, http.StatusServiceUnavailable, "graph store not initialized")
		return nil, false
	}
	return store, true
}

func decodeNodeRequest(w http.ResponseWriter, r *http.Request) (graph.NodeRequest, bool) {
	var req graph.NodeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNodeBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		}
		return req, false
	}
	if req.Data == nil {
		req.Data = graph.Record{}
	}
	return req, true
}

// GetNode returns one node.
// Query params:
//   path (required)
//   key  (required)
func GetNode(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), graphRequestTimeout)
	defer cancel()

	rec, found, err := store.Get(ctx, r.URL.Query().Get("path"), r.URL.Query().Get("key"))
	if err != nil {
		writeStoreError(w, "read node", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.NodeResponse{Success: true, Found: found, Data: rec})
}

// PutNode merges the body's data into path/key.
func PutNode(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w)
	if !ok {
		return
	}
	req, ok := decodeNodeRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), graphRequestTimeout)
	defer cancel()

	if err := store.Put(ctx, req.Path, req.Key, req.Data); err != nil {
		writeStoreError(w, "write node", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.NodeResponse{Success: true, Found: true})
}

// SetNode inserts the body's data under a fresh key and returns the key.
func SetNode(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w)
	if !ok {
		return
	}
	req, ok := decodeNodeRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), graphRequestTimeout)
	defer cancel()

	key, err := store.Set(ctx, req.Path, req.Data)
	if err != nil {
		writeStoreError(w, "insert node", err)
		return
	}
	writeJSON(w, http.StatusCreated, graph.SetResponse{Success: true, Key: key})
}

// GetMap returns every node in a collection.
// Query params:
//   path (required)
func GetMap(w http.ResponseWriter, r *http.Request) {
	store, ok := requireStore(w)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), graphRequestTimeout)
	defer cancel()

	nodes, err := store.Once(ctx, r.URL.Query().Get("path"))
	if err != nil {
		writeStoreError(w, "read collection", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.MapResponse{Success: true, Nodes: nodes})
}
