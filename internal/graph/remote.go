package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// RemoteStore talks to a relay peer: HTTP for reads and writes, one
// websocket per On for the live feed.
type RemoteStore struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewRemoteStore points at a relay such as "http://localhost:4000".
func NewRemoteStore(relayURL string) (*RemoteStore, error) {
	u, err := url.Parse(strings.TrimRight(relayURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http or https, got %q", u.Scheme)
	}
	return &RemoteStore{
		baseURL: u,
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		closeCh: make(chan struct{}),
	}, nil
}

func (s *RemoteStore) Get(ctx context.Context, path, key string) (Record, bool, error) {
	if err := checkNode(path, key); err != nil {
		return nil, false, err
	}
	q := url.Values{"path": {path}, "key": {key}}
	var resp NodeResponse
	if err := s.do(ctx, http.MethodGet, "/graph/node?"+q.Encode(), nil, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Data, true, nil
}

func (s *RemoteStore) Put(ctx context.Context, path, key string, partial Record) error {
	if err := checkNode(path, key); err != nil {
		return err
	}
	var resp NodeResponse
	return s.do(ctx, http.MethodPut, "/graph/node", NodeRequest{Path: path, Key: key, Data: partial}, &resp)
}

func (s *RemoteStore) Set(ctx context.Context, path string, rec Record) (string, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}
	var resp SetResponse
	if err := s.do(ctx, http.MethodPost, "/graph/set", NodeRequest{Path: path, Data: rec}, &resp); err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (s *RemoteStore) Once(ctx context.Context, path string) (map[string]Record, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	var resp MapResponse
	if err := s.do(ctx, http.MethodGet, "/graph/map?"+url.Values{"path": {path}}.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Nodes == nil {
		resp.Nodes = map[string]Record{}
	}
	return resp.Nodes, nil
}

// On dials the relay before returning so the feed is live by the time the
// caller runs its catch-up read. If the dial fails it keeps retrying in the
// background until Off.
func (s *RemoteStore) On(path string, l Listener) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := s.dial(ctx, path)
	if err != nil {
		log.Printf("graph: relay feed %s: %v", path, err)
	}
	go s.runFeed(ctx, path, conn, l)

	return newSubscription(path, cancel)
}

func (s *RemoteStore) runFeed(ctx context.Context, path string, conn *websocket.Conn, l Listener) {
	backoff := time.Second
	for {
		if conn == nil {
			sleepCtx(ctx, backoff)
			backoff = nextBackoff(backoff)
			if ctx.Err() != nil {
				return
			}
			var err error
			if conn, err = s.dial(ctx, path); err != nil {
				log.Printf("graph: relay feed %s: %v", path, err)
				conn = nil
				continue
			}
			// The relay only streams changes made after this dial.
			s.catchUp(ctx, path, l)
		}
		backoff = time.Second
		s.readFeed(ctx, conn, l)
		conn.Close()
		conn = nil
		if ctx.Err() != nil {
			return
		}
	}
}

// catchUp hands every node of path to l. Run after a re-dial, it recovers
// writes made while the feed was down; listeners drop what they already hold.
func (s *RemoteStore) catchUp(ctx context.Context, path string, l Listener) {
	onceCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	nodes, err := s.Once(onceCtx, path)
	if err != nil {
		log.Printf("graph: catch-up of %s after reconnect failed: %v", path, err)
		return
	}
	for key, rec := range nodes {
		if ctx.Err() != nil {
			return
		}
		l.OnRecord(path, key, rec)
	}
}

func (s *RemoteStore) readFeed(ctx context.Context, conn *websocket.Conn, l Listener) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var evt Event
		if err := dec.Decode(&evt); err != nil {
			continue
		}
		switch evt.Type {
		case EventTypeRecord:
			if ctx.Err() != nil {
				return
			}
			l.OnRecord(evt.Path, evt.Key, evt.Data)
		case EventTypeError:
			log.Printf("graph: relay feed error: %s", evt.Error)
		}
	}
}

func (s *RemoteStore) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u := *s.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/graph"
	u.RawQuery = url.Values{"path": {path}}.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *RemoteStore) do(ctx context.Context, method, endpoint string, body, out any) error {
	if s.closed.Load() {
		return ErrClosed
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL.String()+endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &failure)
		if failure.Message == "" {
			failure.Message = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("relay %s %s: %d %s", method, endpoint, resp.StatusCode, failure.Message)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// Close cancels every live feed. Later calls fail with ErrClosed.
func (s *RemoteStore) Close() error {
	if !s.closed.Swap(true) {
		close(s.closeCh)
	}
	return nil
}
