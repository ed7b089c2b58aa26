package services

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// Timeline merges message records that arrive in any order, any number of
// times, into one list ordered by timestamp. Equal timestamps keep arrival
// order. The first copy of an id wins.
type Timeline struct {
	self string

	mu       sync.Mutex
	seen     map[string]struct{}
	messages []models.Message
}

func NewTimeline(self string) *Timeline {
	return &Timeline{
		self: normalizeParty(self),
		seen: make(map[string]struct{}),
	}
}

// Ingest validates and merges one record. It reports whether the message
// was new. Malformed records are logged and dropped.
func (t *Timeline) Ingest(id string, rec graph.Record) (models.Message, bool) {
	m, err := models.DecodeMessage(id, rec)
	if err != nil {
		log.Printf("messages: dropping record: %v", err)
		return models.Message{}, false
	}
	m.IsMine = t.self != "" && m.Sender == t.self

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[id]; dup {
		return models.Message{}, false
	}
	t.seen[id] = struct{}{}

	// Insert after every message with a timestamp <= m's.
	i := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].Timestamp > m.Timestamp
	})
	t.messages = append(t.messages, models.Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = m
	return m, true
}

// Messages returns the ordered messages.
func (t *Timeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Message(nil), t.messages...)
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// ChannelSubscription is one open conversation view.
type ChannelSubscription struct {
	key       string
	timeline  *Timeline
	onMessage func(models.Message)
	sub       *graph.Subscription
	closed    atomic.Bool
}

func (s *ChannelSubscription) ChannelKey() string {
	return s.key
}

// Messages is the rendered, ordered conversation.
func (s *ChannelSubscription) Messages() []models.Message {
	return s.timeline.Messages()
}

// Unsubscribe stops delivery. Calling it again is a no-op.
func (s *ChannelSubscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.sub.Off()
}

func (s *ChannelSubscription) handle(key string, rec graph.Record) {
	if s.closed.Load() {
		return
	}
	m, added := s.timeline.Ingest(key, rec)
	if added && s.onMessage != nil && !s.closed.Load() {
		s.onMessage(m)
	}
}

// Payload is what a user sends: text, an image, or both.
type Payload struct {
	Text  string
	Image *models.ImageAttachment
}

// MessageStream reads and writes the channels of one local identity.
type MessageStream struct {
	store graph.Store
	self  string
	gate  *EncryptionGate
	now   func() time.Time
}

func NewMessageStream(store graph.Store, self string, gate *EncryptionGate) *MessageStream {
	return &MessageStream{
		store: store,
		self:  normalizeParty(self),
		gate:  gate,
		now:   time.Now,
	}
}

// Subscribe opens the channel: live updates first, then a catch-up read,
// both through the same merge. onMessage runs once per new message.
func (s *MessageStream) Subscribe(ctx context.Context, channelKey string, onMessage func(models.Message)) (*ChannelSubscription, error) {
	cs := &ChannelSubscription{
		key:       channelKey,
		timeline:  NewTimeline(s.self),
		onMessage: onMessage,
	}
	path := ChatPath(channelKey)
	cs.sub = s.store.On(path, graph.ListenerFunc(func(_, key string, rec graph.Record) {
		cs.handle(key, rec)
	}))

	nodes, err := s.store.Once(ctx, path)
	if err != nil {
		cs.Unsubscribe()
		return nil, err
	}

	type node struct {
		key string
		rec graph.Record
	}
	batch := make([]node, 0, len(nodes))
	for k, rec := range nodes {
		batch = append(batch, node{k, rec})
	}
	// Map order is random; give the catch-up batch a stable arrival order.
	sort.Slice(batch, func(i, j int) bool {
		ti, _ := batch[i].rec.Int64("timestamp")
		tj, _ := batch[j].rec.Int64("timestamp")
		if ti != tj {
			return ti < tj
		}
		return batch[i].key < batch[j].key
	})
	for _, n := range batch {
		cs.handle(n.key, n.rec)
	}
	return cs, nil
}

// Send writes a message into the channel shared with remote. It refuses to
// send until the encryption gate is ready and never retries.
func (s *MessageStream) Send(ctx context.Context, remote string, p Payload) (models.Message, error) {
	if s.gate == nil || !s.gate.Ready() {
		return models.Message{}, apperr.ErrEncryptionUnavailable
	}
	peer, err := wallet.NormalizeAddress(remote)
	if err != nil {
		return models.Message{}, apperr.ErrInvalidAddress
	}

	text := strings.TrimSpace(p.Text)
	if text == "" && p.Image != nil {
		text = "Shared an image: " + p.Image.Name
	}
	if text == "" {
		return models.Message{}, apperr.ErrEmptyMessage
	}

	m := models.Message{
		Text:      text,
		Sender:    s.self,
		Timestamp: s.now().UnixMilli(),
		Image:     p.Image,
	}
	id, err := s.store.Set(ctx, ChatPath(ChannelKey(s.self, peer)), m.Record())
	if err != nil {
		return models.Message{}, apperr.ErrMessageWriteFailed(err)
	}
	m.ID = id
	m.IsMine = true
	return m, nil
}
