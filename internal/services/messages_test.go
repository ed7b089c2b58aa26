package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

func msgRec(text, sender string, ts int64) graph.Record {
	return graph.Record{"text": text, "sender": sender, "timestamp": ts}
}

func timestamps(msgs []models.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Timestamp
	}
	return out
}

func TestTimeline_OrdersByTimestamp(t *testing.T) {
	tl := NewTimeline(addrA)
	tl.Ingest("m3", msgRec("c", addrB, 300))
	tl.Ingest("m1", msgRec("a", addrB, 100))
	tl.Ingest("m2", msgRec("b", addrA, 200))

	msgs := tl.Messages()
	assert.Equal(t, []int64{100, 200, 300}, timestamps(msgs))
	assert.True(t, msgs[1].IsMine)
	assert.False(t, msgs[0].IsMine)
}

func TestTimeline_TiesKeepArrivalOrder(t *testing.T) {
	tl := NewTimeline(addrA)
	tl.Ingest("z", msgRec("first", addrB, 100))
	tl.Ingest("a", msgRec("second", addrB, 100))
	tl.Ingest("m", msgRec("early", addrB, 50))
	tl.Ingest("b", msgRec("third", addrB, 100))

	var texts []string
	for _, m := range tl.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"early", "first", "second", "third"}, texts)
}

func TestTimeline_FirstSeenWins(t *testing.T) {
	tl := NewTimeline(addrA)
	_, added := tl.Ingest("m1", msgRec("original", addrB, 100))
	require.True(t, added)
	_, added = tl.Ingest("m1", msgRec("rewritten", addrB, 50))
	assert.False(t, added)

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "original", msgs[0].Text)

	// Same content under a new id is a distinct message.
	_, added = tl.Ingest("m2", msgRec("original", addrB, 100))
	assert.True(t, added)
	assert.Equal(t, 2, tl.Len())
}

func TestTimeline_DropsMalformed(t *testing.T) {
	tl := NewTimeline(addrA)
	tl.Ingest("m1", graph.Record{"sender": addrB, "timestamp": 1})
	tl.Ingest("m2", graph.Record{"text": "hi", "timestamp": 1})
	tl.Ingest("m3", graph.Record{"text": "hi", "sender": addrB})
	tl.Ingest("m4", msgRec("ok", addrB, 1))
	assert.Equal(t, 1, tl.Len())

	// A dropped partial does not block the full record under the same id.
	_, added := tl.Ingest("m1", msgRec("complete", addrB, 2))
	assert.True(t, added)
}

func TestMessageStream_CatchUpThenLive(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	key := ChannelKey(addrA, addrB)
	path := ChatPath(key)

	_, err := store.Set(ctx, path, msgRec("later", addrB, 300))
	require.NoError(t, err)
	_, err = store.Set(ctx, path, msgRec("earlier", addrA, 100))
	require.NoError(t, err)
	_, err = store.Set(ctx, path, graph.Record{"text": "partial"})
	require.NoError(t, err)

	var mu sync.Mutex
	var delivered []string
	stream := NewMessageStream(store, addrA, nil)
	cs, err := stream.Subscribe(ctx, key, func(m models.Message) {
		mu.Lock()
		delivered = append(delivered, m.Text)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cs.Unsubscribe()

	_, err = store.Set(ctx, path, msgRec("middle", addrB, 200))
	require.NoError(t, err)

	assert.Equal(t, []int64{100, 200, 300}, timestamps(cs.Messages()))
	mu.Lock()
	assert.Equal(t, []string{"earlier", "later", "middle"}, delivered)
	mu.Unlock()
}

func TestMessageStream_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	key := ChannelKey(addrA, addrB)

	calls := 0
	cs, err := NewMessageStream(store, addrA, nil).Subscribe(ctx, key, func(models.Message) { calls++ })
	require.NoError(t, err)

	_, err = store.Set(ctx, ChatPath(key), msgRec("one", addrB, 1))
	require.NoError(t, err)
	cs.Unsubscribe()
	cs.Unsubscribe()
	_, err = store.Set(ctx, ChatPath(key), msgRec("two", addrB, 2))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Len(t, cs.Messages(), 1)
}

func TestMessageStream_SendRequiresReadyGate(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: graph.NewMemoryStore()}

	_, err := NewMessageStream(store, addrA, nil).Send(ctx, addrB, Payload{Text: "hi"})
	assert.ErrorIs(t, err, apperr.ErrEncryptionUnavailable)

	signer := newFakeSigner(t)
	signer.encErr = errors.New("user rejected")
	closed := NewEncryptionGate(signer, store)
	closed.Start(ctx, signer.Address())
	assert.False(t, closed.Wait(ctx))

	_, err = NewMessageStream(store, signer.Address(), closed).Send(ctx, addrB, Payload{Text: "hi"})
	assert.ErrorIs(t, err, apperr.ErrEncryptionUnavailable)
	assert.Equal(t, int32(0), store.sets.Load(), "nothing is queued or written")
}

func TestMessageStream_Send(t *testing.T) {
	ctx := context.Background()
	mem := graph.NewMemoryStore()
	signer := newFakeSigner(t)
	self := signer.Address()
	gate := readyGate(t, mem, signer, self)

	stream := NewMessageStream(mem, self, gate)
	stream.now = fixedClock(1712345678901)

	m, err := stream.Send(ctx, addrB, Payload{Text: "  hello  "})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, self, m.Sender)
	assert.True(t, m.IsMine)

	rec, found, err := mem.Get(ctx, ChatPath(ChannelKey(addrB, self)), m.ID)
	require.NoError(t, err)
	require.True(t, found)
	ts, _ := rec.Int64("timestamp")
	assert.Equal(t, int64(1712345678901), ts)

	_, err = stream.Send(ctx, addrB, Payload{Text: "   "})
	assert.ErrorIs(t, err, apperr.ErrEmptyMessage)

	img := &models.ImageAttachment{Name: "cat.png", Type: "image/png", Size: 3, Data: "data:image/png;base64,AAAA"}
	m, err = stream.Send(ctx, addrB, Payload{Image: img})
	require.NoError(t, err)
	assert.Equal(t, "Shared an image: cat.png", m.Text)
}

func TestMessageStream_SendWriteFailureNotRetried(t *testing.T) {
	ctx := context.Background()
	mem := graph.NewMemoryStore()
	signer := newFakeSigner(t)
	gate := readyGate(t, mem, signer, signer.Address())

	store := &countingStore{Store: mem, setErr: errors.New("offline")}
	_, err := NewMessageStream(store, signer.Address(), gate).Send(ctx, addrB, Payload{Text: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindWrite))
	assert.Equal(t, int32(1), store.sets.Load())
}
