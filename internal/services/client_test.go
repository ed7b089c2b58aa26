package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// inbox collects messages delivered to an open chat.
type inbox struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (b *inbox) add(m models.Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *inbox) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.Text
	}
	return out
}

func newTestClient(t *testing.T, store graph.Store, signer *fakeSigner) *Client {
	t.Helper()
	sessions, err := NewFileSessionStore(t.TempDir(), "default", nil)
	require.NoError(t, err)
	c, err := NewClient(ClientOptions{Store: store, Signer: signer, Sessions: sessions})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitReady(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, c.Gate().Wait(ctx))
}

// runConversation drives the two-user scenario over storeA and storeB,
// which must share state.
func runConversation(t *testing.T, storeA, storeB graph.Store) {
	ctx := context.Background()
	signerA, signerB := newFakeSigner(t), newFakeSigner(t)
	alice := newTestClient(t, storeA, signerA)
	bob := newTestClient(t, storeB, signerB)

	outcome, err := alice.Login(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	outcome, err = bob.Login(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	waitReady(t, alice)
	waitReady(t, bob)

	require.Eventually(t, func() bool {
		_, ok := alice.Directory().FindByUsername("bob")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "alice sees bob in the directory")

	peer, err := alice.ResolvePeer("bob")
	require.NoError(t, err)
	assert.Equal(t, signerB.Address(), peer.Address)

	_, err = alice.AddFriend(ctx, FriendRef{Address: peer.Address, Username: peer.Username})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return alice.Friends().Has(FriendRef{Address: peer.Address})
	}, 2*time.Second, 10*time.Millisecond)

	var aliceBox, bobBox inbox
	_, err = alice.OpenChat(ctx, signerB.Address(), aliceBox.add)
	require.NoError(t, err)
	_, err = bob.OpenChat(ctx, signerA.Address(), bobBox.add)
	require.NoError(t, err)

	_, err = alice.Send(ctx, signerB.Address(), "hi bob")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(bobBox.texts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	_, err = bob.Send(ctx, signerA.Address(), "hi alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(aliceBox.texts()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"hi bob", "hi alice"}, aliceBox.texts())
	require.Eventually(t, func() bool {
		return len(bobBox.texts()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hi bob", "hi alice"}, bobBox.texts())

	// The friend edge is directed: bob did not gain alice.
	assert.False(t, bob.Friends().Has(FriendRef{Address: signerA.Address()}))
}

func TestClient_ConversationOverMemoryStore(t *testing.T) {
	store := graph.NewMemoryStore()
	runConversation(t, store, store)
}

func TestClient_ConversationOverRedis(t *testing.T) {
	s := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	newStore := func() graph.Store {
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		t.Cleanup(func() { client.Close() })
		store, err := graph.NewRedisStoreFromClient(ctx, client)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}
	runConversation(t, newStore(), newStore())
}

func TestClient_LoginUsernameMismatch(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	signer := newFakeSigner(t)

	first := newTestClient(t, store, signer)
	_, err := first.Login(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, first.Logout(ctx))

	again := newTestClient(t, store, signer)
	outcome, err := again.Login(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, outcome)

	other := newTestClient(t, store, signer)
	_, err = other.Login(ctx, "mallory")
	assert.ErrorIs(t, err, apperr.ErrUsernameMismatch)
	_, ok := other.Identity()
	assert.False(t, ok, "no session on mismatch")

	rec, _, err := store.Get(ctx, DirectoryPath, signer.Address())
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.String("username"))
}

func TestClient_LoginWalletFailures(t *testing.T) {
	ctx := context.Background()

	c, err := NewClient(ClientOptions{Store: graph.NewMemoryStore()})
	require.NoError(t, err)
	_, err = c.Login(ctx, "alice")
	assert.ErrorIs(t, err, apperr.ErrNoSigner)

	signer := newFakeSigner(t)
	signer.signErr = apperr.ErrSigningRejected
	store := &countingStore{Store: graph.NewMemoryStore()}
	c = newTestClient(t, store, signer)
	_, err = c.Login(ctx, "alice")
	assert.ErrorIs(t, err, apperr.ErrSigningRejected)
	assert.Equal(t, int32(0), store.writes(), "a rejected signature writes nothing")
}

func TestClient_RestoreSkipsWallet(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	signer := newFakeSigner(t)
	sessions, err := NewFileSessionStore(t.TempDir(), "default", nil)
	require.NoError(t, err)

	c, err := NewClient(ClientOptions{Store: store, Signer: signer, Sessions: sessions})
	require.NoError(t, err)
	_, err = c.Login(ctx, "alice")
	require.NoError(t, err)
	_, err = c.AddFriend(ctx, FriendRef{Address: addrB, Username: "bob"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	snap, err := sessions.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Friends, 1)
	assert.Equal(t, addrB, snap.Friends[0].Address)

	// Signing would fail now, so a successful resume proves no prompt was made.
	signer.signErr = apperr.ErrSigningRejected
	restored, err := NewClient(ClientOptions{Store: store, Signer: signer, Sessions: sessions})
	require.NoError(t, err)
	defer restored.Close()
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ident, ok := restored.Identity()
	require.True(t, ok)
	assert.Equal(t, "alice", ident.Username)
	assert.True(t, restored.Friends().Has(FriendRef{Address: addrB}), "friends seeded from the snapshot")
}

func TestClient_RestoreDiscardsForgedSnapshot(t *testing.T) {
	ctx := context.Background()
	sessions, err := NewFileSessionStore(t.TempDir(), "default", nil)
	require.NoError(t, err)
	require.NoError(t, sessions.Save(ctx, &models.Session{
		Address:   addrA,
		Username:  "alice",
		Signature: "0xdeadbeef",
		Message:   "Login to Decentralized Chat with address " + addrA + " at 2024-01-01T00:00:00.000Z",
	}))

	c, err := NewClient(ClientOptions{Store: graph.NewMemoryStore(), Sessions: sessions})
	require.NoError(t, err)
	ok, err := c.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := sessions.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestClient_LogoutTearsDown(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	signer := newFakeSigner(t)
	sessions, err := NewFileSessionStore(t.TempDir(), "default", nil)
	require.NoError(t, err)
	c, err := NewClient(ClientOptions{Store: store, Signer: signer, Sessions: sessions})
	require.NoError(t, err)

	_, err = c.Login(ctx, "alice")
	require.NoError(t, err)
	waitReady(t, c)

	var box inbox
	_, err = c.OpenChat(ctx, addrB, box.add)
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))

	_, err = store.Set(ctx, ChatPath(ChannelKey(signer.Address(), addrB)), msgRec("late", addrB, 1))
	require.NoError(t, err)
	assert.Empty(t, box.texts(), "no delivery after logout")

	_, err = c.Send(ctx, addrB, "hello")
	assert.ErrorIs(t, err, apperr.ErrNotLoggedIn)
	_, err = c.AddFriend(ctx, FriendRef{Address: addrB})
	assert.ErrorIs(t, err, apperr.ErrNotLoggedIn)

	snap, err := sessions.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "logout forgets the snapshot")
}

func TestClient_SendBlockedWhileGateClosed(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: graph.NewMemoryStore()}
	signer := newFakeSigner(t)
	signer.encWait = make(chan struct{})
	c := newTestClient(t, store, signer)

	_, err := c.Login(ctx, "alice")
	require.NoError(t, err)
	setsBefore := store.sets.Load()

	_, err = c.Send(ctx, addrB, "too early")
	assert.ErrorIs(t, err, apperr.ErrEncryptionUnavailable)
	_, err = c.SendImage(ctx, addrB, "a.png", "image/png", []byte{1})
	assert.ErrorIs(t, err, apperr.ErrEncryptionUnavailable)
	assert.Equal(t, setsBefore, store.sets.Load())

	close(signer.encWait)
	waitReady(t, c)
	m, err := c.SendImage(ctx, addrB, "a.png", "image/png", []byte{1})
	require.NoError(t, err)
	require.NotNil(t, m.Image)
	assert.Equal(t, "data:image/png;base64,AQ==", m.Image.Data)
}

func TestClient_ResolvePeer(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	seedDirectory(t, store)
	c := newTestClient(t, store, newFakeSigner(t))

	_, err := c.ResolvePeer("alice")
	assert.ErrorIs(t, err, apperr.ErrNotLoggedIn)

	_, err = c.Login(ctx, "zed")
	require.NoError(t, err)

	p, err := c.ResolvePeer("BOBBY")
	require.NoError(t, err)
	assert.Equal(t, addrB, p.Address)

	p, err = c.ResolvePeer("0x00000000000000000000000000000000000000DD")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000dd", p.Address)

	_, err = c.ResolvePeer("nobody_here")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}
