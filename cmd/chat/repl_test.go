package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshansh-prajav/Hack36/internal/config"
	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/services"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
)

// syncBuffer is a bytes.Buffer safe for the feed goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestREPL(t *testing.T, store graph.Store) (*repl, *syncBuffer, *wallet.KeystoreSigner) {
	t.Helper()
	signer, err := wallet.GenerateKeystoreSigner()
	require.NoError(t, err)
	client, err := services.NewClient(services.ClientOptions{Store: store, Signer: signer})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	out := &syncBuffer{}
	return newREPL(client, out, 0), out, signer
}

func waitFor(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), want)
	}, 2*time.Second, 10*time.Millisecond, "waiting for %q in:\n%s", want, out.String())
}

func TestREPLConversation(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	alice, aliceOut, _ := newTestREPL(t, store)
	bob, bobOut, _ := newTestREPL(t, store)

	alice.exec(ctx, "send too early")
	assert.Contains(t, aliceOut.String(), "error:")

	alice.exec(ctx, "login alice")
	waitFor(t, aliceOut, "welcome alice, account created")
	bob.exec(ctx, "login bob")
	waitFor(t, bobOut, "welcome bob")

	require.Eventually(t, func() bool {
		g := alice.client.Gate()
		return g != nil && g.Ready()
	}, 2*time.Second, 10*time.Millisecond)

	alice.exec(ctx, "search BO")
	waitFor(t, aliceOut, "bob")

	alice.exec(ctx, "add bob")
	waitFor(t, aliceOut, "added bob")
	alice.exec(ctx, "add bob")
	waitFor(t, aliceOut, "already")

	alice.exec(ctx, "friends")
	bob.exec(ctx, "open alice")
	alice.exec(ctx, "open bob")
	waitFor(t, aliceOut, "-- chat with bob --")

	alice.exec(ctx, "send hello bob")
	waitFor(t, bobOut, "alice: hello bob")
	waitFor(t, aliceOut, "you: hello bob")

	dir := t.TempDir()
	img := filepath.Join(dir, "dot.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n0000"), 0o600))
	alice.exec(ctx, "image "+img)
	waitFor(t, bobOut, "[image dot.png]")

	alice.exec(ctx, "whoami")
	waitFor(t, aliceOut, "encryption ready")

	alice.exec(ctx, "close")
	alice.exec(ctx, "send nobody listening")
	waitFor(t, aliceOut, "no chat open")

	alice.exec(ctx, "logout")
	waitFor(t, aliceOut, "signed out")
	alice.exec(ctx, "whoami")
	waitFor(t, aliceOut, "not logged in")

	assert.True(t, alice.exec(ctx, "quit"))
}

func TestREPLUsageErrors(t *testing.T) {
	ctx := context.Background()
	r, out, _ := newTestREPL(t, graph.NewMemoryStore())

	assert.False(t, r.exec(ctx, "login"))
	assert.False(t, r.exec(ctx, "frobnicate"))
	assert.False(t, r.exec(ctx, "   "))
	assert.Contains(t, out.String(), "usage: login <username>")
	assert.Contains(t, out.String(), `unknown command "frobnicate"`)

	r.exec(ctx, "login a")
	assert.Contains(t, out.String(), "at least 3 characters")
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0xabcd…7890", shortAddress("0xabcdef1234567890"))
	assert.Equal(t, "0xabc", shortAddress("0xabc"))
}

func TestLoadSignerCreatesKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.key")
	cfg := &config.Config{WalletKeyFile: path}

	first, err := loadSigner(cfg)
	require.NoError(t, err)
	second, err := loadSigner(cfg)
	require.NoError(t, err)
	assert.Equal(t, first.Address(), second.Address())

	_, err = loadSigner(&config.Config{})
	assert.Error(t, err)
}
