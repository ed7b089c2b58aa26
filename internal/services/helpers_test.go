package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
)

// countingStore wraps a store, counts calls and can fail writes.
type countingStore struct {
	graph.Store
	setErr error
	putErr error

	gets atomic.Int32
	puts atomic.Int32
	sets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, path, key string) (graph.Record, bool, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, path, key)
}

func (s *countingStore) Put(ctx context.Context, path, key string, partial graph.Record) error {
	s.puts.Add(1)
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, path, key, partial)
}

func (s *countingStore) Set(ctx context.Context, path string, rec graph.Record) (string, error) {
	s.sets.Add(1)
	if s.setErr != nil {
		return "", s.setErr
	}
	return s.Store.Set(ctx, path, rec)
}

func (s *countingStore) writes() int32 {
	return s.puts.Load() + s.sets.Load()
}

// fakeSigner is a real keystore signer whose prompts can be made to fail.
type fakeSigner struct {
	*wallet.KeystoreSigner
	signErr error
	encErr  error
	encWait chan struct{}
}

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	ks, err := wallet.GenerateKeystoreSigner()
	require.NoError(t, err)
	return &fakeSigner{KeystoreSigner: ks}
}

func (f *fakeSigner) SignMessage(ctx context.Context, text string) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return f.KeystoreSigner.SignMessage(ctx, text)
}

func (f *fakeSigner) RequestEncryptionPublicKey(ctx context.Context, address string) (string, error) {
	if f.encWait != nil {
		select {
		case <-f.encWait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.encErr != nil {
		return "", f.encErr
	}
	return f.KeystoreSigner.RequestEncryptionPublicKey(ctx, address)
}

func readyGate(t *testing.T, store graph.Store, signer wallet.Signer, address string) *EncryptionGate {
	t.Helper()
	gate := NewEncryptionGate(signer, store)
	gate.Start(context.Background(), address)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, gate.Wait(ctx))
	return gate
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

const (
	addrA = "0x00000000000000000000000000000000000000aa"
	addrB = "0x00000000000000000000000000000000000000bb"
	addrC = "0x00000000000000000000000000000000000000cc"
)
