package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

func TestEncryptionGate_PublishesKey(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	signer := newFakeSigner(t)
	signer.encWait = make(chan struct{})

	gate := NewEncryptionGate(signer, store)
	gate.Start(ctx, signer.Address())
	assert.False(t, gate.Ready(), "not ready while the wallet prompt is open")

	close(signer.encWait)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.True(t, gate.Wait(waitCtx))

	want, err := signer.KeystoreSigner.RequestEncryptionPublicKey(ctx, signer.Address())
	require.NoError(t, err)
	assert.Equal(t, want, gate.PublicKey())

	rec, found, err := store.Get(ctx, DirectoryPath, signer.Address())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, rec.String("encryptionPublicKey"))
}

func TestEncryptionGate_FailsClosedWithoutRetry(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: graph.NewMemoryStore()}
	signer := newFakeSigner(t)
	signer.encErr = apperr.ErrSigningRejected

	gate := NewEncryptionGate(signer, store)
	gate.Start(ctx, signer.Address())
	gate.Start(ctx, signer.Address())

	assert.False(t, gate.Wait(ctx))
	assert.ErrorIs(t, gate.Err(), apperr.ErrSigningRejected)
	assert.Equal(t, int32(0), store.puts.Load())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, gate.Ready())
}

func TestEncryptionGate_NoSigner(t *testing.T) {
	gate := NewEncryptionGate(nil, graph.NewMemoryStore())
	gate.Start(context.Background(), addrA)
	assert.False(t, gate.Wait(context.Background()))
	assert.ErrorIs(t, gate.Err(), apperr.ErrNoSigner)
}

func TestEncryptionGate_WaitHonoursContext(t *testing.T) {
	gate := NewEncryptionGate(newFakeSigner(t), graph.NewMemoryStore())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, gate.Wait(ctx), "never started")
}
