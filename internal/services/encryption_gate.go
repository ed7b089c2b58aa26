package services

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// EncryptionGate obtains the local encryption public key once per session
// and publishes it to the directory. Sending stays disabled unless that
// succeeds; a failed attempt is final.
type EncryptionGate struct {
	signer wallet.Signer
	store  graph.Store

	once  sync.Once
	done  chan struct{}
	ready atomic.Bool

	mu        sync.RWMutex
	publicKey string
	err       error
}

func NewEncryptionGate(signer wallet.Signer, store graph.Store) *EncryptionGate {
	return &EncryptionGate{
		signer: signer,
		store:  store,
		done:   make(chan struct{}),
	}
}

// Start requests the key in the background. Only the first call has effect.
func (g *EncryptionGate) Start(ctx context.Context, address string) {
	g.once.Do(func() {
		go g.run(ctx, normalizeParty(address))
	})
}

func (g *EncryptionGate) run(ctx context.Context, address string) {
	defer close(g.done)

	if g.signer == nil {
		g.fail(address, apperr.ErrNoSigner)
		return
	}
	key, err := g.signer.RequestEncryptionPublicKey(ctx, address)
	if err != nil {
		g.fail(address, err)
		return
	}
	if err := g.store.Put(ctx, DirectoryPath, address, graph.Record{"encryptionPublicKey": key}); err != nil {
		g.fail(address, err)
		return
	}

	g.mu.Lock()
	g.publicKey = key
	g.mu.Unlock()
	g.ready.Store(true)
	log.Printf("encryption: public key published for %s", address)
}

func (g *EncryptionGate) fail(address string, err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
	log.Printf("encryption: unavailable for %s, sending disabled: %v", address, err)
}

// Ready reports whether messages may be sent.
func (g *EncryptionGate) Ready() bool {
	return g.ready.Load()
}

// Wait blocks until the key request has finished or ctx ends, then
// reports Ready.
func (g *EncryptionGate) Wait(ctx context.Context) bool {
	select {
	case <-g.done:
	case <-ctx.Done():
	}
	return g.Ready()
}

func (g *EncryptionGate) PublicKey() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.publicKey
}

// Err is the reason the gate stayed closed, if the attempt failed.
func (g *EncryptionGate) Err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}
