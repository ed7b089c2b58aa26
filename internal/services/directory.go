package services

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/pkg/utils"
)

// Directory is the local, eventually consistent view of every identity.
// Reads never touch the network; before the first update arrives every
// lookup simply misses.
type Directory struct {
	store graph.Store

	mu       sync.RWMutex
	profiles map[string]models.Identity
	sub      *graph.Subscription
}

func NewDirectory(store graph.Store) *Directory {
	return &Directory{
		store:    store,
		profiles: make(map[string]models.Identity),
	}
}

// Start subscribes to directory changes and then loads the current entries.
// Both feed the same merge, so an entry seen twice is harmless.
func (d *Directory) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.sub != nil {
		d.mu.Unlock()
		return nil
	}
	d.sub = d.store.On(DirectoryPath, graph.ListenerFunc(func(_, key string, rec graph.Record) {
		d.ingest(key, rec)
	}))
	d.mu.Unlock()

	nodes, err := d.store.Once(ctx, DirectoryPath)
	if err != nil {
		d.Stop()
		return err
	}
	for key, rec := range nodes {
		d.ingest(key, rec)
	}
	return nil
}

// Stop unsubscribes. The cached profiles stay readable.
func (d *Directory) Stop() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	sub.Off()
}

func (d *Directory) ingest(key string, rec graph.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr := strings.ToLower(key)
	merged := d.profiles[addr].Merge(addr, rec)
	if merged.Address == "" {
		log.Printf("directory: ignoring entry %q without address", key)
		return
	}
	d.profiles[merged.Address] = merged
}

// Lookup returns the profile for address. Entries seen only partially
// (no username yet) are reported as missing.
func (d *Directory) Lookup(address string) (models.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[normalizeParty(address)]
	if !ok || p.Username == "" {
		return models.Identity{}, false
	}
	return p, true
}

func (d *Directory) Exists(address string) bool {
	_, ok := d.Lookup(address)
	return ok
}

// FindByUsername returns the first profile whose username matches exactly,
// ignoring case.
func (d *Directory) FindByUsername(username string) (models.Identity, bool) {
	want := utils.NormalizeUsername(username)
	for _, p := range d.Profiles() {
		if utils.NormalizeUsername(p.Username) == want {
			return p, true
		}
	}
	return models.Identity{}, false
}

// Search returns profiles whose username contains query, ignoring case,
// excluding self. An empty query matches everyone.
func (d *Directory) Search(query, self string) []models.Identity {
	self = normalizeParty(self)
	var out []models.Identity
	for _, p := range d.Profiles() {
		if p.Address == self {
			continue
		}
		if utils.UsernameContains(p.Username, query) {
			out = append(out, p)
		}
	}
	return out
}

// Profiles returns every complete profile ordered by username, then address.
func (d *Directory) Profiles() []models.Identity {
	d.mu.RLock()
	out := make([]models.Identity, 0, len(d.profiles))
	for _, p := range d.profiles {
		if p.Username != "" {
			out = append(out, p)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ui, uj := utils.NormalizeUsername(out[i].Username), utils.NormalizeUsername(out[j].Username)
		if ui != uj {
			return ui < uj
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// DisplayName resolves address to its username, or fallback when unknown.
func (d *Directory) DisplayName(address, fallback string) string {
	if p, ok := d.Lookup(address); ok {
		return p.Username
	}
	if fallback != "" {
		return fallback
	}
	return address
}

// EncryptionKey returns the published encryption public key for address.
func (d *Directory) EncryptionKey(address string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[normalizeParty(address)]
	if !ok || p.EncryptionPublicKey == "" {
		return "", false
	}
	return p.EncryptionPublicKey, true
}
