package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// FriendRef names the user to add: an address, a username, or both.
type FriendRef struct {
	Address  string
	Username string
}

func (r FriendRef) DedupKey() string {
	return models.FriendDedupKey(r.Address, r.Username)
}

// WriteStep identifies which write strategy stored a friend link.
type WriteStep string

const (
	WriteStepSetInsert WriteStep = "set-insert"
	WriteStepKeyedPut  WriteStep = "keyed-put"
)

// AddResult reports a successful AddFriend.
type AddResult struct {
	Link models.FriendLink
	Step WriteStep
	// Failed holds the error of each step that was tried before Step.
	Failed []error
}

type friendWriter struct {
	step  WriteStep
	write func(ctx context.Context, store graph.Store, path string, link models.FriendLink) (string, error)
}

// friendWriters is the add strategy: insert into the set, and if that
// write fails, put under the dedup key. Both converge after dedup.
var friendWriters = []friendWriter{
	{
		step: WriteStepSetInsert,
		write: func(ctx context.Context, store graph.Store, path string, link models.FriendLink) (string, error) {
			return store.Set(ctx, path, link.Record())
		},
	},
	{
		step: WriteStepKeyedPut,
		write: func(ctx context.Context, store graph.Store, path string, link models.FriendLink) (string, error) {
			key := link.DedupKey()
			return key, store.Put(ctx, path, key, link.Record())
		},
	},
}

// FriendGraph is the owner's friend set: a live, deduplicated view plus
// the add operation.
type FriendGraph struct {
	store     graph.Store
	owner     string
	directory *Directory
	now       func() time.Time

	mu    sync.RWMutex
	links map[string]models.FriendLink
	sub   *graph.Subscription
}

func NewFriendGraph(store graph.Store, owner string, directory *Directory) *FriendGraph {
	return &FriendGraph{
		store:     store,
		owner:     normalizeParty(owner),
		directory: directory,
		now:       time.Now,
		links:     make(map[string]models.FriendLink),
	}
}

// Watch subscribes to the friend set, then loads its current members.
func (g *FriendGraph) Watch(ctx context.Context) error {
	g.mu.Lock()
	if g.sub != nil {
		g.mu.Unlock()
		return nil
	}
	path := FriendsPath(g.owner)
	g.sub = g.store.On(path, graph.ListenerFunc(func(_, key string, rec graph.Record) {
		g.ingest(key, rec)
	}))
	g.mu.Unlock()

	nodes, err := g.store.Once(ctx, path)
	if err != nil {
		g.Stop()
		return err
	}
	for key, rec := range nodes {
		g.ingest(key, rec)
	}
	return nil
}

func (g *FriendGraph) Stop() {
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()
	sub.Off()
}

// Seed merges links known from a saved session so the local duplicate
// check works before the first network update.
func (g *FriendGraph) Seed(links []models.FriendLink) {
	for _, l := range links {
		g.merge(l)
	}
}

func (g *FriendGraph) ingest(key string, rec graph.Record) {
	link, err := models.DecodeFriendLink(key, rec)
	if err != nil {
		log.Printf("friends: dropping record %s: %v", key, err)
		return
	}
	g.merge(link)
}

// merge keeps the first link seen for a dedup key and only fills in
// fields it was missing.
func (g *FriendGraph) merge(link models.FriendLink) {
	dk := link.DedupKey()
	if dk == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.links[dk]
	if !ok {
		g.links[dk] = link
		return
	}
	if cur.Username == "" {
		cur.Username = link.Username
	}
	if cur.Address == "" {
		cur.Address = link.Address
	}
	if cur.AddedAt == 0 || (link.AddedAt > 0 && link.AddedAt < cur.AddedAt) {
		cur.AddedAt = link.AddedAt
	}
	g.links[dk] = cur
}

// Has reports whether ref is already a friend, using only local state.
func (g *FriendGraph) Has(ref FriendRef) bool {
	dk := ref.DedupKey()
	byName := models.FriendDedupKey("", ref.Username)

	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.links[dk]; ok {
		return true
	}
	if byName == "" {
		return false
	}
	// Either side may lack an address; fall back to comparing usernames.
	for _, l := range g.links {
		if (l.Address == "" || ref.Address == "") && models.FriendDedupKey("", l.Username) == byName {
			return true
		}
	}
	return false
}

// AddFriend records a directed link from the owner to ref. It fails with
// ErrAlreadyFriend without any network call when the link is known locally,
// and with a Write error only after every write step has failed.
func (g *FriendGraph) AddFriend(ctx context.Context, ref FriendRef) (AddResult, error) {
	ref.Username = strings.TrimSpace(ref.Username)
	if strings.TrimSpace(ref.Address) != "" {
		addr, err := wallet.NormalizeAddress(ref.Address)
		if err != nil {
			return AddResult{}, apperr.ErrInvalidAddress
		}
		ref.Address = addr
	}
	if ref.Address == "" && ref.Username == "" {
		return AddResult{}, apperr.InvalidArg("friend address or username is required")
	}
	if ref.Address == g.owner {
		return AddResult{}, apperr.ErrSelfFriend
	}
	if ref.Username == "" && g.directory != nil {
		if p, ok := g.directory.Lookup(ref.Address); ok {
			ref.Username = p.Username
		}
	}
	if g.Has(ref) {
		return AddResult{}, apperr.ErrAlreadyFriend
	}

	link := models.FriendLink{
		Address:  ref.Address,
		Username: ref.Username,
		AddedAt:  g.now().UnixMilli(),
	}
	path := FriendsPath(g.owner)

	var failed []error
	for _, w := range friendWriters {
		key, err := w.write(ctx, g.store, path, link)
		if err != nil {
			log.Printf("friends: %s for %s failed: %v", w.step, link.DedupKey(), err)
			failed = append(failed, err)
			continue
		}
		link.Key = key
		g.merge(link)
		return AddResult{Link: link, Step: w.step, Failed: failed}, nil
	}
	return AddResult{}, apperr.ErrFriendWriteFailed(errors.Join(failed...))
}

// Friends returns the deduplicated links, oldest first.
func (g *FriendGraph) Friends() []models.FriendLink {
	g.mu.RLock()
	out := make([]models.FriendLink, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, l)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt != out[j].AddedAt {
			return out[i].AddedAt < out[j].AddedAt
		}
		return out[i].DedupKey() < out[j].DedupKey()
	})
	return out
}

// DisplayName prefers the directory's current username for the friend.
func (g *FriendGraph) DisplayName(link models.FriendLink) string {
	if g.directory != nil && link.Address != "" {
		return g.directory.DisplayName(link.Address, link.Username)
	}
	if link.Username != "" {
		return link.Username
	}
	return link.Address
}
