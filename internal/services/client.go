package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// ClientOptions wires a Client to its collaborators. Store is required.
type ClientOptions struct {
	Store    graph.Store
	Signer   wallet.Signer
	Sessions SessionStore
	Images   ImageEncoder
}

// Client owns one user's session: identity, directory, friend set,
// encryption gate and open chats. Every live subscription it opens is
// torn down by Logout or Close.
type Client struct {
	store    graph.Store
	signer   wallet.Signer
	sessions SessionStore
	images   ImageEncoder
	identity *IdentityService
	now      func() time.Time

	mu        sync.Mutex
	self      *models.Identity
	session   *models.Session
	directory *Directory
	friends   *FriendGraph
	gate      *EncryptionGate
	stream    *MessageStream
	chats     map[string]*ChannelSubscription
	cancel    context.CancelFunc
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Store == nil {
		return nil, errors.New("client: graph store is required")
	}
	if opts.Images == nil {
		opts.Images = InlineEncoder{}
	}
	return &Client{
		store:    opts.Store,
		signer:   opts.Signer,
		sessions: opts.Sessions,
		images:   opts.Images,
		identity: NewIdentityService(opts.Store),
		now:      time.Now,
		chats:    make(map[string]*ChannelSubscription),
	}, nil
}

// Login asks the wallet for its account and a signature over the login
// message, binds the address to username and opens the session views.
func (c *Client) Login(ctx context.Context, username string) (Outcome, error) {
	if c.signer == nil {
		return 0, apperr.ErrNoSigner
	}
	address, err := c.signer.RequestAccounts(ctx)
	if err != nil {
		return 0, walletError(err)
	}
	if address == "" {
		return 0, apperr.ErrNoAccount
	}
	address, err = wallet.NormalizeAddress(address)
	if err != nil {
		return 0, apperr.ErrInvalidAddress
	}

	message := wallet.LoginMessage(address, c.now())
	signature, err := c.signer.SignMessage(ctx, message)
	if err != nil {
		return 0, walletError(err)
	}

	outcome, ident, err := c.identity.Authenticate(ctx, address, username)
	if err != nil {
		return 0, err
	}

	snap := &models.Session{
		Address:   ident.Address,
		Username:  ident.Username,
		Signature: signature,
		Message:   message,
		LastLogin: ident.LastLogin,
	}
	if err := c.establish(ctx, ident, snap); err != nil {
		return 0, err
	}
	c.saveSession(ctx)
	log.Printf("client: %s as %s (%s)", outcome, ident.Username, ident.Address)
	return outcome, nil
}

// Restore resumes from the saved snapshot without prompting the wallet.
// It reports false when there is nothing usable to resume; a snapshot that
// fails verification is discarded.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	if c.sessions == nil {
		return false, nil
	}
	snap, err := c.sessions.Load(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	if err := wallet.VerifySignature(snap.Address, snap.Message, snap.Signature); err != nil {
		log.Printf("client: discarding session snapshot: %v", err)
		_ = c.sessions.Clear(ctx)
		return false, nil
	}

	_, ident, err := c.identity.Authenticate(ctx, snap.Address, snap.Username)
	if errors.Is(err, apperr.ErrUsernameMismatch) || apperr.IsKind(err, apperr.KindInvalidArgument) {
		_ = c.sessions.Clear(ctx)
		return false, err
	}
	if err != nil {
		return false, err
	}

	snap.LastLogin = ident.LastLogin
	if err := c.establish(ctx, ident, snap); err != nil {
		return false, err
	}
	c.saveSession(ctx)
	return true, nil
}

func (c *Client) establish(ctx context.Context, ident models.Identity, snap *models.Session) error {
	c.teardown()

	sessionCtx, cancel := context.WithCancel(context.Background())
	directory := NewDirectory(c.store)
	friends := NewFriendGraph(c.store, ident.Address, directory)
	friends.Seed(snap.Friends)
	gate := NewEncryptionGate(c.signer, c.store)

	if err := directory.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start directory: %w", err)
	}
	if err := friends.Watch(ctx); err != nil {
		directory.Stop()
		cancel()
		return fmt.Errorf("watch friends: %w", err)
	}
	gate.Start(sessionCtx, ident.Address)

	c.mu.Lock()
	c.self = &ident
	c.session = snap
	c.directory = directory
	c.friends = friends
	c.gate = gate
	c.stream = NewMessageStream(c.store, ident.Address, gate)
	c.cancel = cancel
	c.mu.Unlock()
	return nil
}

// teardown stops every subscription the session opened.
func (c *Client) teardown() {
	c.mu.Lock()
	chats := c.chats
	c.chats = make(map[string]*ChannelSubscription)
	directory, friends, cancel := c.directory, c.friends, c.cancel
	c.self, c.session, c.directory, c.friends, c.gate, c.stream, c.cancel = nil, nil, nil, nil, nil, nil, nil
	c.mu.Unlock()

	for _, cs := range chats {
		cs.Unsubscribe()
	}
	if friends != nil {
		friends.Stop()
	}
	if directory != nil {
		directory.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Logout ends the session and forgets the saved snapshot.
func (c *Client) Logout(ctx context.Context) error {
	c.teardown()
	if c.sessions != nil {
		return c.sessions.Clear(ctx)
	}
	return nil
}

// Close ends the session but keeps the snapshot for the next Restore.
func (c *Client) Close() error {
	c.teardown()
	return nil
}

func (c *Client) Identity() (models.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == nil {
		return models.Identity{}, false
	}
	return *c.self, true
}

func (c *Client) Directory() *Directory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory
}

func (c *Client) Friends() *FriendGraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.friends
}

func (c *Client) Gate() *EncryptionGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate
}

// AddFriend adds ref to the friend set and records it in the snapshot.
func (c *Client) AddFriend(ctx context.Context, ref FriendRef) (AddResult, error) {
	friends := c.Friends()
	if friends == nil {
		return AddResult{}, apperr.ErrNotLoggedIn
	}
	res, err := friends.AddFriend(ctx, ref)
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	if c.session != nil {
		c.session.Friends = friends.Friends()
	}
	c.mu.Unlock()
	c.saveSession(ctx)
	return res, nil
}

// ResolvePeer turns an address or username into a directory profile.
func (c *Client) ResolvePeer(ref string) (models.Identity, error) {
	directory := c.Directory()
	if directory == nil {
		return models.Identity{}, apperr.ErrNotLoggedIn
	}
	if addr, err := wallet.NormalizeAddress(ref); err == nil {
		if p, ok := directory.Lookup(addr); ok {
			return p, nil
		}
		return models.Identity{Address: addr}, nil
	}
	if p, ok := directory.FindByUsername(ref); ok {
		return p, nil
	}
	return models.Identity{}, apperr.ErrUserNotFound
}

// OpenChat subscribes to the channel with remote. Opening a chat that is
// already open replaces the previous view.
func (c *Client) OpenChat(ctx context.Context, remote string, onMessage func(models.Message)) (*ChannelSubscription, error) {
	c.mu.Lock()
	self, stream := c.self, c.stream
	c.mu.Unlock()
	if self == nil {
		return nil, apperr.ErrNotLoggedIn
	}
	peer, err := wallet.NormalizeAddress(remote)
	if err != nil {
		return nil, apperr.ErrInvalidAddress
	}

	key := ChannelKey(self.Address, peer)
	cs, err := stream.Subscribe(ctx, key, onMessage)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.stream != stream {
		// Logged out while subscribing.
		c.mu.Unlock()
		cs.Unsubscribe()
		return nil, apperr.ErrNotLoggedIn
	}
	prev := c.chats[key]
	c.chats[key] = cs
	c.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}
	return cs, nil
}

// CloseChat unsubscribes from the channel with remote, if open.
func (c *Client) CloseChat(remote string) {
	c.mu.Lock()
	if c.self == nil {
		c.mu.Unlock()
		return
	}
	key := ChannelKey(c.self.Address, remote)
	cs := c.chats[key]
	delete(c.chats, key)
	c.mu.Unlock()
	if cs != nil {
		cs.Unsubscribe()
	}
}

// Send sends a text message to remote.
func (c *Client) Send(ctx context.Context, remote, text string) (models.Message, error) {
	return c.send(ctx, remote, Payload{Text: text})
}

// SendImage encodes an image and sends it to remote.
func (c *Client) SendImage(ctx context.Context, remote, name, contentType string, data []byte) (models.Message, error) {
	if gate := c.Gate(); gate == nil || !gate.Ready() {
		return models.Message{}, apperr.ErrEncryptionUnavailable
	}
	img, err := c.images.Encode(ctx, name, contentType, data)
	if err != nil {
		return models.Message{}, err
	}
	return c.send(ctx, remote, Payload{Image: img})
}

func (c *Client) send(ctx context.Context, remote string, p Payload) (models.Message, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return models.Message{}, apperr.ErrNotLoggedIn
	}
	return stream.Send(ctx, remote, p)
}

func (c *Client) saveSession(ctx context.Context) {
	if c.sessions == nil {
		return
	}
	c.mu.Lock()
	var snap *models.Session
	if c.session != nil {
		cp := *c.session
		cp.Friends = append([]models.FriendLink(nil), c.session.Friends...)
		snap = &cp
	}
	c.mu.Unlock()
	if snap == nil {
		return
	}
	if err := c.sessions.Save(ctx, snap); err != nil {
		log.Printf("client: failed to save session snapshot: %v", err)
	}
}

// walletError maps wallet failures onto authentication errors, keeping
// ones that are already classified.
func walletError(err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Wrap(apperr.KindAuthentication, "wallet request failed", err)
}
