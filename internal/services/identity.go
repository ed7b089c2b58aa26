package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
	"github.com/vanshansh-prajav/Hack36/pkg/utils"
)

// Outcome of binding a wallet address to a username.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeAuthenticated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// IdentityService turns a wallet address plus a chosen username into a
// directory identity.
type IdentityService struct {
	store graph.Store
	now   func() time.Time
}

func NewIdentityService(store graph.Store) *IdentityService {
	return &IdentityService{store: store, now: time.Now}
}

// Authenticate creates the identity on first use and checks the username on
// every later login. A different username for a known address fails with
// ErrUsernameMismatch; the stored name is never changed.
func (s *IdentityService) Authenticate(ctx context.Context, address, username string) (Outcome, models.Identity, error) {
	addr, err := wallet.NormalizeAddress(address)
	if err != nil {
		return 0, models.Identity{}, apperr.ErrInvalidAddress
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, models.Identity{}, apperr.InvalidArg("username is required")
	}

	rec, found, err := s.store.Get(ctx, DirectoryPath, addr)
	if err != nil {
		return 0, models.Identity{}, apperr.ErrLookupFailed(err)
	}

	existing := models.Identity{}.Merge(addr, rec)
	if !found || existing.Username == "" {
		// Naming rules bind new identities only; names registered by other
		// peers under looser rules must still log in.
		if err := utils.ValidateUsername(username); err != nil {
			return 0, models.Identity{}, apperr.Wrap(apperr.KindInvalidArgument, err.Error(), err)
		}
		ident, err := s.create(ctx, addr, username)
		if err != nil {
			return 0, models.Identity{}, err
		}
		return OutcomeCreated, ident, nil
	}

	if existing.Username != username {
		return 0, models.Identity{}, apperr.ErrUsernameMismatch
	}

	now := s.now().UnixMilli()
	if err := s.store.Put(ctx, DirectoryPath, addr, graph.Record{"lastLogin": now}); err != nil {
		return 0, models.Identity{}, apperr.ErrIdentityWriteFailed(err)
	}
	existing.LastLogin = now
	return OutcomeAuthenticated, existing, nil
}

func (s *IdentityService) create(ctx context.Context, addr, username string) (models.Identity, error) {
	now := s.now().UnixMilli()
	ident := models.Identity{
		Address:   addr,
		Username:  username,
		CreatedAt: now,
		LastLogin: now,
	}
	if err := s.store.Put(ctx, DirectoryPath, addr, ident.Record()); err != nil {
		return models.Identity{}, apperr.ErrIdentityWriteFailed(err)
	}

	ident.Friends = FriendsPath(addr)
	if err := s.store.Put(ctx, DirectoryPath, addr, graph.Record{"friends": ident.Friends}); err != nil {
		return models.Identity{}, apperr.ErrIdentityWriteFailed(err)
	}

	// Another device may have claimed the address concurrently; last writer
	// wins per field, so read back what the directory now holds.
	rec, found, err := s.store.Get(ctx, DirectoryPath, addr)
	if err != nil {
		return models.Identity{}, apperr.ErrIdentityWriteFailed(err)
	}
	if !found {
		return models.Identity{}, apperr.ErrIdentityWriteFailed(errors.New("identity not visible after write"))
	}
	confirmed, err := models.DecodeIdentity(addr, rec)
	if err != nil {
		return models.Identity{}, apperr.ErrIdentityWriteFailed(fmt.Errorf("confirm identity: %w", err))
	}
	if confirmed.Username != username {
		return models.Identity{}, apperr.ErrUsernameMismatch
	}
	return confirmed, nil
}
