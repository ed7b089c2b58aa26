package models

import (
	"strings"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// FriendLink is a directed owner -> friend edge stored in the owner's
// friend set.
type FriendLink struct {
	Key      string `json:"key,omitempty"`
	Address  string `json:"address,omitempty"`
	Username string `json:"username,omitempty"`
	AddedAt  int64  `json:"addedAt"`
}

// DedupKey identifies the friend regardless of which write path stored it.
func (f FriendLink) DedupKey() string {
	return FriendDedupKey(f.Address, f.Username)
}

// FriendDedupKey is the lowercase address, or the lowercase username when
// the address is unknown.
func FriendDedupKey(address, username string) string {
	if a := strings.ToLower(strings.TrimSpace(address)); a != "" {
		return a
	}
	return strings.ToLower(strings.TrimSpace(username))
}

func (f FriendLink) Record() graph.Record {
	rec := graph.Record{"addedAt": f.AddedAt}
	if f.Address != "" {
		rec["id"] = f.Address
		rec["address"] = f.Address
	}
	if f.Username != "" {
		rec["username"] = f.Username
	}
	return rec
}

// DecodeFriendLink validates a friend-set node.
func DecodeFriendLink(key string, rec graph.Record) (FriendLink, error) {
	link := FriendLink{
		Key:      key,
		Address:  strings.ToLower(rec.String("address")),
		Username: rec.String("username"),
	}
	if link.Address == "" {
		link.Address = strings.ToLower(rec.String("id"))
	}
	if v, ok := rec.Int64("addedAt"); ok {
		link.AddedAt = v
	}
	if link.DedupKey() == "" {
		return FriendLink{}, apperr.Malformed("friend record " + key + " has neither address nor username")
	}
	return link, nil
}
