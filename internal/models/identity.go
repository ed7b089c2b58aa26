package models

import (
	"strings"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// Identity is a directory entry: one per wallet address.
type Identity struct {
	Address             string `json:"address"`
	Username            string `json:"username"`
	CreatedAt           int64  `json:"createdAt"`
	LastLogin           int64  `json:"lastLogin"`
	EncryptionPublicKey string `json:"encryptionPublicKey,omitempty"`
	// Friends is the path of the owner's friend set.
	Friends string `json:"friends,omitempty"`
}

// Record returns the fields written on identity creation.
func (i Identity) Record() graph.Record {
	rec := graph.Record{
		"address":   i.Address,
		"account":   i.Address,
		"username":  i.Username,
		"createdAt": i.CreatedAt,
		"lastLogin": i.LastLogin,
	}
	if i.Friends != "" {
		rec["friends"] = i.Friends
	}
	if i.EncryptionPublicKey != "" {
		rec["encryptionPublicKey"] = i.EncryptionPublicKey
	}
	return rec
}

// Merge overlays the fields present in rec. Missing or empty fields never
// erase what is already known.
func (i Identity) Merge(key string, rec graph.Record) Identity {
	if i.Address == "" {
		i.Address = identityAddress(key, rec)
	}
	if v := rec.String("username"); v != "" {
		i.Username = v
	}
	if v, ok := rec.Int64("createdAt"); ok && v > 0 {
		i.CreatedAt = v
	}
	if v, ok := rec.Int64("lastLogin"); ok && v > i.LastLogin {
		i.LastLogin = v
	}
	if v := rec.String("encryptionPublicKey"); v != "" {
		i.EncryptionPublicKey = v
	}
	if v := rec.String("friends"); v != "" {
		i.Friends = v
	}
	return i
}

// DecodeIdentity validates a directory node. The node key is the address.
func DecodeIdentity(key string, rec graph.Record) (Identity, error) {
	ident := Identity{}.Merge(key, rec)
	if ident.Address == "" {
		return Identity{}, apperr.Malformed("identity record has no address")
	}
	if ident.Username == "" {
		return Identity{}, apperr.Malformed("identity record " + ident.Address + " has no username")
	}
	return ident, nil
}

func identityAddress(key string, rec graph.Record) string {
	for _, v := range []string{rec.String("address"), rec.String("account"), key} {
		if v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}
