// Package wallet binds chat identities to Ethereum accounts: address
// handling, the login message, personal_sign signatures and the encryption
// public key a wallet hands out for end-to-end messaging.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Signer is the wallet the client talks to. Implementations return
// apperr authentication errors when the user declines a request.
type Signer interface {
	// RequestAccounts returns the active account address.
	RequestAccounts(ctx context.Context) (string, error)
	// SignMessage returns a 0x-hex personal_sign signature over text.
	SignMessage(ctx context.Context, text string) (string, error)
	// RequestEncryptionPublicKey returns the base64 X25519 public key for address.
	RequestEncryptionPublicKey(ctx context.Context, address string) (string, error)
}

// NormalizeAddress validates a 20-byte hex address and returns it in the
// lowercase form used as a directory key.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) || !strings.HasPrefix(strings.ToLower(address), "0x") {
		return "", fmt.Errorf("invalid address %q", address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// LoginMessage is the text a user signs to prove control of address.
func LoginMessage(address string, at time.Time) string {
	return fmt.Sprintf("Login to Decentralized Chat with address %s at %s",
		address, at.UTC().Format("2006-01-02T15:04:05.000Z"))
}
