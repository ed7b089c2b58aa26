package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/curve25519"

	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// KeystoreSigner signs with a secp256k1 key held in process.
type KeystoreSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeystoreSigner parses a hex private key, with or without 0x.
func NewKeystoreSigner(hexKey string) (*KeystoreSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeystoreSignerFromKey(key), nil
}

// LoadKeystoreSigner reads a hex private key from path.
func LoadKeystoreSigner(path string) (*KeystoreSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return NewKeystoreSigner(string(data))
}

// GenerateKeystoreSigner creates a signer with a fresh random key.
func GenerateKeystoreSigner() (*KeystoreSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewKeystoreSignerFromKey(key), nil
}

func NewKeystoreSignerFromKey(key *ecdsa.PrivateKey) *KeystoreSigner {
	return &KeystoreSigner{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}
}

// Address returns the lowercase account address.
func (s *KeystoreSigner) Address() string {
	return s.address
}

// PrivateKeyHex returns the key as 0x-hex, for writing a key file.
func (s *KeystoreSigner) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(s.key))
}

func (s *KeystoreSigner) RequestAccounts(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.address, nil
}

// SignMessage produces an EIP-191 personal_sign signature with v in {27, 28}.
func (s *KeystoreSigner) SignMessage(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), s.key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindAuthentication, "failed to sign message", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RequestEncryptionPublicKey derives the X25519 public key from the account
// key, matching what wallets return for eth_getEncryptionPublicKey.
func (s *KeystoreSigner) RequestEncryptionPublicKey(ctx context.Context, address string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.EqualFold(strings.TrimSpace(address), s.address) {
		return "", apperr.Authentication("encryption key requested for an account this wallet does not hold")
	}
	pub, err := curve25519.X25519(crypto.FromECDSA(s.key), curve25519.Basepoint)
	if err != nil {
		return "", apperr.Wrap(apperr.KindAuthentication, "failed to derive encryption key", err)
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}
