package wallet

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// Well-known development key (hardhat account #0).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const devAddress = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("  0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266 ")
	require.NoError(t, err)
	assert.Equal(t, devAddress, got)

	for _, bad := range []string{"", "alice", "0x1234", "f39fd6e51aad88f6f4ce6ab8827279cfffb92266"} {
		_, err := NormalizeAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestKeystoreSigner_Address(t *testing.T) {
	s, err := NewKeystoreSigner(devKey)
	require.NoError(t, err)

	addr, err := s.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, devAddress, addr)
}

func TestKeystoreSigner_SignAndVerify(t *testing.T) {
	s, err := GenerateKeystoreSigner()
	require.NoError(t, err)
	ctx := context.Background()

	msg := LoginMessage(s.Address(), time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC))
	assert.Equal(t, "Login to Decentralized Chat with address "+s.Address()+" at 2024-01-02T03:04:05.006Z", msg)

	sig, err := s.SignMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+65*2)

	require.NoError(t, VerifySignature(s.Address(), msg, sig))
	assert.Error(t, VerifySignature(s.Address(), msg+" tampered", sig))

	other, err := GenerateKeystoreSigner()
	require.NoError(t, err)
	assert.Error(t, VerifySignature(other.Address(), msg, sig))
	assert.Error(t, VerifySignature(s.Address(), msg, "0xdead"))
}

func TestKeystoreSigner_EncryptionKey(t *testing.T) {
	s, err := NewKeystoreSigner(devKey)
	require.NoError(t, err)
	ctx := context.Background()

	key, err := s.RequestEncryptionPublicKey(ctx, "0x"+strings.ToUpper(devAddress[2:]))
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(key)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	again, err := s.RequestEncryptionPublicKey(ctx, devAddress)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	_, err = s.RequestEncryptionPublicKey(ctx, "0x0000000000000000000000000000000000000001")
	assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
}

func TestKeystoreSigner_RoundTripsKeyHex(t *testing.T) {
	s, err := GenerateKeystoreSigner()
	require.NoError(t, err)
	again, err := NewKeystoreSigner(s.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, s.Address(), again.Address())
}
