package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifySignature checks that sigHex is a personal_sign signature over
// message by address.
func VerifySignature(address, message, sigHex string) error {
	want, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	sig, err := hexutil.Decode(strings.TrimSpace(sigHex))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	got := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
	if got != want {
		return fmt.Errorf("signature is from %s, not %s", got, want)
	}
	return nil
}
