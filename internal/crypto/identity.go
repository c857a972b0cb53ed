// Package crypto provides caller identity verification and operator key
// management. Callers prove control of an account by signing a short-lived
// auth message with their secp256k1 key; the server recovers the address
// from the signature rather than trusting a claimed identity.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/peerstake/peerstake/internal/domain"
)

// AuthMessage builds the canonical auth string a caller signs: the request
// method and path bind the signature to one operation, the timestamp bounds
// its replay window.
func AuthMessage(method, path string, timestamp int64) string {
	return fmt.Sprintf("peerstake-auth:%s:%s:%d", strings.ToUpper(method), path, timestamp)
}

// personalHash applies the Ethereum signed-message prefix (EIP-191) before
// hashing, matching what wallet personal_sign implementations produce.
func personalHash(msg string) []byte {
	return ethcrypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
}

// RecoverAccount recovers the signing account from a 65-byte hex signature
// over AuthMessage(method, path, timestamp).
func RecoverAccount(method, path string, timestamp int64, sigHex string) (domain.AccountID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return "", fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(raw))
	}

	// Wallets emit V as 27/28; go-ethereum expects 0/1.
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalHash(AuthMessage(method, path, timestamp)), sig)
	if err != nil {
		return "", fmt.Errorf("crypto: recover public key: %w", err)
	}

	return domain.NormalizeAccount(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// SignAuth produces the hex signature for AuthMessage with the given private
// key. Used by client tooling and tests.
func SignAuth(pk *ecdsa.PrivateKey, method, path string, timestamp int64) (string, error) {
	sig, err := ethcrypto.Sign(personalHash(AuthMessage(method, path, timestamp)), pk)
	if err != nil {
		return "", fmt.Errorf("crypto: sign auth message: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// AccountOf returns the account id controlled by the given private key.
func AccountOf(pk *ecdsa.PrivateKey) domain.AccountID {
	return domain.NormalizeAccount(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())
}
