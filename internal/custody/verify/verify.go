// Package verify provides signature verification over canonical transaction
// payloads. Keys and signatures travel as hex strings.
package verify

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

// Secp256k1Verifier verifies secp256k1 signatures over the keccak256 hash of
// the payload. Public keys may be compressed (33 bytes) or uncompressed
// (65 bytes).
type Secp256k1Verifier struct{}

var _ interfaces.SignatureVerifier = (*Secp256k1Verifier)(nil)

// Verify reports whether the signature is valid for the payload and key.
func (Secp256k1Verifier) Verify(payload []byte, publicKey, signature string) (bool, error) {
	pub, err := decodeHex(publicKey)
	if err != nil {
		return false, errors.Validation("invalid public key encoding: %v", err)
	}
	sig, err := decodeHex(signature)
	if err != nil {
		return false, errors.Validation("invalid signature encoding: %v", err)
	}
	// Drop the recovery id if present.
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false, errors.Validation("signature must be 64 bytes, got %d", len(sig))
	}
	hash := ethcrypto.Keccak256(payload)
	return ethcrypto.VerifySignature(pub, hash, sig), nil
}

// Ed25519Verifier verifies ed25519 signatures over the raw payload.
type Ed25519Verifier struct{}

var _ interfaces.SignatureVerifier = (*Ed25519Verifier)(nil)

// Verify reports whether the signature is valid for the payload and key.
func (Ed25519Verifier) Verify(payload []byte, publicKey, signature string) (bool, error) {
	pub, err := decodeHex(publicKey)
	if err != nil {
		return false, errors.Validation("invalid public key encoding: %v", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.Validation("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	sig, err := decodeHex(signature)
	if err != nil {
		return false, errors.Validation("invalid signature encoding: %v", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, errors.Validation("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig), nil
}

// SchemeVerifier dispatches on the key's scheme prefix ("ed25519:..."),
// defaulting to secp256k1 for bare hex keys.
type SchemeVerifier struct {
	secp Secp256k1Verifier
	ed   Ed25519Verifier
}

var _ interfaces.SignatureVerifier = (*SchemeVerifier)(nil)

// NewSchemeVerifier creates the default verifier.
func NewSchemeVerifier() *SchemeVerifier {
	return &SchemeVerifier{}
}

// Verify dispatches to the scheme named by the key prefix.
func (v *SchemeVerifier) Verify(payload []byte, publicKey, signature string) (bool, error) {
	if key, ok := strings.CutPrefix(publicKey, "ed25519:"); ok {
		return v.ed.Verify(payload, key, signature)
	}
	return v.secp.Verify(payload, strings.TrimPrefix(publicKey, "secp256k1:"), signature)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
