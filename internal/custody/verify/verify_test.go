package verify

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/covault/pkg/errors"
)

func TestSecp256k1Verifier(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(ethcrypto.FromECDSAPub(&key.PublicKey))

	payload := []byte(`{"wallet_id":"w","recipient":"0xr","amount":"10"}`)
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256(payload), key)
	require.NoError(t, err)
	sigHex := hex.EncodeToString(sig) // 65 bytes, recovery id included

	v := Secp256k1Verifier{}

	t.Run("valid signature", func(t *testing.T) {
		ok, err := v.Verify(payload, pubHex, sigHex)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("accepts 0x-prefixed hex", func(t *testing.T) {
		ok, err := v.Verify(payload, "0x"+pubHex, "0x"+sigHex)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered payload", func(t *testing.T) {
		ok, err := v.Verify([]byte("something else"), pubHex, sigHex)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		ok, err := v.Verify(payload, hex.EncodeToString(ethcrypto.FromECDSAPub(&other.PublicKey)), sigHex)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed inputs", func(t *testing.T) {
		_, err := v.Verify(payload, "not-hex", sigHex)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
		_, err = v.Verify(payload, pubHex, "abcd")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestEd25519Verifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubHex := hex.EncodeToString(pub)

	payload := []byte(`{"wallet_id":"w","recipient":"0xr","amount":"10"}`)
	sigHex := hex.EncodeToString(ed25519.Sign(priv, payload))

	v := Ed25519Verifier{}

	t.Run("valid signature", func(t *testing.T) {
		ok, err := v.Verify(payload, pubHex, sigHex)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered payload", func(t *testing.T) {
		ok, err := v.Verify([]byte("tampered"), pubHex, sigHex)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong key size", func(t *testing.T) {
		_, err := v.Verify(payload, "abcd", sigHex)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestSchemeVerifier(t *testing.T) {
	v := NewSchemeVerifier()
	payload := []byte("scheme dispatch payload")

	t.Run("ed25519 prefix", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		sig := hex.EncodeToString(ed25519.Sign(priv, payload))

		ok, err := v.Verify(payload, "ed25519:"+hex.EncodeToString(pub), sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("bare hex defaults to secp256k1", func(t *testing.T) {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		sig, err := ethcrypto.Sign(ethcrypto.Keccak256(payload), key)
		require.NoError(t, err)

		ok, err := v.Verify(payload, hex.EncodeToString(ethcrypto.FromECDSAPub(&key.PublicKey)), hex.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("explicit secp256k1 prefix", func(t *testing.T) {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		sig, err := ethcrypto.Sign(ethcrypto.Keccak256(payload), key)
		require.NoError(t, err)

		ok, err := v.Verify(payload, "secp256k1:"+hex.EncodeToString(ethcrypto.FromECDSAPub(&key.PublicKey)), hex.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
