package models

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signDigest produces a Signature over a digest with a throwaway key
func signDigest(t *testing.T, digest common.Hash) (*Signature, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	raw, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	sig := &Signature{
		Type: SignatureEIP712,
		V:    raw[64] + 27,
		R:    append([]byte(nil), raw[0:32]...),
		S:    append([]byte(nil), raw[32:64]...),
	}
	return sig, crypto.PubkeyToAddress(key.PublicKey)
}

func TestRecoverSigner(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("order"))
	sig, signer := signDigest(t, digest)

	recovered, err := sig.RecoverSigner(digest)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)
}

func TestNormalizePadsShortComponents(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("order"))
	sig, signer := signDigest(t, digest)

	// Strip leading zero bytes the way lenient maker servers do
	truncated := sig.Clone()
	truncated.R = bytes.TrimLeft(truncated.R, "\x00")
	truncated.S = bytes.TrimLeft(truncated.S, "\x00")

	require.NoError(t, truncated.Normalize())
	assert.Len(t, truncated.R, 32)
	assert.Len(t, truncated.S, 32)

	recovered, err := truncated.RecoverSigner(digest)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered, "padded recovery should match full-width recovery")
}

func TestNormalizeRejectsOversizedComponents(t *testing.T) {
	sig := &Signature{R: make([]byte, 33), S: make([]byte, 32)}
	assert.Error(t, sig.Normalize())

	var nilSig *Signature
	assert.Error(t, nilSig.Normalize())
}

func TestPackedRoundTrip(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("order"))
	sig, _ := signDigest(t, digest)

	packed, err := sig.Packed()
	require.NoError(t, err)
	require.Len(t, packed, 65)

	parsed, err := ParseSignatureHex(common.Bytes2Hex(packed))
	require.NoError(t, err)
	assert.Equal(t, sig.V, parsed.V)
	assert.Equal(t, sig.R, parsed.R)
	assert.Equal(t, sig.S, parsed.S)
}

func TestParseSignatureHexRejectsBadInput(t *testing.T) {
	_, err := ParseSignatureHex("0xdeadbeef")
	assert.Error(t, err)

	_, err = ParseSignatureHex("not hex")
	assert.Error(t, err)
}
