package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase58RoundTrip(t *testing.T) {
	cases := [][]byte{
		{0},
		{0, 0, 1},
		{0xff, 0xfe},
		[]byte("hello world"),
	}
	for _, c := range cases {
		decoded, err := Base58Decode(Base58Encode(c))
		require.NoError(t, err)
		assert.Equal(t, c, decoded)
	}

	_, err := Base58Decode("0OIl")
	assert.Error(t, err)
}

func TestSignTransactionFillsFirstSlot(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	w, err := New(priv)
	require.NoError(t, err)
	assert.Equal(t, Base58Encode(pub), w.Address())

	message := []byte("transaction message body")
	raw := append([]byte{2}, make([]byte, 2*ed25519.SignatureSize)...)
	raw = append(raw, message...)

	signed, sig, err := w.SignTransaction(raw)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	sigBytes, err := Base58Decode(sig)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, message, sigBytes))
	assert.Equal(t, sigBytes, signed[1:1+ed25519.SignatureSize])
	assert.True(t, bytes.Equal(message, signed[1+2*ed25519.SignatureSize:]))

	// The input must not be mutated.
	assert.Equal(t, make([]byte, ed25519.SignatureSize), raw[1:1+ed25519.SignatureSize])
}

func TestSignTransactionRejectsMalformed(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	w, err := New(priv)
	require.NoError(t, err)

	_, _, err = w.SignTransaction([]byte{0})
	assert.Error(t, err)

	_, _, err = w.SignTransaction([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	encoded := Base58Encode(priv)

	blob, err := EncryptKey(encoded, "hunter2")
	require.NoError(t, err)

	decoded, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, encoded, decoded)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}
