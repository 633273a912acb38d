package common

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthSign(t *testing.T) {
	privateKeyHex := "4c0883a69102937d6231471b5dbb6204fe5129617082790e20c3a52a9e7efed2"
	authToken := make([]byte, 32)
	_, err := rand.Read(authToken)
	require.NoError(t, err, "Error generating authToken")
	messageHash := Keccak256(authToken)

	signature, err := EthSign(privateKeyHex, messageHash)
	require.NoError(t, err, "Error during EthSign")

	expected, err := PrivateKeyAddress(privateKeyHex)
	require.NoError(t, err)

	recovered, err := RecoverSigner(messageHash, signature)
	require.NoError(t, err, "Signature recovery failed")
	assert.Equal(t, expected, recovered)

	// A different message recovers a different address.
	other, err := RecoverSigner(Keccak256([]byte("other")), signature)
	if err == nil {
		assert.NotEqual(t, expected, other)
	}
}

func TestRecoverSignerRejectsBadRecoveryID(t *testing.T) {
	var sig Signature
	sig[64] = 9
	_, err := RecoverSigner(Keccak256([]byte("x")), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestUintN(t *testing.T) {
	b := make([]byte, 7)
	PutUintN(b, MaxUint56, 7)
	assert.Equal(t, uint64(MaxUint56), UintN(b))

	b = make([]byte, 3)
	PutUintN(b, 0x010203, 3)
	assert.Equal(t, []byte{1, 2, 3}, b)
	assert.Equal(t, uint64(0x010203), UintN(b))

	assert.Equal(t, []byte{0, 0, 1, 0}, Uint32ToBytes(256))
}

func TestKeccak256Concat(t *testing.T) {
	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
	assert.Equal(t,
		"0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		Keccak256(nil).Hex())
}
