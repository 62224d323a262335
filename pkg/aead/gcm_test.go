package aead

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)
	aad := []byte("associated-data")
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	ciphertext, err := Seal(key, iv, aad, []byte("top secret"))
	require.NoError(t, err)

	plaintext, err := Open(key, iv, aad, ciphertext)
	require.NoError(t, err)
	require.Equal(t, "top secret", string(plaintext))
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	ciphertext, err := Seal(key, iv, nil, []byte("top secret"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = Open(key, iv, nil, ciphertext)
	require.Error(t, err)
}
