package hostdek

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDevice is an in-memory stand-in for a TPM device: it "wraps" a
// DEK by prefixing it with a marker byte, which is enough to exercise
// HostDEK's control flow without a real TPM.
type fakeDevice struct {
	ephemeralWrapCalls int
	wrapCalls          int
}

func (f *fakeDevice) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func (f *fakeDevice) Wrap(dek []byte) ([]byte, error) {
	f.wrapCalls++
	return append([]byte{0x01}, dek...), nil
}

func (f *fakeDevice) Unwrap(wrapped []byte) ([]byte, error) {
	return wrapped[1:], nil
}

func (f *fakeDevice) WrapEphemeral(dek []byte) ([]byte, error) {
	f.ephemeralWrapCalls++
	return append([]byte{0x02}, dek...), nil
}

func (f *fakeDevice) UnwrapEphemeral(wrapped []byte) ([]byte, error) {
	return wrapped[1:], nil
}

func TestGenerateNewAndResolveRoundTrip(t *testing.T) {
	dev := &fakeDevice{}
	dek, err := GenerateNew(false, dev, nil)
	require.NoError(t, err)
	require.Len(t, dek.Seed(), SeedSize)

	resolved, err := dek.Resolve(dev)
	require.NoError(t, err)
	defer resolved.Close()

	ciphertext, err := resolved.Encrypt([]byte("hello world"))
	require.NoError(t, err)
	plaintext, err := resolved.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(plaintext))
}

func TestFromDerivesIVAndAADBySlicing(t *testing.T) {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	dek, err := From(false, []byte{0x01}, seed)
	require.NoError(t, err)
	require.Equal(t, seed[:IVSize], dek.IV())
	require.Equal(t, seed[IVSize:], dek.AAD())
}

func TestFromRejectsWrongSeedLength(t *testing.T) {
	_, err := From(false, []byte{0x01}, make([]byte, 10))
	require.Error(t, err)
}

func TestResolvedDEKZeroedOnClose(t *testing.T) {
	dev := &fakeDevice{}
	dek, err := GenerateNew(true, dev, nil)
	require.NoError(t, err)

	resolved, err := dek.Resolve(dev)
	require.NoError(t, err)
	require.NoError(t, resolved.Close())
	for _, b := range resolved.key {
		require.Equal(t, byte(0), b)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	dev := &fakeDevice{}
	dek, err := GenerateNew(false, dev, nil)
	require.NoError(t, err)
	resolved, err := dek.Resolve(dev)
	require.NoError(t, err)
	defer resolved.Close()

	ciphertext, err := resolved.Encrypt([]byte("secret"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = resolved.Decrypt(ciphertext)
	require.Error(t, err)
}
