package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultHeadersValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestEqualIgnoresEphemeralKeyType(t *testing.T) {
	a := Default()
	b := Default()
	b.EphemeralKeyType = RSA2048
	require.True(t, a.Equal(b))
}

func TestEqualDetectsOtherDifferences(t *testing.T) {
	a := Default()
	b := Default()
	b.PCRHash = SHA1
	require.False(t, a.Equal(b))
}

func TestValidateRejectsBadPCRSelection(t *testing.T) {
	h := Default()
	h.PCRSelection = 0
	require.Error(t, h.Validate())

	h.PCRSelection = MaxPCRSelection + 1
	require.Error(t, h.Validate())
}

func TestWithDefaultsFillsOnlyMissingFields(t *testing.T) {
	h := Headers{StorageKeyType: RSA1024}
	filled := h.WithDefaults()
	require.Equal(t, RSA1024, filled.StorageKeyType)
	require.Equal(t, Default().PrimaryKeyType, filled.PrimaryKeyType)
	require.Equal(t, Default().PCRHash, filled.PCRHash)
}
