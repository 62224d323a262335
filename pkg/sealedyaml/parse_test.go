package sealedyaml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wbibile/LetsConfide/pkg/config"
	"github.com/wbibile/LetsConfide/pkg/secrets"
)

func TestParsePlainData(t *testing.T) {
	input := "data:\n  db.password: hunter2\n  api.key: abc123\n"
	parsed, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.False(t, parsed.IsEncrypted)
	require.Equal(t, config.Default(), parsed.Headers)
	require.ElementsMatch(t, []secrets.Entry{
		{Name: "db.password", Value: "hunter2"},
		{Name: "api.key", Value: "abc123"},
	}, parsed.Entries)
}

func TestParseHeadersOverrideDefaults(t *testing.T) {
	input := "headers:\n  primaryKeyType: RSA2048\n  pcrSelection: 3\n" +
		"data:\n  a: b\n"
	parsed, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, config.CipherType("RSA2048"), parsed.Headers.PrimaryKeyType)
	require.Equal(t, uint32(3), parsed.Headers.PCRSelection)
}

func TestParseRejectsDuplicateKey(t *testing.T) {
	input := "data:\n  a: 1\n  a: 2\n"
	_, err := Parse(strings.NewReader(input))
	require.ErrorContains(t, err, "Error parsing YAML file: Duplicate key at line 3")
}

func TestParseRejectsUnknownHeader(t *testing.T) {
	input := "headers:\n  bogus: 1\ndata:\n  a: b\n"
	_, err := Parse(strings.NewReader(input))
	require.ErrorContains(t, err, "Error parsing YAML file: Invalid config header at line 2")
}

func TestParseRejectsAlias(t *testing.T) {
	input := "data:\n  a: &x hello\n  b: *x\n"
	_, err := Parse(strings.NewReader(input))
	require.ErrorContains(t, err, "aliases are not supported")
}

func TestParseRejectsOversizedConfig(t *testing.T) {
	huge := "data:\n  a: \"" + strings.Repeat("x", MaxConfigSize+1) + "\"\n"
	_, err := Parse(strings.NewReader(huge))
	require.ErrorContains(t, err, "too large")
}

func TestWriteSealedThenParseRoundTrip(t *testing.T) {
	headers := config.Default()
	blob := secrets.EncryptedBlob{
		Seed:         bytes.Repeat([]byte{0x11}, 64),
		EncryptedKey: bytes.Repeat([]byte{0x22}, 40),
		CipherData:   bytes.Repeat([]byte{0x33}, 96),
		DeviceTokens: [][]byte{bytes.Repeat([]byte{0x44}, 20), bytes.Repeat([]byte{0x55}, 300)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSealed(&buf, headers, blob))

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	require.True(t, parsed.IsEncrypted)
	require.Equal(t, headers, parsed.Headers)
	require.Equal(t, blob.Seed, parsed.Blob.Seed)
	require.Equal(t, blob.EncryptedKey, parsed.Blob.EncryptedKey)
	require.Equal(t, blob.CipherData, parsed.Blob.CipherData)
	require.Equal(t, blob.DeviceTokens, parsed.Blob.DeviceTokens)
}
