package pkcs7

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPadStripRoundTrip(t *testing.T) {
	cases := []int{0, 1, 17, 31, 32, 33, 64, 96, 128}
	for _, n := range cases {
		data := bytes.Repeat([]byte{0xAB}, n)
		padded := Pad(data)
		require.Equal(t, 0, len(padded)%BlockSize)
		stripped, err := Strip(padded)
		require.NoError(t, err)
		require.Equal(t, data, stripped)
	}
}

func TestPadAlwaysAddsFullBlockOnExactMultiple(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 64)
	padded := Pad(data)
	require.Len(t, padded, 96)
	for _, b := range padded[64:] {
		require.Equal(t, byte(32), b)
	}
}

func TestStripRejectsBadPadByte(t *testing.T) {
	padded := Pad([]byte("hello"))
	padded[len(padded)-1] = 0xFF
	_, err := Strip(padded)
	require.Error(t, err)
}
