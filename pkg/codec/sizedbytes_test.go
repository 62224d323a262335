package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	parts := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0x42}, 300),
	}
	encoded, err := Encode(parts)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, len(parts), len(decoded))
	for i := range parts {
		require.Equal(t, parts[i], decoded[i])
	}
}

func TestEncodeRejectsOversizedPart(t *testing.T) {
	_, err := Encode([][]byte{make([]byte, MaxSegmentSize+1)})
	require.Error(t, err)
}

func TestDecodeRejectsTooLargeSegment(t *testing.T) {
	// first two bytes claim a 33-byte segment inside a 32-byte buffer.
	buf := make([]byte, 32)
	buf[0] = 0x00
	buf[1] = 33
	_, err := Decode(buf)
	require.ErrorContains(t, err, "byte segment size 33 at index 2 is too large")
}

func TestDecodeIsTotal(t *testing.T) {
	encoded, err := Encode([][]byte{[]byte("a"), []byte("bb")})
	require.NoError(t, err)
	// truncate the trailing byte so decode cannot fully consume input.
	_, err = Decode(encoded[:len(encoded)-1])
	require.Error(t, err)
}

func TestDecodeEmptyBuffer(t *testing.T) {
	parts, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, parts)
}
