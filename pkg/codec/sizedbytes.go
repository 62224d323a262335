// Package codec implements the sized-byte-array framing used to pack
// several byte slices into one contiguous buffer: each segment is
// prefixed by its length as a big-endian uint16.
package codec

import (
	"encoding/binary"
	"fmt"
)

// MaxSegmentSize is the largest byte slice that can be framed as a
// single segment.
const MaxSegmentSize = 65535

// Encode concatenates parts into a sized-byte-array. It errors if any
// part exceeds MaxSegmentSize bytes.
func Encode(parts [][]byte) ([]byte, error) {
	total := 0
	for _, p := range parts {
		if len(p) > MaxSegmentSize {
			return nil, fmt.Errorf("codec: data elements greater than %d are not supported", MaxSegmentSize)
		}
		total += 2 + len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(p)))
		out = append(out, lenBuf[:]...)
		out = append(out, p...)
	}
	return out, nil
}

// Decode walks buf left to right, reading a two-byte big-endian length
// then that many bytes, until the whole buffer is consumed. Decoding
// is total: a well-formed input has zero trailing bytes.
func Decode(buf []byte) ([][]byte, error) {
	var parts [][]byte
	pos := 0
	for pos < len(buf) {
		size, err := sizeOfNextEntry(buf, pos)
		if err != nil {
			return nil, err
		}
		start := pos + 2
		end := start + size
		if end > len(buf) {
			return nil, fmt.Errorf("codec: invalid sized byte array, byte segment size %d at index %d is too large", size, start)
		}
		parts = append(parts, buf[start:end])
		pos = end
	}
	return parts, nil
}

func sizeOfNextEntry(buf []byte, pos int) (int, error) {
	if pos+2 > len(buf) {
		return 0, fmt.Errorf("codec: invalid sized byte array, byte segment size %d at index %d is too large", len(buf)-pos, pos+2)
	}
	return int(binary.BigEndian.Uint16(buf[pos : pos+2])), nil
}
