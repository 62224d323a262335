package sealedyaml

import (
	"fmt"
	"io"
)

// MaxConfigSize is the maximum number of bytes a config file is
// allowed to occupy, mirroring the original implementation's stream
// guard.
const MaxConfigSize = 256 * 1024

// LimitedReader wraps an io.Reader and fails once more than
// MaxConfigSize bytes have been read from it, so a malicious or
// corrupted config file cannot exhaust memory during parsing.
type LimitedReader struct {
	r     io.Reader
	count int64
}

// NewLimitedReader wraps r with the config size guard.
func NewLimitedReader(r io.Reader) *LimitedReader {
	return &LimitedReader{r: r}
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.count += int64(n)
	if l.count > MaxConfigSize {
		return n, fmt.Errorf("sealedyaml: the config is too large")
	}
	return n, err
}
