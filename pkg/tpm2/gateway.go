// Package tpm2 implements the LetsConfide device layer on top of a real
// or simulated TPM 2.0: the shared command gateway, PCR policy
// sessions, and the primary/storage/ephemeral key objects the host DEK
// layer wraps and unwraps through.
package tpm2

import (
	"fmt"
	"sync"

	gotpm "github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/wbibile/LetsConfide/pkg/logging"
)

// maxRandomBytesPerCall is the largest number of bytes TPM2_GetRandom
// is guaranteed to return in a single call.
const maxRandomBytesPerCall = 48

// Gateway serializes every TPM command issued through it behind its
// own mutex. TPM hardware is not reentrant; concurrent callers of the
// same Gateway block on gw.mu rather than racing the transport.
// Separate Gateways do not share a mutex.
type Gateway struct {
	mu        sync.Mutex
	transport transport.TPMCloser
	logger    *logging.Logger
}

// NewGateway wraps an already-open TPM transport (hardware, software
// TPM, or the go-tpm-tools simulator).
func NewGateway(t transport.TPMCloser, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Gateway{transport: t, logger: logger}
}

// Transport returns the underlying transport for command structs that
// must call Execute directly. Callers must hold no expectation of
// exclusivity beyond the call they make while holding the lock via
// Do.
func (g *Gateway) Transport() transport.TPMCloser {
	return g.transport
}

// Do runs fn with the gateway mutex held, guaranteeing the command
// sequence fn issues is not interleaved with any other caller's.
func (g *Gateway) Do(fn func(t transport.TPMCloser) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.transport)
}

// RandomBytes returns n cryptographically random bytes drawn from the
// TPM, looping over TPM2_GetRandom since a single call returns at most
// maxRandomBytesPerCall bytes.
func (g *Gateway) RandomBytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	err := g.Do(func(t transport.TPMCloser) error {
		for len(out) < n {
			want := n - len(out)
			if want > maxRandomBytesPerCall {
				want = maxRandomBytesPerCall
			}
			resp, err := gotpm.GetRandom{BytesRequested: uint16(want)}.Execute(t)
			if err != nil {
				return fmt.Errorf("tpm2: get random failed: %w", err)
			}
			if len(resp.RandomBytes.Buffer) == 0 {
				return fmt.Errorf("tpm2: get random returned zero bytes")
			}
			out = append(out, resp.RandomBytes.Buffer...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// Flush flushes a transient handle. Failure to flush a handle leaks a
// TPM resource slot. The key objects defer Flush and discard its
// error; Device.Close logs it and returns it.
func (g *Gateway) Flush(handle gotpm.TPMHandle) error {
	return g.Do(func(t transport.TPMCloser) error {
		_, err := gotpm.FlushContext{FlushHandle: handle}.Execute(t)
		if err != nil {
			return fmt.Errorf("tpm2: flush context failed: %w", err)
		}
		return nil
	})
}

// Close closes the underlying transport.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transport.Close()
}
