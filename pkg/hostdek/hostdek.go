// Package hostdek implements the host-side Data-Encryption-Key layer
// (§4.G): 256-bit AES-GCM keys that are never persisted in the clear,
// only as {seed, device-wrapped key}, and that resolve to a
// short-lived cleartext key on demand.
package hostdek

import (
	"bytes"
	"fmt"

	"github.com/wbibile/LetsConfide/pkg/aead"
)

// KeySize is the DEK size in bytes (AES-256).
const KeySize = 32

// SeedSize is the size of the seed a HostDEK's IV and associated data
// are derived from.
const SeedSize = 64

// IVSize is the AES-GCM IV size derived from the seed's first bytes.
const IVSize = 12

// Device is the minimal device surface HostDEK needs: random-byte
// generation and the persistent/ephemeral wrap-unwrap operations.
// *tpm2.Device satisfies this structurally.
type Device interface {
	RandomBytes(n int) ([]byte, error)
	Wrap(dek []byte) ([]byte, error)
	Unwrap(wrapped []byte) ([]byte, error)
	WrapEphemeral(dek []byte) ([]byte, error)
	UnwrapEphemeral(wrapped []byte) ([]byte, error)
}

// HostDEK is the wire-and-memory representation from §3: it never
// holds plaintext key material, only the device-wrapped key and the
// 64-byte seed its IV and associated data are sliced from.
type HostDEK struct {
	isEphemeral bool
	wrapped     []byte
	seed        []byte
}

// GenerateNew draws a fresh 32-byte DEK from device, rejecting
// candidates whose first 16 bytes are all zero, wraps it via the
// device's ephemeral or persistent KEK depending on isEphemeral, and
// derives iv/aad from seed (drawing a fresh 64-byte seed if seed is
// nil).
func GenerateNew(isEphemeral bool, device Device, seed []byte) (*HostDEK, error) {
	if seed == nil {
		s, err := device.RandomBytes(SeedSize)
		if err != nil {
			return nil, fmt.Errorf("hostdek: failed to draw seed: %w", err)
		}
		seed = s
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("hostdek: seed must be %d bytes, got %d", SeedSize, len(seed))
	}

	var dek []byte
	for {
		candidate, err := device.RandomBytes(KeySize)
		if err != nil {
			return nil, fmt.Errorf("hostdek: failed to draw dek: %w", err)
		}
		if !isZero(candidate[:KeySize/2]) {
			dek = candidate
			break
		}
	}
	defer zero(dek)

	var wrapped []byte
	var err error
	if isEphemeral {
		wrapped, err = device.WrapEphemeral(dek)
	} else {
		wrapped, err = device.Wrap(dek)
	}
	if err != nil {
		return nil, fmt.Errorf("hostdek: wrap failed: %w", err)
	}

	return &HostDEK{isEphemeral: isEphemeral, wrapped: wrapped, seed: seed}, nil
}

// From reconstitutes a HostDEK from its persisted wrapped key and
// seed. No TPM call is made.
func From(isEphemeral bool, wrapped, seed []byte) (*HostDEK, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("hostdek: seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	return &HostDEK{isEphemeral: isEphemeral, wrapped: wrapped, seed: seed}, nil
}

// Wrapped returns the device-wrapped key, as persisted on disk.
func (h *HostDEK) Wrapped() []byte { return h.wrapped }

// Seed returns the 64-byte seed the IV and AAD are derived from.
func (h *HostDEK) Seed() []byte { return h.seed }

// IV returns the AES-GCM IV: the seed's first 12 bytes.
func (h *HostDEK) IV() []byte { return h.seed[:IVSize] }

// AAD returns the associated data: the seed's remaining 52 bytes.
func (h *HostDEK) AAD() []byte { return h.seed[IVSize:] }

// Resolve unwraps the DEK via device and returns a ResolvedDEK holding
// the cleartext key. The caller must Close the ResolvedDEK on every
// exit path to guarantee the key is zeroed.
func (h *HostDEK) Resolve(device Device) (*ResolvedDEK, error) {
	var dek []byte
	var err error
	if h.isEphemeral {
		dek, err = device.UnwrapEphemeral(h.wrapped)
	} else {
		dek, err = device.Unwrap(h.wrapped)
	}
	if err != nil {
		return nil, fmt.Errorf("hostdek: resolve failed: %w", err)
	}
	if len(dek) != KeySize {
		zero(dek)
		return nil, fmt.Errorf("hostdek: resolved key has wrong length %d", len(dek))
	}
	return &ResolvedDEK{key: dek, iv: h.IV(), aad: h.AAD()}, nil
}

// ResolvedDEK holds a cleartext DEK for the minimum window required.
// Its key buffer must be zeroed on every exit path; Close does this.
type ResolvedDEK struct {
	key    []byte
	iv     []byte
	aad    []byte
	closed bool
}

// Encrypt seals plaintext under the resolved key, iv and aad.
func (r *ResolvedDEK) Encrypt(plaintext []byte) ([]byte, error) {
	return aead.Seal(r.key, r.iv, r.aad, plaintext)
}

// Decrypt opens ciphertext under the resolved key, iv and aad. A tag
// mismatch surfaces as a single opaque error; it never echoes
// plaintext or key material.
func (r *ResolvedDEK) Decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := aead.Open(r.key, r.iv, r.aad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("hostdek: decrypt failed")
	}
	return plaintext, nil
}

// Close zeroes the cleartext key buffer. Safe to call more than once.
func (r *ResolvedDEK) Close() error {
	if r.closed {
		return nil
	}
	zero(r.key)
	r.closed = true
	return nil
}

func isZero(b []byte) bool {
	return bytes.Equal(b, make([]byte, len(b)))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
