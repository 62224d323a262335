package tpm2

import (
	"bytes"
	"fmt"

	"github.com/wbibile/LetsConfide/pkg/codec"
)

// cfbCodec performs the raw TPM-side CFB encrypt/decrypt for a wrap
// handler. decrypt selects TPM2_EncryptDecrypt's direction.
type cfbCodec interface {
	cfb(iv []byte, data []byte, decrypt bool) ([]byte, error)
	randomBytes(n int) ([]byte, error)
}

// wrapDEK implements §4.F: pad dek to 64 bytes with TPM-sourced random
// padding, draw a non-zero 16-byte IV, CFB-encrypt, and frame the
// result as a sized-byte-array of [iv, ciphertext].
func wrapDEK(c cfbCodec, dek []byte) ([]byte, error) {
	if len(dek) != 32 {
		return nil, ErrDEKWrongSize
	}
	padding, err := c.randomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to draw wrap padding: %w", err)
	}
	plaintext := make([]byte, 0, 64)
	plaintext = append(plaintext, dek...)
	plaintext = append(plaintext, padding...)
	defer zero(plaintext)

	iv, err := nonZeroIV(c)
	if err != nil {
		return nil, err
	}

	ciphertext, err := c.cfb(iv, plaintext, false)
	if err != nil {
		return nil, fmt.Errorf("tpm2: wrap failed: %w", err)
	}
	return codec.Encode([][]byte{iv, ciphertext})
}

// unwrapDEK implements §4.F's inverse: split the sized-byte-array,
// require exactly two parts, CFB-decrypt, require a 64-byte plaintext,
// and return only the first 32 bytes (the DEK), zeroing the rest.
func unwrapDEK(c cfbCodec, wrapped []byte) ([]byte, error) {
	parts, err := codec.Decode(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptedKeyFormatInvalid, err)
	}
	if len(parts) != 2 {
		return nil, ErrEncryptedKeyFormatInvalid
	}
	iv, ciphertext := parts[0], parts[1]

	plaintext, err := c.cfb(iv, ciphertext, true)
	if err != nil {
		return nil, fmt.Errorf("tpm2: unwrap failed: %w", err)
	}
	defer zero(plaintext)
	if len(plaintext) != 64 {
		return nil, ErrUnwrapLengthMismatch
	}
	dek := make([]byte, 32)
	copy(dek, plaintext[:32])
	return dek, nil
}

// nonZeroIV draws 16-byte IVs from c until a non-all-zero one is
// found, per §4.F step 2.
func nonZeroIV(c cfbCodec) ([]byte, error) {
	for {
		iv, err := c.randomBytes(16)
		if err != nil {
			return nil, fmt.Errorf("tpm2: failed to draw wrap iv: %w", err)
		}
		if !bytes.Equal(iv, make([]byte, 16)) {
			return iv, nil
		}
	}
}

// zero overwrites b with zero bytes. Used to erase intermediate
// plaintext buffers on every exit path.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
