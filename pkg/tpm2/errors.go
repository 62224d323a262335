package tpm2

import "errors"

// Sentinel errors surfaced by the device layer. TPM command failures are
// wrapped with additional context via fmt.Errorf("...: %w", ...); the
// sentinels below are returned either bare or wrapped, so match them
// with errors.Is.
var (
	// ErrEncryptedKeyFormatInvalid is returned when a wrapped DEK does not
	// decode to exactly two sized-byte-array parts. Its text carries no
	// "tpm2: " prefix, unlike the other sentinels here.
	ErrEncryptedKeyFormatInvalid = errors.New("Encrypted key format is invalid")

	// ErrInvalidPCRSelection is returned for a PCR selection of 0 or
	// greater than the 24-bit mask.
	ErrInvalidPCRSelection = errors.New("tpm2: invalid pcr selection")

	// ErrInvalidEphemeralTokens is returned when reconstituting the
	// ephemeral key from a token list of the wrong arity.
	ErrInvalidEphemeralTokens = errors.New("tpm2: could not reconstitute ephemeral key, invalid number of tokens")

	// ErrInvalidStorageTokens is returned when reconstituting the
	// persistent storage key from a token list of the wrong arity.
	ErrInvalidStorageTokens = errors.New("tpm2: could not reconstitute storage key, invalid number of tokens")

	// ErrDEKWrongSize is returned when a DEK presented for wrapping is
	// not exactly 32 bytes.
	ErrDEKWrongSize = errors.New("tpm2: dek must be exactly 32 bytes")

	// ErrUnwrapLengthMismatch is returned when a CFB unwrap does not
	// produce exactly 64 bytes.
	ErrUnwrapLengthMismatch = errors.New("tpm2: unwrap produced unexpected length")
)
