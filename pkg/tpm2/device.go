package tpm2

import (
	"fmt"

	"github.com/wbibile/LetsConfide/pkg/config"
	"github.com/wbibile/LetsConfide/pkg/logging"
)

// storageKEK is satisfied by both AESStorageKey and RSAStorageKey.
type storageKEK interface {
	Wrap(dek []byte) ([]byte, error)
	Unwrap(wrapped []byte) ([]byte, error)
	Tokens() [][]byte
}

// ephemeralKEK is satisfied by both AESEphemeralKey and
// RSAEphemeralKey.
type ephemeralKEK interface {
	Wrap(dek []byte) ([]byte, error)
	Unwrap(wrapped []byte) ([]byte, error)
	Tokens() [][]byte
}

// Device is the TPM-bound security device from §3's data model: a
// primary key plus the persistent storage and ephemeral KEKs derived
// from it. All public methods serialize through the shared Gateway.
type Device struct {
	gateway   *Gateway
	logger    *logging.Logger
	headers   config.Headers
	primary   *PrimaryKey
	storage   storageKEK
	ephemeral ephemeralKEK
}

// openDevice builds the primary key and dispatches AES vs RSA
// construction of the storage and ephemeral keys per headers, exactly
// as TPMDevice's constructor does in the original implementation.
func openDevice(gw *Gateway, logger *logging.Logger, headers config.Headers, storageTokens [][]byte, ephemeralTokens [][]byte) (*Device, error) {
	primary, err := CreatePrimaryKey(gw, headers.PrimaryKeyType)
	if err != nil {
		return nil, fmt.Errorf("tpm2: create primary key: %w", err)
	}

	var storage storageKEK
	if headers.StorageKeyType.IsRSA() {
		if storageTokens == nil {
			storage, err = NewRSAStorageKey(gw, primary, headers)
		} else {
			storage, err = LoadRSAStorageKey(gw, primary, headers, storageTokens)
		}
	} else {
		if storageTokens == nil {
			storage, err = NewAESStorageKey(gw, primary, headers)
		} else {
			storage, err = LoadAESStorageKey(gw, primary, headers, storageTokens)
		}
	}
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("tpm2: create storage key: %w", err)
	}

	var ephemeral ephemeralKEK
	if headers.EphemeralKeyType.IsRSA() {
		if ephemeralTokens == nil {
			ephemeral, err = NewRSAEphemeralKey(gw, headers.EphemeralKeyType)
		} else {
			ephemeral, err = LoadRSAEphemeralKey(gw, headers.EphemeralKeyType, ephemeralTokens)
		}
	} else {
		if ephemeralTokens == nil {
			ephemeral, err = NewAESEphemeralKey(gw, headers.EphemeralKeyType)
		} else {
			ephemeral, err = LoadAESEphemeralKey(gw, headers.EphemeralKeyType, ephemeralTokens)
		}
	}
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("tpm2: create ephemeral key: %w", err)
	}

	return &Device{
		gateway:   gw,
		logger:    logger,
		headers:   headers,
		primary:   primary,
		storage:   storage,
		ephemeral: ephemeral,
	}, nil
}

// Wrap wraps a 32-byte DEK with the persistent storage KEK.
func (d *Device) Wrap(dek []byte) ([]byte, error) {
	return d.storage.Wrap(dek)
}

// Unwrap unwraps a DEK previously wrapped with the persistent storage
// KEK.
func (d *Device) Unwrap(wrapped []byte) ([]byte, error) {
	return d.storage.Unwrap(wrapped)
}

// WrapEphemeral wraps a 32-byte DEK with the null-hierarchy ephemeral
// KEK.
func (d *Device) WrapEphemeral(dek []byte) ([]byte, error) {
	return d.ephemeral.Wrap(dek)
}

// UnwrapEphemeral unwraps a DEK previously wrapped with the ephemeral
// KEK.
func (d *Device) UnwrapEphemeral(wrapped []byte) ([]byte, error) {
	return d.ephemeral.Unwrap(wrapped)
}

// RandomBytes draws n random bytes from the TPM.
func (d *Device) RandomBytes(n int) ([]byte, error) {
	return d.gateway.RandomBytes(n)
}

// DeviceTokens returns the persistent storage key's {private, public}
// blobs — the only device state written to the on-disk EncryptedBlob.
func (d *Device) DeviceTokens() [][]byte {
	return d.storage.Tokens()
}

// EphemeralTokens returns the ephemeral key's token list. These are
// process-lifetime only and are never persisted.
func (d *Device) EphemeralTokens() [][]byte {
	return d.ephemeral.Tokens()
}

// Close flushes the primary key's transient handle. The storage and
// ephemeral keys are loaded and flushed per-operation, so there is
// nothing further to release here.
func (d *Device) Close() error {
	if err := d.primary.Close(); err != nil {
		d.logger.MaybeError(err)
		return err
	}
	return nil
}
