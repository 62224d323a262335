// Package secrets implements the secrets manager (§4.H): it
// orchestrates per-entry encryption under an ephemeral DEK, wraps the
// serialized key/value list under a persistent DEK, and exposes a
// session-scoped decryption API.
package secrets

import (
	"fmt"

	"github.com/wbibile/LetsConfide/pkg/codec"
	"github.com/wbibile/LetsConfide/pkg/config"
	"github.com/wbibile/LetsConfide/pkg/hostdek"
	"github.com/wbibile/LetsConfide/pkg/logging"
	"github.com/wbibile/LetsConfide/pkg/pkcs7"
	"github.com/wbibile/LetsConfide/pkg/tpm2"
)

// Entry is one name/value pair from the plaintext input config. A
// slice of Entry (rather than a map) preserves the order values are
// encrypted in, matching the on-disk cipherData's iteration order.
type Entry struct {
	Name  string
	Value string
}

// EncryptedBlob is the persisted representation of a sealed
// LetsConfide file (§3, §4.I): a 64-byte seed, the device-wrapped
// persistent DEK, the AES-GCM ciphertext of the serialized key/value
// list, and the storage key's device tokens.
type EncryptedBlob struct {
	Seed         []byte
	EncryptedKey []byte
	CipherData   []byte
	DeviceTokens [][]byte
}

// ErrKeyNotFound is returned by Session.Decrypt for an unknown name.
// It never reveals which name was queried.
var ErrKeyNotFound = fmt.Errorf("Key not found")

// Manager orchestrates the ingest and reopen flows and hands out
// decryption sessions. It never holds a TPM device open longer than a
// single operation needs it.
type Manager struct {
	headers   config.Headers
	factory   *tpm2.DeviceFactory
	ephemeral *hostdek.HostDEK
	data      map[string][]byte
	blob      EncryptedBlob
	logger    *logging.Logger
}

// Headers returns the config headers this manager was opened with.
func (m *Manager) Headers() config.Headers {
	return m.headers
}

// EncryptedData returns the sealed representation to persist to disk.
func (m *Manager) EncryptedData() EncryptedBlob {
	return m.blob
}

// Ingest implements §4.H's ingest flow: it opens a new device, creates
// an ephemeral and a persistent HostDEK, encrypts every entry's value
// under the ephemeral DEK, and wraps the serialized (name, value) list
// under the persistent DEK.
func Ingest(headers config.Headers, factory *tpm2.DeviceFactory, entries []Entry, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	device, deviceTokens, err := factory.OpenNew(headers)
	if err != nil {
		return nil, fmt.Errorf("secrets: open device: %w", err)
	}
	defer device.Close()

	ephemeral, err := hostdek.GenerateNew(true, device, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: create ephemeral dek: %w", err)
	}

	seed, err := device.RandomBytes(hostdek.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("secrets: draw storage seed: %w", err)
	}
	storage, err := hostdek.GenerateNew(false, device, seed)
	if err != nil {
		return nil, fmt.Errorf("secrets: create storage dek: %w", err)
	}

	resolvedEphemeral, err := ephemeral.Resolve(device)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolve ephemeral dek: %w", err)
	}
	defer resolvedEphemeral.Close()

	data := make(map[string][]byte, len(entries))
	listParts := make([][]byte, 0, len(entries)*2)
	for _, e := range entries {
		paddedName := pkcs7.Pad([]byte(e.Name))
		paddedValue := pkcs7.Pad([]byte(e.Value))
		defer zero(paddedValue)

		ciphertext, err := resolvedEphemeral.Encrypt(paddedValue)
		if err != nil {
			return nil, fmt.Errorf("secrets: encrypt value: %w", err)
		}
		data[e.Name] = ciphertext
		listParts = append(listParts, paddedName, paddedValue)
	}

	encodedList, err := codec.Encode(listParts)
	if err != nil {
		return nil, fmt.Errorf("secrets: encode secrets list: %w", err)
	}

	resolvedStorage, err := storage.Resolve(device)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolve storage dek: %w", err)
	}
	defer resolvedStorage.Close()

	cipherData, err := resolvedStorage.Encrypt(encodedList)
	if err != nil {
		return nil, fmt.Errorf("secrets: encrypt secrets list: %w", err)
	}

	blob := EncryptedBlob{
		Seed:         storage.Seed(),
		EncryptedKey: storage.Wrapped(),
		CipherData:   cipherData,
		DeviceTokens: deviceTokens,
	}

	return &Manager{
		headers:   headers,
		factory:   factory,
		ephemeral: ephemeral,
		data:      data,
		blob:      blob,
		logger:    logger,
	}, nil
}

// Reopen implements §4.H's reopen flow: it reconstitutes the device
// and the persistent DEK from the sealed blob, decrypts the serialized
// list, and re-encrypts every value under a freshly derived ephemeral
// DEK for in-memory residency.
func Reopen(headers config.Headers, factory *tpm2.DeviceFactory, blob EncryptedBlob, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	device, err := factory.Open(headers, blob.DeviceTokens)
	if err != nil {
		return nil, fmt.Errorf("secrets: open device: %w", err)
	}
	defer device.Close()

	storage, err := hostdek.From(false, blob.EncryptedKey, blob.Seed)
	if err != nil {
		return nil, fmt.Errorf("secrets: reconstitute storage dek: %w", err)
	}
	resolvedStorage, err := storage.Resolve(device)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolve storage dek: %w", err)
	}
	defer resolvedStorage.Close()

	plaintextList, err := resolvedStorage.Decrypt(blob.CipherData)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt secrets list: %w", err)
	}
	defer zero(plaintextList)

	parts, err := codec.Decode(plaintextList)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode secrets list: %w", err)
	}
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("secrets: secrets list has an odd number of parts")
	}

	ephemeral, err := hostdek.GenerateNew(true, device, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: create ephemeral dek: %w", err)
	}
	resolvedEphemeral, err := ephemeral.Resolve(device)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolve ephemeral dek: %w", err)
	}
	defer resolvedEphemeral.Close()

	data := make(map[string][]byte, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		name, err := pkcs7.Strip(parts[i])
		if err != nil {
			return nil, fmt.Errorf("secrets: invalid padded name: %w", err)
		}
		ciphertext, err := resolvedEphemeral.Encrypt(parts[i+1])
		if err != nil {
			return nil, fmt.Errorf("secrets: re-encrypt value: %w", err)
		}
		data[string(name)] = ciphertext
	}

	return &Manager{
		headers:   headers,
		factory:   factory,
		ephemeral: ephemeral,
		data:      data,
		blob:      blob,
		logger:    logger,
	}, nil
}

// Session is a scoped decryption session: it holds a resolved
// ephemeral DEK in RAM and releases it on Close.
type Session struct {
	resolved *hostdek.ResolvedDEK
	data     map[string][]byte
}

// StartDataAccessSession opens a device, resolves the ephemeral DEK,
// and immediately closes the device: the resolved key stays in RAM for
// the session's lifetime, per §4.H.
func (m *Manager) StartDataAccessSession() (*Session, error) {
	device, err := m.factory.Open(m.headers, m.blob.DeviceTokens)
	if err != nil {
		return nil, fmt.Errorf("secrets: open device: %w", err)
	}
	defer device.Close()

	resolved, err := m.ephemeral.Resolve(device)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolve ephemeral dek: %w", err)
	}
	return &Session{resolved: resolved, data: m.data}, nil
}

// Decrypt returns the UTF-8 plaintext for name, or ErrKeyNotFound
// without revealing which name failed.
func (s *Session) Decrypt(name string) (string, error) {
	ciphertext, ok := s.data[name]
	if !ok {
		return "", ErrKeyNotFound
	}
	padded, err := s.resolved.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt failed")
	}
	defer zero(padded)

	plaintext, err := pkcs7.Strip(padded)
	if err != nil {
		return "", fmt.Errorf("secrets: invalid padding")
	}
	result := string(plaintext)
	zero(plaintext)
	return result, nil
}

// Close releases the session's resolved ephemeral DEK.
func (s *Session) Close() error {
	return s.resolved.Close()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
