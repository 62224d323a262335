// Package letsconfide is the public entry point: it opens a config
// file, sealing it in place on first use and reopening it on every
// later use, and hands out sessions to decrypt individual values.
package letsconfide

import (
	"fmt"
	"os"

	"github.com/wbibile/LetsConfide/pkg/config"
	"github.com/wbibile/LetsConfide/pkg/logging"
	"github.com/wbibile/LetsConfide/pkg/sealedyaml"
	"github.com/wbibile/LetsConfide/pkg/secrets"
	"github.com/wbibile/LetsConfide/pkg/tpm2"
)

// Options configures which TPM a Manager binds to.
type Options struct {
	// UseSimulator selects the in-memory software TPM instead of a
	// physical device. Test and local-development use only.
	UseSimulator bool
	// DevicePath is the TPM character device to open when UseSimulator
	// is false. Defaults to /dev/tpmrm0.
	DevicePath string
	Logger     *logging.Logger
}

func (o Options) devicePath() string {
	if o.DevicePath == "" {
		return "/dev/tpmrm0"
	}
	return o.DevicePath
}

func (o Options) logger() *logging.Logger {
	if o.Logger == nil {
		return logging.DefaultLogger()
	}
	return o.Logger
}

func openFactory(opts Options) (*tpm2.DeviceFactory, error) {
	var gw *tpm2.Gateway
	if opts.UseSimulator {
		sim, err := tpm2.OpenSimulator()
		if err != nil {
			return nil, err
		}
		gw = tpm2.NewGateway(sim, opts.logger())
	} else {
		dev, err := tpm2.OpenDevice(opts.devicePath())
		if err != nil {
			return nil, err
		}
		gw = tpm2.NewGateway(dev, opts.logger())
	}
	return tpm2.NewDeviceFactory(gw, opts.logger()), nil
}

// Manager wraps a parsed and sealed config file.
type Manager struct {
	inner   *secrets.Manager
	factory *tpm2.DeviceFactory
}

// Headers returns the effective config headers.
func (m *Manager) Headers() config.Headers {
	return m.inner.Headers()
}

// EncryptedData returns the sealed representation currently persisted
// to disk.
func (m *Manager) EncryptedData() secrets.EncryptedBlob {
	return m.inner.EncryptedData()
}

// StartDataAccessSession opens a scoped session for decrypting values.
func (m *Manager) StartDataAccessSession() (*Session, error) {
	s, err := m.inner.StartDataAccessSession()
	if err != nil {
		return nil, err
	}
	return &Session{inner: s}, nil
}

// Close releases the TPM connection backing this manager. It does not
// affect any Session already in progress.
func (m *Manager) Close() error {
	return m.factory.Close()
}

// Session decrypts values on demand while a resolved DEK is held in
// RAM.
type Session struct {
	inner *secrets.Session
}

// Decrypt returns the plaintext for name.
func (s *Session) Decrypt(name string) (string, error) {
	return s.inner.Decrypt(name)
}

// Close zeroes the session's in-memory key material.
func (s *Session) Close() error {
	return s.inner.Close()
}

// Parse opens the config file at path. If it holds plaintext data, the
// values are sealed under a freshly provisioned TPM device and the
// sealed form is written back to path before returning. If it already
// holds a sealed blob, the device is reconstituted from the persisted
// tokens.
func Parse(path string, opts Options) (*Manager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("letsconfide: open %s: %w", path, err)
	}
	parsed, err := sealedyaml.Parse(f)
	closeErr := f.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, fmt.Errorf("letsconfide: close %s: %w", path, closeErr)
	}

	factory, err := openFactory(opts)
	if err != nil {
		return nil, err
	}

	if parsed.IsEncrypted {
		mgr, err := secrets.Reopen(parsed.Headers, factory, parsed.Blob, opts.logger())
		if err != nil {
			factory.Close()
			return nil, err
		}
		return &Manager{inner: mgr, factory: factory}, nil
	}

	mgr, err := secrets.Ingest(parsed.Headers, factory, parsed.Entries, opts.logger())
	if err != nil {
		factory.Close()
		return nil, err
	}

	out, err := os.Create(path)
	if err != nil {
		factory.Close()
		return nil, fmt.Errorf("letsconfide: create %s: %w", path, err)
	}
	if err := sealedyaml.WriteSealed(out, parsed.Headers, mgr.EncryptedData()); err != nil {
		out.Close()
		factory.Close()
		return nil, fmt.Errorf("letsconfide: write sealed config: %w", err)
	}
	if err := out.Close(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("letsconfide: close %s: %w", path, err)
	}

	return &Manager{inner: mgr, factory: factory}, nil
}
