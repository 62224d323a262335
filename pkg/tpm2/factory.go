package tpm2

import (
	"sync"

	"github.com/wbibile/LetsConfide/pkg/config"
	"github.com/wbibile/LetsConfide/pkg/logging"
)

// DeviceFactory manufactures Devices sharing a single Gateway. It
// caches the ephemeral KEK's tokens for the lifetime of the factory:
// the first device it opens generates them, and every later device
// opened through the same factory reuses them. A new factory starts
// with an empty cache and so always derives a fresh ephemeral key.
type DeviceFactory struct {
	gateway *Gateway
	logger  *logging.Logger

	mu              sync.Mutex
	ephemeralTokens [][]byte
}

// NewDeviceFactory creates a factory bound to gw. Typically one
// instance exists per process.
func NewDeviceFactory(gw *Gateway, logger *logging.Logger) *DeviceFactory {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &DeviceFactory{gateway: gw, logger: logger}
}

// OpenNew creates a device and generates all associated persistent
// device tokens, returning both the device and the tokens the caller
// must persist to reconstitute it later.
func (f *DeviceFactory) OpenNew(headers config.Headers) (*Device, [][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ephemeralTokens := f.ephemeralTokens
	device, err := openDevice(f.gateway, f.logger, headers, nil, ephemeralTokens)
	if err != nil {
		return nil, nil, err
	}
	if ephemeralTokens == nil {
		f.ephemeralTokens = device.EphemeralTokens()
	}
	return device, device.DeviceTokens(), nil
}

// Open reconstitutes a device from previously-persisted storage-key
// tokens.
func (f *DeviceFactory) Open(headers config.Headers, deviceTokens [][]byte) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ephemeralTokens := f.ephemeralTokens
	device, err := openDevice(f.gateway, f.logger, headers, deviceTokens, ephemeralTokens)
	if err != nil {
		return nil, err
	}
	if ephemeralTokens == nil {
		f.ephemeralTokens = device.EphemeralTokens()
	}
	return device, nil
}

// Close closes the underlying gateway's transport. Call this once,
// after every device it produced has been closed.
func (f *DeviceFactory) Close() error {
	return f.gateway.Close()
}
