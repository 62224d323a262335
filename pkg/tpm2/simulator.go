package tpm2

import (
	"fmt"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
)

// simulatorCloser adapts *simulator.Simulator to transport.TPMCloser.
// This is the software stub spec.md describes as test-only: it is
// never used outside test setup and the CLI's development flag.
type simulatorCloser struct {
	sim       *simulator.Simulator
	transport transport.TPM
}

func (s *simulatorCloser) Send(input []byte) ([]byte, error) {
	return s.transport.Send(input)
}

func (s *simulatorCloser) Close() error {
	return s.sim.Close()
}

// OpenSimulator opens an in-memory software TPM. It is not a supported
// deployment path; it exists so tests and local development can
// exercise the device layer without physical TPM hardware.
func OpenSimulator() (transport.TPMCloser, error) {
	sim, err := simulator.GetWithFixedSeedInsecure(1)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to start simulator: %w", err)
	}
	return &simulatorCloser{
		sim:       sim,
		transport: transport.FromReadWriter(sim),
	}, nil
}

// OpenDevice opens a connection to the platform's TPM 2.0 character
// device (typically /dev/tpmrm0).
func OpenDevice(path string) (transport.TPMCloser, error) {
	tpmConn, err := transport.OpenTPM(path)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to open TPM device %q: %w", path, err)
	}
	return tpmConn, nil
}
