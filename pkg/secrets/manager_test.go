package secrets

import (
	"testing"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/stretchr/testify/require"

	"github.com/wbibile/LetsConfide/pkg/config"
	"github.com/wbibile/LetsConfide/pkg/tpm2"
)

func newTestFactory(t *testing.T) *tpm2.DeviceFactory {
	t.Helper()
	sim, err := simulator.GetWithFixedSeedInsecure(1)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })

	tpmTransport := transport.FromReadWriteCloser(sim)
	gw := tpm2.NewGateway(tpmTransport, nil)
	return tpm2.NewDeviceFactory(gw, nil)
}

func TestIngestThenSessionDecrypt(t *testing.T) {
	factory := newTestFactory(t)
	headers := config.Default()

	entries := []Entry{
		{Name: "db.password", Value: "hunter2"},
		{Name: "api.key", Value: "s3cr3t-key-value"},
	}

	manager, err := Ingest(headers, factory, entries, nil)
	require.NoError(t, err)

	session, err := manager.StartDataAccessSession()
	require.NoError(t, err)
	defer session.Close()

	value, err := session.Decrypt("db.password")
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)

	value, err = session.Decrypt("api.key")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t-key-value", value)

	_, err = session.Decrypt("does.not.exist")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestReopenRoundTrip(t *testing.T) {
	factory := newTestFactory(t)
	headers := config.Default()

	entries := []Entry{
		{Name: "one", Value: "first value"},
		{Name: "two", Value: "second value"},
	}

	original, err := Ingest(headers, factory, entries, nil)
	require.NoError(t, err)
	blob := original.EncryptedData()

	reopened, err := Reopen(headers, factory, blob, nil)
	require.NoError(t, err)

	session, err := reopened.StartDataAccessSession()
	require.NoError(t, err)
	defer session.Close()

	value, err := session.Decrypt("one")
	require.NoError(t, err)
	require.Equal(t, "first value", value)

	value, err = session.Decrypt("two")
	require.NoError(t, err)
	require.Equal(t, "second value", value)
}

func TestReopenGeneratesFreshEphemeralDEK(t *testing.T) {
	factory := newTestFactory(t)
	headers := config.Default()

	entries := []Entry{{Name: "k", Value: "v"}}
	original, err := Ingest(headers, factory, entries, nil)
	require.NoError(t, err)
	blob := original.EncryptedData()

	reopened, err := Reopen(headers, factory, blob, nil)
	require.NoError(t, err)

	require.NotEqual(t, original.ephemeral.Wrapped(), reopened.ephemeral.Wrapped())
}
