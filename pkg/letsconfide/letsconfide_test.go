package letsconfide

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSealsThenReopens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  db.password: hunter2\n"), 0o600))

	opts := Options{UseSimulator: true}

	manager, err := Parse(path, opts)
	require.NoError(t, err)
	defer manager.Close()

	session, err := manager.StartDataAccessSession()
	require.NoError(t, err)
	value, err := session.Decrypt("db.password")
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
	require.NoError(t, session.Close())

	sealed, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(sealed), "encryptedData")

	// Each Parse opens its own simulator, and only one simulator can be
	// open at a time, so the first manager is closed before reopening.
	require.NoError(t, manager.Close())

	reopened, err := Parse(path, opts)
	require.NoError(t, err)
	defer reopened.Close()

	session2, err := reopened.StartDataAccessSession()
	require.NoError(t, err)
	defer session2.Close()

	value, err = session2.Decrypt("db.password")
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
}
