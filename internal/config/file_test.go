package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryFromFileMissingFileFallsBackToFactory(t *testing.T) {
	r, err := NewRegistryFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, FactoryDefaults().MaxConcurrentRuns, r.Snapshot().MaxConcurrentRuns)
}

func TestNewRegistryFromFileOverlaysPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_runs: 9\n"), 0o644))

	r, err := NewRegistryFromFile(path)
	require.NoError(t, err)
	snap := r.Snapshot()
	assert.Equal(t, 9, snap.MaxConcurrentRuns)
	assert.Equal(t, FactoryDefaults().MaxSecondaryBuyers, snap.MaxSecondaryBuyers)
}

func TestNewRegistryFromFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_runs: [this is not an int\n"), 0o644))

	_, err := NewRegistryFromFile(path)
	assert.Error(t, err)
}
