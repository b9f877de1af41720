package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexion256/caremax-sub002/pkg/persistence"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "caremax.db")
	cfgPath := filepath.Join(dir, "caremax.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  path: "+dbPath+"\n"), 0o600))
	return cfgPath, dbPath
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "caremax dev")
}

func TestMigrateCommand(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	out, err := runCLI(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version")
	assert.FileExists(t, dbPath)

	store, err := persistence.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	v, err := persistence.GetSchemaVersion(store.DB())
	require.NoError(t, err)
	assert.Equal(t, persistence.CurrentSchemaVersion, v)
}

func TestConsolidateNotesCommandWithNoTenants(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := runCLI(t, "consolidate-notes", "--config", cfgPath)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUsageRequiresPrometheusURL(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := runCLI(t, "usage", "--config", cfgPath, "--tenant", "clinic")
	assert.ErrorContains(t, err, "prometheus_url")
}
