package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pegrollup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "data_dir: /var/lib/pegrollup\nlog_level: debug\nmax_block_transactions: 16\nenabled_log_modules: builder_mod,auditor_mod\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pegrollup", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 16, cfg.MaxBlockTransactions)
	assert.Equal(t, 4096, cfg.MaxSoftTransactions)
	assert.Equal(t, uint64(10), cfg.ConfirmationWindow)
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(writeConfig(t, "log_level: loud\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "max_soft_transactions: 8\nmax_block_transactions: 9\n"))
	assert.ErrorIs(t, err, ErrBlockLimit)

	_, err = Load(writeConfig(t, "unknown_key: 1\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.OTLPEndpoint = "localhost:4318"
	out, err := cfg.Marshal()
	require.NoError(t, err)
	cfg2, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}
