package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pointPathsAtTempDir keeps Load from creating directories in the
// working tree during tests.
func pointPathsAtTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NSE_PATHS_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("NSE_PATHS_REPORTS_DIR", filepath.Join(dir, "reports"))
	t.Setenv("NSE_PATHS_LOGS_DIR", filepath.Join(dir, "logs"))
	t.Setenv("NSE_STORE_DIR", filepath.Join(dir, "store"))
	t.Setenv("NSE_CONFIG_FILE", filepath.Join(dir, "no-such-config.yaml"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	pointPathsAtTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, "https://www.nseindia.com", cfg.NSE.BaseURL)
	assert.Equal(t, "https://nsearchives.nseindia.com", cfg.NSE.ArchivesURL)
	assert.Equal(t, 3.0, cfg.NSE.RateLimit)
	assert.Equal(t, 2, cfg.NSE.RetryCount)

	assert.Equal(t, 16, cfg.Enrich.Workers)
	assert.Equal(t, 50, cfg.Enrich.ChunkSize)
	assert.Equal(t, 90*time.Second, cfg.Enrich.ChunkBudget)

	assert.Empty(t, cfg.Drive.CredentialsFile, "drive upload is opt-in")
	assert.Equal(t, "NSE Reports", cfg.Drive.FolderName)
}

func TestLoadEnvOverrides(t *testing.T) {
	pointPathsAtTempDir(t)
	t.Setenv("NSE_SERVER_PORT", "9191")
	t.Setenv("NSE_LOGGING_LEVEL", "debug")
	t.Setenv("NSE_ENRICH_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Enrich.Workers)
	assert.Equal(t, ":9191", cfg.Server.GetAddress())
}

func TestLoadFromFile(t *testing.T) {
	dir := pointPathsAtTempDir(t)

	configFile := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 7070
nse:
  base_url: https://test.example.com
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	t.Setenv("NSE_CONFIG_FILE", configFile)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "https://test.example.com", cfg.NSE.BaseURL)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := pointPathsAtTempDir(t)

	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server:\n  port: 7070\n"), 0644))
	t.Setenv("NSE_CONFIG_FILE", configFile)
	t.Setenv("NSE_SERVER_PORT", "9191")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := pointPathsAtTempDir(t)

	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server: [not a mapping"), 0644))
	t.Setenv("NSE_CONFIG_FILE", configFile)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "port",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Enrich.Workers = 0 },
			wantErr: "workers",
		},
		{
			name:    "zero chunk size",
			mutate:  func(c *Config) { c.Enrich.ChunkSize = 0 },
			wantErr: "chunk size",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.NSE.RateLimit = -1 },
			wantErr: "rate limit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			cfg.Server.Port = 8080
			cfg.Enrich.Workers = 16
			cfg.Enrich.ChunkSize = 50
			cfg.NSE.RateLimit = 3

			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
