package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBackendBaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, DefaultAIBaseURL, cfg.AI.BaseURL)
	assert.Equal(t, DefaultPollAttempts, cfg.OCR.MaxAttempts)
	assert.Equal(t, DefaultPollInterval, cfg.OCR.PollInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinichat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[log]
level = "debug"
format = "json"

[backend]
base_url = "https://api.example.com"
page_size = 25

[ocr]
poll_interval = "500ms"
max_attempts = 30
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 25, cfg.Backend.PageSize)
	assert.Equal(t, 30, cfg.OCR.MaxAttempts)
	assert.Equal(t, DefaultAIBaseURL, cfg.AI.BaseURL, "unset sections keep defaults")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinichat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
base_url = "not a url"
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Second))
	assert.Equal(t, time.Second, ParseDuration("garbage", time.Second))
	assert.Equal(t, time.Second, ParseDuration("-5s", time.Second))
}
