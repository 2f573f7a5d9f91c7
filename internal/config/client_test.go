package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MURMUR_SERVER_URL", "")
	t.Setenv("MURMUR_TOKEN", "")

	cfg, err := LoadClient(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, "http://localhost:8080/api/v1/speech/speechtotext", cfg.TranscriptionURL)
	assert.Equal(t, PasteNative, cfg.PasteMode)
	assert.Equal(t, time.Second, cfg.TickInterval.Duration)
	assert.Equal(t, 1, cfg.MinRecordingUnits)
}

func TestLoadClientFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "murmur.toml")
	body := `
server_url = "https://murmur.example.com/"
token = "file-token"
model_id = "groq:llama-3.3-70b-versatile"
paste_mode = "copy"
tick_interval = "250ms"
min_recording_units = 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("MURMUR_SERVER_URL", "")
	t.Setenv("MURMUR_TOKEN", "env-token")

	cfg, err := LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, "https://murmur.example.com", cfg.ServerURL)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "groq:llama-3.3-70b-versatile", cfg.ModelID)
	assert.Equal(t, PasteCopy, cfg.PasteMode)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval.Duration)
	assert.Equal(t, 4, cfg.MinRecordingUnits)
	assert.Equal(t, "https://murmur.example.com/api/v1/speech/speechtotext", cfg.TranscriptionURL)
}

func TestLoadClientRejectsUnknownPasteMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "murmur.toml")
	require.NoError(t, os.WriteFile(path, []byte(`paste_mode = "telepathy"`), 0o600))

	_, err := LoadClient(path)
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("TITLE_MAX_LENGTH", "")
	t.Setenv("TEMPERATURE", "0.2")

	cfg := Load()
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 100, cfg.TitleMaxLength)
	assert.Equal(t, 4000, cfg.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)
	assert.Equal(t, "murmur.db", cfg.DatabasePath)
}
