package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// PasteMode selects how clipboard-mode captures reach the focused application.
type PasteMode string

const (
	PasteNative PasteMode = "native"
	PasteCopy   PasteMode = "copy"
)

// ClientConfig holds configuration for the client daemon.
type ClientConfig struct {
	ServerURL         string    `toml:"server_url"`
	Token             string    `toml:"token"`
	TranscriptionURL  string    `toml:"transcription_url"`
	ModelID           string    `toml:"model_id"`
	PasteMode         PasteMode `toml:"paste_mode"`
	StatePath         string    `toml:"state_path"`
	LogPath           string    `toml:"log_path"`
	LogLevel          string    `toml:"log_level"`
	TickInterval      Duration  `toml:"tick_interval"`
	MinRecordingUnits int       `toml:"min_recording_units"`
}

// Duration decodes TOML strings such as "1s" or "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultClientConfig returns the client configuration used when no file is present.
func DefaultClientConfig() ClientConfig {
	dir := defaultStateDir()
	return ClientConfig{
		ServerURL:         "http://localhost:8080",
		PasteMode:         PasteNative,
		StatePath:         filepath.Join(dir, "state.db"),
		LogLevel:          "info",
		TickInterval:      Duration{time.Second},
		MinRecordingUnits: 1,
	}
}

// LoadClient reads the TOML file at path, applies defaults and environment
// overrides. A missing file is not an error.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return ClientConfig{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if v := os.Getenv("MURMUR_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("MURMUR_TOKEN"); v != "" {
		cfg.Token = v
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.TranscriptionURL == "" {
		cfg.TranscriptionURL = cfg.ServerURL + "/api/v1/speech/speechtotext"
	}
	if cfg.TickInterval.Duration <= 0 {
		cfg.TickInterval = Duration{time.Second}
	}
	if cfg.MinRecordingUnits < 1 {
		cfg.MinRecordingUnits = 1
	}

	switch cfg.PasteMode {
	case PasteNative, PasteCopy:
	case "":
		cfg.PasteMode = PasteNative
	default:
		return ClientConfig{}, fmt.Errorf("unknown paste_mode %q", cfg.PasteMode)
	}
	return cfg, nil
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "murmur")
	}
	return "."
}
