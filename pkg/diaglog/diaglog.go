// Package diaglog provides the client daemon's diagnostics log.
package diaglog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Open returns a console-format logger writing to path, or to stderr when path
// is empty. The returned closer releases the file.
func Open(path, level string) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		out, closer = f, f
	}

	w := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    path != "",
	}
	log := zerolog.New(w).Level(lvl).With().Timestamp().Int("pid", os.Getpid()).Logger()
	return log, closer, nil
}
