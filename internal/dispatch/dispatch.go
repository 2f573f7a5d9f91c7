// Package dispatch routes transcribed text to the chat thread or to a
// clipboard paste, depending on how the capture was started.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cb "github.com/atotto/clipboard"
	"github.com/rs/zerolog"
)

// Mode is the capture mode carried from the originating hotkey.
type Mode int

const (
	ModeNormal Mode = iota
	ModeClipboard
)

func (m Mode) String() string {
	if m == ModeClipboard {
		return "clipboard"
	}
	return "normal"
}

// ErrNoComposer is returned when a normal capture arrives without a chat composer.
var ErrNoComposer = errors.New("no active chat composer")

// DispatchError wraps a failure to deliver text.
type DispatchError struct {
	Mode Mode
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Mode, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Paster puts text into the focused application.
type Paster interface {
	Paste(ctx context.Context, text string) error
}

// Composer appends a user turn to the active chat thread and runs the completion.
type Composer interface {
	Send(ctx context.Context, text string) error
}

// Router delivers transcribed text according to its capture mode.
type Router struct {
	paster   Paster
	composer Composer
	log      zerolog.Logger
}

// NewRouter creates a router. composer may be nil when chat is disabled.
func NewRouter(paster Paster, composer Composer, log zerolog.Logger) *Router {
	return &Router{paster: paster, composer: composer, log: log}
}

// Dispatch delivers text. Clipboard captures never reach the composer.
func (r *Router) Dispatch(ctx context.Context, text string, mode Mode) error {
	text = strings.TrimSpace(text)
	if text == "" {
		r.log.Info().Str("mode", mode.String()).Msg("empty transcription, nothing to dispatch")
		return nil
	}

	var err error
	switch mode {
	case ModeClipboard:
		err = r.paster.Paste(ctx, text)
	default:
		if r.composer == nil {
			err = ErrNoComposer
		} else {
			err = r.composer.Send(ctx, text)
		}
	}
	if err != nil {
		r.log.Error().Err(err).Str("mode", mode.String()).Msg("dispatch failed")
		return &DispatchError{Mode: mode, Err: err}
	}
	r.log.Debug().Str("mode", mode.String()).Int("chars", len(text)).Msg("dispatched")
	return nil
}

// Invoker runs a command in the native process.
type Invoker interface {
	Invoke(ctx context.Context, command string, args any) (json.RawMessage, error)
}

// NativePaster asks the native process to paste through the system
// clipboard, which saves and restores the previous clipboard content.
type NativePaster struct {
	native Invoker
}

// NewNativePaster creates a paster backed by the native process.
func NewNativePaster(native Invoker) *NativePaster {
	return &NativePaster{native: native}
}

// Paste invokes perform_clipboard_paste.
func (p *NativePaster) Paste(ctx context.Context, text string) error {
	_, err := p.native.Invoke(ctx, "perform_clipboard_paste", map[string]string{"text": text})
	return err
}

// CopyPaster only copies the text to the system clipboard; the user pastes.
type CopyPaster struct {
	write func(string) error
}

// NewCopyPaster creates a clipboard-only paster.
func NewCopyPaster() *CopyPaster {
	return &CopyPaster{write: cb.WriteAll}
}

// Paste writes text to the clipboard.
func (p *CopyPaster) Paste(_ context.Context, text string) error {
	if cb.Unsupported {
		return errors.New("clipboard not supported on this system")
	}
	return p.write(text)
}
