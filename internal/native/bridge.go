// Package native talks to the native audio and clipboard process over
// newline-delimited JSON on stdio.
package native

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/anand-san/murmur/internal/recorder"
)

// ErrClosed is returned by Invoke after the inbound stream ended.
var ErrClosed = errors.New("native bridge closed")

// CommandError is an error reported by the native process for a command.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("native %s: %s", e.Command, e.Message)
}

// inbound is one line from the native process.
type inbound struct {
	Type            string          `json:"type"`
	Clipboard       bool            `json:"clipboard"`
	IsClipboardMode bool            `json:"isClipboardMode"`
	State           string          `json:"state"`
	ID              string          `json:"id"`
	Data            json.RawMessage `json:"data"`
	Error           string          `json:"error"`
}

// outbound is one line to the native process. Notifications carry no id.
type outbound struct {
	Command string `json:"command"`
	ID      string `json:"id,omitempty"`
	Args    any    `json:"args,omitempty"`
}

type result struct {
	data json.RawMessage
	err  error
}

type call struct {
	command string
	done    chan result
}

// Bridge multiplexes native events and command results on one stream.
type Bridge struct {
	in  io.Reader
	log zerolog.Logger

	mu  sync.Mutex
	enc *json.Encoder

	pendingMu sync.Mutex
	pending   map[string]call
	closed    bool

	nextID atomic.Uint64
	events chan recorder.Event
}

// New creates a bridge reading r and writing w.
func New(r io.Reader, w io.Writer, log zerolog.Logger) *Bridge {
	return &Bridge{
		in:      r,
		log:     log,
		enc:     json.NewEncoder(w),
		pending: make(map[string]call),
		events:  make(chan recorder.Event, 16),
	}
}

// Events returns recorder events parsed from the inbound stream. It is
// closed when Run returns.
func (b *Bridge) Events() <-chan recorder.Event { return b.events }

// Run reads the inbound stream until EOF or ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.shutdown()

	reader := bufio.NewReader(b.in)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			b.handleLine(ctx, line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read native stream: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *Bridge) handleLine(ctx context.Context, line []byte) {
	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		b.log.Warn().Err(err).Msg("malformed native message")
		return
	}

	if msg.Type == "command_result" {
		b.resolve(msg)
		return
	}

	ev, err := toEvent(msg)
	if err != nil {
		b.log.Warn().Err(err).Str("type", msg.Type).Msg("dropping native event")
		return
	}
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}

func toEvent(msg inbound) (recorder.Event, error) {
	switch msg.Type {
	case "started":
		return recorder.Started{Clipboard: msg.Clipboard}, nil
	case "stopped":
		return recorder.Stopped{}, nil
	case "ready-to-fetch":
		return recorder.ReadyToFetch{}, nil
	case "reset":
		return recorder.Reset{}, nil
	case "state_changed":
		return recorder.StateChanged{State: recorder.State(msg.State)}, nil
	case "audio_data_available":
		var encoded string
		if err := json.Unmarshal(msg.Data, &encoded); err != nil {
			return nil, fmt.Errorf("audio data: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("audio data: %w", err)
		}
		return recorder.AudioAvailable{Data: data, Clipboard: msg.IsClipboardMode}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", msg.Type)
}

func (b *Bridge) resolve(msg inbound) {
	b.pendingMu.Lock()
	c, ok := b.pending[msg.ID]
	delete(b.pending, msg.ID)
	b.pendingMu.Unlock()

	if !ok {
		b.log.Warn().Str("id", msg.ID).Msg("command result for unknown id")
		return
	}
	if msg.Error != "" {
		c.done <- result{err: &CommandError{Command: c.command, Message: msg.Error}}
		return
	}
	c.done <- result{data: msg.Data}
}

// Invoke sends a command and waits for its command_result.
func (b *Bridge) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	id := strconv.FormatUint(b.nextID.Add(1), 10)
	c := call{command: command, done: make(chan result, 1)}

	b.pendingMu.Lock()
	if b.closed {
		b.pendingMu.Unlock()
		return nil, ErrClosed
	}
	b.pending[id] = c
	b.pendingMu.Unlock()

	if err := b.write(outbound{Command: command, ID: id, Args: args}); err != nil {
		b.forget(id)
		return nil, err
	}

	select {
	case r := <-c.done:
		return r.data, r.err
	case <-ctx.Done():
		b.forget(id)
		return nil, ctx.Err()
	}
}

// Notify sends a command without waiting for a result.
func (b *Bridge) Notify(command string, args any) error {
	return b.write(outbound{Command: command, Args: args})
}

func (b *Bridge) write(msg outbound) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enc.Encode(msg); err != nil {
		return fmt.Errorf("write native command %s: %w", msg.Command, err)
	}
	return nil
}

func (b *Bridge) forget(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

func (b *Bridge) shutdown() {
	b.pendingMu.Lock()
	b.closed = true
	for id, c := range b.pending {
		c.done <- result{err: ErrClosed}
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()
	close(b.events)
}
