package recorder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/anand-san/murmur/internal/dispatch"
)

// Native is the command side of the native bridge.
type Native interface {
	Invoke(ctx context.Context, command string, args any) (json.RawMessage, error)
	Notify(command string, args any) error
}

// Transcriber turns captured audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Dispatcher delivers transcribed text.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string, mode dispatch.Mode) error
}

// StatusUpdate is the payload of the outbound status command.
type StatusUpdate struct {
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Orchestrator owns the session and is its only writer. Slow effects run in
// their own goroutines and report back as events.
type Orchestrator struct {
	machine     Machine
	native      Native
	transcriber Transcriber
	dispatcher  Dispatcher
	tick        time.Duration
	log         zerolog.Logger

	session Session
	results chan Event
}

// New creates an orchestrator. tick is the length of one elapsed time unit.
func New(machine Machine, tick time.Duration, native Native, transcriber Transcriber, dispatcher Dispatcher, log zerolog.Logger) *Orchestrator {
	if tick <= 0 {
		tick = time.Second
	}
	return &Orchestrator{
		machine:     machine,
		native:      native,
		transcriber: transcriber,
		dispatcher:  dispatcher,
		tick:        tick,
		log:         log,
		session:     Session{State: StateIdle},
		results:     make(chan Event, 4),
	}
}

// Session returns the current session. It is only safe to call from the
// goroutine running Run, or after Run has returned.
func (o *Orchestrator) Session() Session { return o.session }

// Run consumes native events until ctx is done or events is closed.
func (o *Orchestrator) Run(ctx context.Context, events <-chan Event) error {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		var ev Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			ev = e
		case e := <-o.results:
			ev = e
		case <-ticker.C:
			ev = Tick{}
		}
		seq := o.session.Seq
		o.Handle(ctx, ev)
		if o.session.Seq != seq && o.session.State == StateRecording {
			// Elapsed counts whole units from the start of this capture.
			ticker.Reset(o.tick)
		}
	}
}

// Handle applies one event and runs its effects.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) {
	next, effects := o.machine.Transition(o.session, ev)
	if next.State != o.session.State {
		o.log.Debug().
			Str("from", string(o.session.State)).
			Str("to", string(next.State)).
			Uint64("seq", next.Seq).
			Msg("recorder transition")
	}
	o.session = next
	for _, eff := range effects {
		o.run(ctx, eff)
	}
}

func (o *Orchestrator) run(ctx context.Context, eff Effect) {
	switch eff := eff.(type) {
	case Status:
		o.notify(StatusUpdate{State: eff.State})

	case CloseWindow:
		o.log.Info().Msg("recording too short, discarded")
		go func() {
			if _, err := o.native.Invoke(ctx, "close_window", nil); err != nil {
				o.log.Warn().Err(err).Msg("close_window failed")
			}
		}()

	case FetchAudio:
		go o.fetchAudio(ctx, eff.Seq)

	case Transcribe:
		go func() {
			start := time.Now()
			text, err := o.transcriber.Transcribe(ctx, eff.Audio)
			if err != nil {
				o.deliver(ctx, Failed{Seq: eff.Seq, Err: err})
				return
			}
			o.log.Info().
				Int("audio_bytes", len(eff.Audio)).
				Dur("took", time.Since(start)).
				Str("mode", eff.Mode.String()).
				Msg("transcribed")
			o.deliver(ctx, Transcribed{Seq: eff.Seq, Text: text})
		}()

	case Dispatch:
		go func() {
			if err := o.dispatcher.Dispatch(ctx, eff.Text, eff.Mode); err != nil {
				o.notify(StatusUpdate{State: StateIdle, Error: err.Error()})
			}
		}()

	case Surface:
		o.log.Error().Err(eff.Err).Msg("recording failed")
		o.notify(StatusUpdate{State: o.session.State, Error: eff.Err.Error()})

	case Ignored:
		o.log.Debug().Str("event", eff.Event).Str("reason", eff.Reason).Msg("signal ignored")
	}
}

func (o *Orchestrator) fetchAudio(ctx context.Context, seq uint64) {
	raw, err := o.native.Invoke(ctx, "get_audio_data", nil)
	if err != nil {
		o.deliver(ctx, Failed{Seq: seq, Err: fmt.Errorf("fetch audio: %w", err)})
		return
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		o.deliver(ctx, Failed{Seq: seq, Err: fmt.Errorf("fetch audio: %w", err)})
		return
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		o.deliver(ctx, Failed{Seq: seq, Err: fmt.Errorf("fetch audio: %w", err)})
		return
	}
	o.deliver(ctx, AudioAvailable{Data: data, Seq: seq})
}

func (o *Orchestrator) deliver(ctx context.Context, ev Event) {
	select {
	case o.results <- ev:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) notify(update StatusUpdate) {
	if err := o.native.Notify("status", update); err != nil {
		o.log.Warn().Err(err).Str("state", string(update.State)).Msg("status notify failed")
	}
}
