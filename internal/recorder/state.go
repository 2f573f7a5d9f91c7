// Package recorder sequences native capture events into transcription and
// dispatch. Transition is a pure reducer; Orchestrator runs its effects.
package recorder

import (
	"errors"

	"github.com/anand-san/murmur/internal/dispatch"
)

// State is the recorder status shown to the user.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

// ErrEmptyAudio is surfaced when the native layer delivers no audio.
var ErrEmptyAudio = errors.New("received empty audio data")

// Session is the ephemeral state of one capture. Seq increases on every
// start so results of an abandoned session can be recognised.
type Session struct {
	State   State
	Mode    dispatch.Mode
	Elapsed int
	// Capturing is true between started and stopped.
	Capturing bool
	// Fetching is true while audio requested by ready-to-fetch is outstanding.
	Fetching bool
	Seq      uint64
}

// Event is an input to Transition.
type Event interface{ event() }

// Started begins a capture.
type Started struct{ Clipboard bool }

// Stopped ends audio capture.
type Stopped struct{}

// ReadyToFetch reports that captured audio can be requested.
type ReadyToFetch struct{}

// AudioAvailable carries captured audio. Seq is zero when the native layer
// pushed the audio and set when it answers a FetchAudio.
type AudioAvailable struct {
	Data      []byte
	Clipboard bool
	Seq       uint64
}

// StateChanged is the native layer's own view of the recorder state.
type StateChanged struct{ State State }

// Tick advances the elapsed counter by one time unit.
type Tick struct{}

// Reset abandons the current session.
type Reset struct{}

// Transcribed is the result of a Transcribe effect.
type Transcribed struct {
	Seq  uint64
	Text string
}

// Failed reports a failed Transcribe or FetchAudio effect.
type Failed struct {
	Seq uint64
	Err error
}

func (Started) event()        {}
func (Stopped) event()        {}
func (ReadyToFetch) event()   {}
func (AudioAvailable) event() {}
func (StateChanged) event()   {}
func (Tick) event()           {}
func (Reset) event()          {}
func (Transcribed) event()    {}
func (Failed) event()         {}

// Effect is an action requested by Transition.
type Effect interface{ effect() }

// Status publishes the recorder state.
type Status struct{ State State }

// CloseWindow asks the native layer to hide the recorder window.
type CloseWindow struct{}

// FetchAudio requests the captured audio from the native layer.
type FetchAudio struct{ Seq uint64 }

// Transcribe sends audio to the speech-to-text endpoint.
type Transcribe struct {
	Seq   uint64
	Audio []byte
	Mode  dispatch.Mode
}

// Dispatch hands transcribed text to the dispatch router.
type Dispatch struct {
	Text string
	Mode dispatch.Mode
}

// Surface shows an error to the user.
type Surface struct{ Err error }

// Ignored records a signal dropped by a guard. It is logged, never shown.
type Ignored struct {
	Event  string
	Reason string
}

func (Status) effect()      {}
func (CloseWindow) effect() {}
func (FetchAudio) effect()  {}
func (Transcribe) effect()  {}
func (Dispatch) effect()    {}
func (Surface) effect()     {}
func (Ignored) effect()     {}

// Machine holds the reducer parameters.
type Machine struct {
	// MinUnits is the shortest capture, in ticks, that is transcribed.
	MinUnits int
}

func (m Machine) minUnits() int {
	if m.MinUnits < 1 {
		return 1
	}
	return m.MinUnits
}

// idle returns the resting session, keeping the sequence number.
func idle(s Session) Session {
	return Session{State: StateIdle, Seq: s.Seq}
}

// Transition applies e to s and returns the next session and its effects.
func (m Machine) Transition(s Session, e Event) (Session, []Effect) {
	switch e := e.(type) {
	case Started:
		// A recording session left behind by a dropped stop is replaced.
		if s.State == StateTranscribing {
			return s, []Effect{Ignored{Event: "started", Reason: "already processing"}}
		}
		mode := dispatch.ModeNormal
		if e.Clipboard {
			mode = dispatch.ModeClipboard
		}
		next := Session{State: StateRecording, Mode: mode, Capturing: true, Seq: s.Seq + 1}
		return next, []Effect{Status{State: StateRecording}}

	case Tick:
		if s.State == StateRecording && s.Capturing {
			s.Elapsed++
		}
		return s, nil

	case Stopped:
		if s.State != StateRecording || !s.Capturing {
			return s, []Effect{Ignored{Event: "stopped", Reason: "not recording"}}
		}
		if s.Elapsed < m.minUnits() {
			return idle(s), []Effect{CloseWindow{}, Status{State: StateIdle}}
		}
		s.Capturing = false
		return s, nil

	case ReadyToFetch:
		if reason := m.fetchBlocked(s); reason != "" {
			return s, []Effect{Ignored{Event: "ready-to-fetch", Reason: reason}}
		}
		s.Fetching = true
		return s, []Effect{FetchAudio{Seq: s.Seq}}

	case AudioAvailable:
		switch {
		case e.Seq != 0 && e.Seq != s.Seq:
			return s, []Effect{Ignored{Event: "audio_data_available", Reason: "stale result"}}
		case s.State == StateTranscribing:
			return s, []Effect{Ignored{Event: "audio_data_available", Reason: "already processing"}}
		case s.State != StateRecording:
			return s, []Effect{Ignored{Event: "audio_data_available", Reason: "no active session"}}
		case s.Capturing:
			return s, []Effect{Ignored{Event: "audio_data_available", Reason: "still recording"}}
		case s.Elapsed < m.minUnits():
			return s, []Effect{Ignored{Event: "audio_data_available", Reason: "recording too short"}}
		}
		if len(e.Data) == 0 {
			return idle(s), []Effect{Surface{Err: ErrEmptyAudio}, Status{State: StateIdle}}
		}
		if e.Clipboard {
			s.Mode = dispatch.ModeClipboard
		}
		s.State = StateTranscribing
		s.Fetching = false
		return s, []Effect{
			Status{State: StateTranscribing},
			Transcribe{Seq: s.Seq, Audio: e.Data, Mode: s.Mode},
		}

	case Transcribed:
		if e.Seq != s.Seq || s.State != StateTranscribing {
			return s, []Effect{Ignored{Event: "transcribed", Reason: "stale result"}}
		}
		return idle(s), []Effect{Dispatch{Text: e.Text, Mode: s.Mode}, Status{State: StateIdle}}

	case Failed:
		if e.Seq != s.Seq || s.State == StateIdle {
			return s, []Effect{Ignored{Event: "failed", Reason: "stale result"}}
		}
		return idle(s), []Effect{Surface{Err: e.Err}, Status{State: StateIdle}}

	case StateChanged:
		if e.State == StateIdle && s.State == StateRecording && s.Capturing {
			// The native layer dropped the capture on its own.
			return idle(s), []Effect{Status{State: StateIdle}}
		}
		return s, nil

	case Reset:
		return idle(s), []Effect{Status{State: StateIdle}}
	}
	return s, nil
}

func (m Machine) fetchBlocked(s Session) string {
	switch {
	case s.State == StateRecording && s.Capturing:
		return "still recording"
	case s.State == StateTranscribing:
		return "already processing"
	case s.Fetching:
		return "result already pending"
	case s.Elapsed < m.minUnits():
		return "recording too short"
	}
	return ""
}
