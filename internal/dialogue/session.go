// Package dialogue drives the multi-turn slot-filling conversation that
// turns free-form utterances into committed workout records. A session
// moves through a small state machine: intent classification on the
// first turn, field extraction until the record is complete, an explicit
// confirmation step, and a single commit through the gateway.
package dialogue

import (
	"errors"
	"sync"
	"time"

	"github.com/Gymmando/gymmando/internal/gateway"
	"github.com/Gymmando/gymmando/internal/workout"
)

var (
	// ErrSessionNotFound is returned when the session id is unknown,
	// expired or already swept by the janitor.
	ErrSessionNotFound = errors.New("dialogue: session not found")

	// ErrSessionClosed is returned when an utterance arrives for a
	// session that already reached a terminal state.
	ErrSessionClosed = errors.New("dialogue: session closed")
)

// State is the phase a session is currently in.
type State string

const (
	StateInit       State = "init"
	StateExtracting State = "extracting"
	StateConfirming State = "confirming"
	StateCommitting State = "committing"
	StateComplete   State = "complete"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Terminal reports whether the session is finished. Terminal sessions
// accept no further utterances.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Session is a single user conversation. All fields are guarded by mu;
// the manager takes the lock for the duration of a turn so concurrent
// utterances for the same session serialize.
type Session struct {
	mu sync.Mutex

	ID      string
	OwnerID string
	State   State

	// Intent is classified exactly once, on the first utterance, and
	// never changes for the rest of the conversation.
	Intent    workout.Intent
	intentSet bool

	// TargetID is the record an update or delete aims at. Empty means
	// the gateway falls back to the owner's most recent record.
	TargetID string

	Record workout.Record

	// readFilter narrows a read commit when the opening utterance named
	// an exercise. Zero value for plain "show my workouts" requests.
	readFilter gateway.ReadFilter

	// reopened tracks fields the user asked to change during
	// confirmation. Only these fields were cleared; everything else
	// stays confirmed.
	reopened map[workout.Field]bool

	// committed flips to true the moment the gateway is invoked for
	// this session. It never resets, so a commit happens at most once
	// no matter how the conversation continues or fails.
	committed bool

	Turn         int
	StartedAt    time.Time
	LastActivity time.Time
}

// Reply is what the manager hands back after each turn.
type Reply struct {
	SessionID string         `json:"session_id"`
	State     State          `json:"state"`
	Text      string         `json:"text"`
	Done      bool           `json:"done"`
	Intent    workout.Intent `json:"intent,omitempty"`
}

// snapshot returns a copy of the record safe to hand outside the lock.
func (s *Session) snapshot() workout.Record {
	return workout.Merge(workout.Record{}, s.Record)
}
