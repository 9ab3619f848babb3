// Package intent tracks client-side optimistic state for commands that have
// confirmation latency: a key press sends a command to the daemon and the
// UI should show a pending indicator rather than flip state immediately,
// then reconcile against whatever the daemon actually confirms.
package intent

import "time"

// Timeout is how long a Pending intent waits for confirmation before
// becoming TimedOut.
const Timeout = 3 * time.Second

// pulsePeriod is the on/off cadence RenderHint uses while Pending.
const pulsePeriod = 400 * time.Millisecond

type phase int

const (
	phaseConfirmed phase = iota
	phasePending
	phaseTimedOut
)

// RenderHint is how a caller should render a value that may be waiting on
// confirmation.
type RenderHint int

const (
	RenderNormal RenderHint = iota
	RenderPendingVisible
	RenderPendingHidden
	RenderTimedOut
)

// State wraps a single value of type T that may be optimistically set ahead
// of the daemon's confirmation. T must support equality so confirmation can
// be matched against intent.
type State[T comparable] struct {
	phase     phase
	intended  T
	confirmed T
	since     time.Time
}

// New returns a State already in the Confirmed phase holding value.
func New[T comparable](value T) *State[T] {
	return &State[T]{phase: phaseConfirmed, intended: value, confirmed: value}
}

// Intended returns the value the caller most recently asked for — the one
// to display.
func (s *State[T]) Intended() T { return s.intended }

// Confirmed returns the last value the daemon actually confirmed.
func (s *State[T]) Confirmed() T { return s.confirmed }

// IsPending reports whether a confirmation is still outstanding.
func (s *State[T]) IsPending() bool { return s.phase == phasePending }

// IsTimedOut reports whether the pending intent expired without
// confirmation.
func (s *State[T]) IsTimedOut() bool { return s.phase == phaseTimedOut }

// IsConfirmed reports whether the state currently reflects confirmed daemon
// truth with no outstanding intent.
func (s *State[T]) IsConfirmed() bool { return s.phase == phaseConfirmed }

// SetIntent records that the caller just issued a command asking for
// intended. If intended already matches the last confirmed value there is
// nothing to wait for, so the state goes straight to Confirmed; otherwise it
// becomes Pending, starting the timeout clock now.
func (s *State[T]) SetIntent(intended T) {
	if intended == s.confirmed {
		s.phase = phaseConfirmed
		s.intended = intended
		return
	}
	s.phase = phasePending
	s.intended = intended
	s.since = time.Now()
}

// Tick checks a Pending state against Timeout and transitions to TimedOut if
// it has expired. Returns true if the phase changed.
func (s *State[T]) Tick() bool {
	if s.phase != phasePending {
		return false
	}
	if time.Since(s.since) >= Timeout {
		s.phase = phaseTimedOut
		return true
	}
	return false
}

// OnConfirmed applies a daemon-confirmed value. From Pending or Confirmed it
// returns true if the visible state changed as a result; from TimedOut it
// always returns to Confirmed and returns whether value matched the
// timed-out intent.
func (s *State[T]) OnConfirmed(value T) bool {
	switch s.phase {
	case phasePending:
		if value == s.intended {
			s.phase = phaseConfirmed
			s.intended = value
			s.confirmed = value
			return true
		}
		s.confirmed = value
		return false
	case phaseTimedOut:
		matched := value == s.intended
		s.phase = phaseConfirmed
		s.intended = value
		s.confirmed = value
		return matched
	default: // phaseConfirmed
		if s.confirmed != value {
			s.intended = value
			s.confirmed = value
			return true
		}
		return false
	}
}

// RenderState returns the visual hint for the current phase: Confirmed
// renders normally, Pending alternates visible/hidden every pulsePeriod,
// TimedOut renders as a fixed warning state.
func (s *State[T]) RenderState() RenderHint {
	switch s.phase {
	case phasePending:
		elapsed := time.Since(s.since)
		if (elapsed/pulsePeriod)%2 == 0 {
			return RenderPendingVisible
		}
		return RenderPendingHidden
	case phaseTimedOut:
		return RenderTimedOut
	default:
		return RenderNormal
	}
}
