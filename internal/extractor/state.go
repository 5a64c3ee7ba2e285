package extractor

import "fmt"

// State is a step of the extraction state machine:
// Created -> Connected -> (Authenticated | AuthSkipped) -> Scraped -> Closed,
// with Failed reachable from every non-terminal state. A connectivity check
// closes straight after authentication.
type State int32

const (
	StateCreated State = iota
	StateConnected
	StateAuthenticated
	StateAuthSkipped
	StateScraped
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthSkipped:
		return "auth_skipped"
	case StateScraped:
		return "scraped"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateCreated; st <= StateFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

var transitions = map[State][]State{
	StateCreated:       {StateConnected, StateFailed},
	StateConnected:     {StateAuthenticated, StateAuthSkipped, StateFailed},
	StateAuthenticated: {StateScraped, StateClosed, StateFailed},
	StateAuthSkipped:   {StateScraped, StateClosed, StateFailed},
	StateScraped:       {StateClosed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is the outcome of a run as seen from outside.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)
