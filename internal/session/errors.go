package session

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolFull is wrapped by ResourceExhaustion when the active set is at
	// its limit.
	ErrPoolFull = errors.New("session pool full")
	// ErrClosed is returned when a closed or disconnected session is used.
	ErrClosed = errors.New("session closed")
	// ErrOwned is returned when a session is claimed a second time.
	ErrOwned = errors.New("session already owned")
	// ErrManagerClosed is returned by Acquire once ReleaseAll has started.
	ErrManagerClosed = errors.New("session manager closed")
)

// LaunchError reports that no browser process could be started.
type LaunchError struct {
	Attempts int
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ResourceExhaustion reports that the manager cannot provide a new session,
// either because the pool is full or because launching kept failing (Err is
// then a *LaunchError).
type ResourceExhaustion struct {
	Active int
	Limit  int
	Err    error
}

func (e *ResourceExhaustion) Error() string {
	return fmt.Sprintf("no session available (%d/%d active): %v", e.Active, e.Limit, e.Err)
}

func (e *ResourceExhaustion) Unwrap() error { return e.Err }
