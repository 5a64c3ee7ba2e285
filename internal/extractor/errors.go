package extractor

import (
	"errors"
	"fmt"

	"github.com/loykin/catalogd/internal/session"
)

// ConnectionError reports a navigation or page interaction that kept failing
// after retries.
type ConnectionError struct {
	Step string
	URL  string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrorKind maps a run error to a short label for metrics and history.
func ErrorKind(err error) string {
	var ce *ConnectionError
	var re *session.ResourceExhaustion
	var le *session.LaunchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "connection"
	case errors.As(err, &le):
		return "launch"
	case errors.As(err, &re):
		return "exhausted"
	default:
		return "other"
	}
}
