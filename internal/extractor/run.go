package extractor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerAPI       Trigger = "api"
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerTest      Trigger = "test"
)

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Run is one pass of the state machine. It is safe for concurrent reads
// while the extractor drives it.
type Run struct {
	mu          sync.RWMutex
	id          string
	trigger     Trigger
	startedAt   time.Time
	finishedAt  time.Time
	state       State
	status      Status
	lastErr     error
	sessionID   string
	records     int
	inserted    int
	skipped     int
	transitions []Transition
}

// NewRun creates a run in state Created.
func NewRun(trigger Trigger) *Run {
	return &Run{
		id:        uuid.NewString(),
		trigger:   trigger,
		startedAt: time.Now().UTC(),
		state:     StateCreated,
		status:    StatusRunning,
	}
}

func (r *Run) ID() string { return r.id }

func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Reached reports whether the run ever entered s.
func (r *Run) Reached(s State) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == s {
		return true
	}
	for _, t := range r.transitions {
		if t.To == s {
			return true
		}
	}
	return false
}

func (r *Run) transition(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.state, to) {
		return false
	}
	r.transitions = append(r.transitions, Transition{From: r.state, To: to, At: time.Now().UTC()})
	r.state = to
	return true
}

func (r *Run) setSession(id string) {
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

func (r *Run) finish(status Status, err error, records int) {
	r.mu.Lock()
	r.status = status
	r.lastErr = err
	r.records = records
	r.finishedAt = time.Now().UTC()
	r.mu.Unlock()
}

// Abort fails a run that is still running, e.g. after a panic in its
// driver. It is a no-op once the run has finished.
func (r *Run) Abort(err error) {
	if r.Status() != StatusRunning {
		return
	}
	r.transition(StateFailed)
	r.finish(StatusFailed, err, 0)
}

// Trigger returns what started the run.
func (r *Run) Trigger() Trigger { return r.trigger }

// StartedAt returns when the run was created.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// SetMerge records the store's verdict on the run's records.
func (r *Run) SetMerge(inserted, skipped int) {
	r.mu.Lock()
	r.inserted, r.skipped = inserted, skipped
	r.mu.Unlock()
}

// Summary is the JSON view of a run.
type Summary struct {
	ID          string       `json:"id"`
	Trigger     Trigger      `json:"trigger"`
	State       State        `json:"state"`
	Status      Status       `json:"status"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
	DurationMS  int64        `json:"durationMs"`
	Error       string       `json:"error,omitempty"`
	ErrorKind   string       `json:"errorKind,omitempty"`
	SessionID   string       `json:"sessionId,omitempty"`
	Records     int          `json:"records"`
	Inserted    int          `json:"inserted"`
	Skipped     int          `json:"skipped"`
	Transitions []Transition `json:"transitions"`
}

func (r *Run) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Summary{
		ID:          r.id,
		Trigger:     r.trigger,
		State:       r.state,
		Status:      r.status,
		StartedAt:   r.startedAt,
		SessionID:   r.sessionID,
		Records:     r.records,
		Inserted:    r.inserted,
		Skipped:     r.skipped,
		Transitions: append([]Transition(nil), r.transitions...),
	}
	end := time.Now().UTC()
	if !r.finishedAt.IsZero() {
		f := r.finishedAt
		s.FinishedAt = &f
		end = f
	}
	s.DurationMS = end.Sub(r.startedAt).Milliseconds()
	if r.lastErr != nil {
		s.Error = r.lastErr.Error()
		s.ErrorKind = ErrorKind(r.lastErr)
	}
	return s
}
