package extractor

import (
	"context"
	"time"
)

// StepResult is the outcome of one connectivity check step.
type StepResult struct {
	Success bool      `json:"success"`
	Skipped bool      `json:"skipped,omitempty"`
	URL     string    `json:"url,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"timestamp"`
}

// CheckResult reports whether the site is reachable and accepts the
// configured credentials.
type CheckResult struct {
	RunID      string     `json:"runId"`
	State      State      `json:"state"`
	Connection StepResult `json:"connection"`
	Login      StepResult `json:"login"`
}

// Check runs connect and authenticate on a fresh session and closes it
// without scraping. A failed step fails run and is reported both in the
// result and as the returned error.
func (e *Extractor) Check(ctx context.Context, run *Run) (CheckResult, error) {
	rc := &runCtx{run: run, log: e.log.With("run_id", run.ID())}
	rc.log.Info("connectivity check started")
	res := CheckResult{RunID: run.ID()}

	if err := e.connect(ctx, rc); err != nil {
		res.Connection = StepResult{Error: err.Error(), At: e.now()}
		err = e.fail(rc, err)
		res.State = run.State()
		return res, err
	}
	res.Connection = StepResult{Success: true, URL: e.currentURL(ctx, rc), At: e.now()}

	if err := e.authenticate(ctx, rc); err != nil {
		res.Login = StepResult{Error: err.Error(), At: e.now()}
		err = e.fail(rc, err)
		res.State = run.State()
		return res, err
	}
	res.Login = StepResult{
		Success: true,
		Skipped: run.State() == StateAuthSkipped,
		URL:     e.currentURL(ctx, rc),
		At:      e.now(),
	}

	e.release(rc)
	rc.move(StateClosed)
	run.finish(StatusCompleted, nil, 0)
	res.State = run.State()
	rc.log.Info("connectivity check passed", "login_skipped", res.Login.Skipped)
	return res, nil
}

// currentURL is best effort; an empty string means the page did not say.
func (e *Extractor) currentURL(ctx context.Context, rc *runCtx) string {
	if rc.page == nil {
		return ""
	}
	uctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	u, err := rc.page.URL(uctx)
	if err != nil {
		return ""
	}
	return u
}
