// Package extractor drives one browser session through
// connect -> authenticate -> scrape and turns the catalog page into product
// records.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loykin/catalogd/internal/locator"
	"github.com/loykin/catalogd/internal/metrics"
	"github.com/loykin/catalogd/internal/product"
	"github.com/loykin/catalogd/internal/session"
)

// Acquirer hands out fresh sessions.
type Acquirer interface {
	Acquire(ctx context.Context) (*session.Session, error)
}

// Config holds the target site and the per-step bounds.
type Config struct {
	BaseURL    string
	LoginURL   string
	CatalogURL string
	Username   string
	Password   string

	StepTimeout time.Duration // one navigation or page action attempt
	WaitTimeout time.Duration // waiting for inputs or products to render
	Retries     int           // extra attempts per failing step
	RetryDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Extractor runs the state machine. It keeps no per-run state, so one value
// serves every run.
type Extractor struct {
	sessions Acquirer
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func New(sessions Acquirer, cfg Config, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		sessions: sessions,
		cfg:      cfg.withDefaults(),
		log:      log.With("component", "extractor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// runCtx is the per-run working set.
type runCtx struct {
	run  *Run
	sess *session.Session
	page session.Page
	log  *slog.Logger
}

// Execute drives run to a terminal state and returns the scraped records.
// A nil error means the run completed, possibly with zero records.
func (e *Extractor) Execute(ctx context.Context, run *Run) ([]product.Record, error) {
	rc := &runCtx{run: run, log: e.log.With("run_id", run.ID())}
	rc.log.Info("extraction started", "trigger", run.trigger)

	if err := e.connect(ctx, rc); err != nil {
		return nil, e.fail(rc, err)
	}
	if err := e.authenticate(ctx, rc); err != nil {
		return nil, e.fail(rc, err)
	}
	records, err := e.scrape(ctx, rc)
	if err != nil {
		return nil, e.fail(rc, err)
	}

	e.release(rc)
	rc.move(StateClosed)
	run.finish(StatusCompleted, nil, len(records))
	rc.log.Info("extraction completed", "records", len(records))
	return records, nil
}

func (rc *runCtx) move(to State) {
	from := rc.run.State()
	if !rc.run.transition(to) {
		rc.log.Error("illegal state transition", "from", from, "to", to)
		return
	}
	rc.log.Debug("state", "from", from, "to", to)
}

func (e *Extractor) fail(rc *runCtx, err error) error {
	rc.move(StateFailed)
	e.release(rc)
	rc.run.finish(StatusFailed, err, 0)
	metrics.IncRunError(ErrorKind(err))
	rc.log.Error("extraction failed", "state", rc.run.State(), "err", err)
	return err
}

// release closes the page and the session; failures are only logged.
func (e *Extractor) release(rc *runCtx) {
	if rc.page != nil {
		if err := rc.page.Close(); err != nil {
			rc.log.Debug("page close failed", "err", err)
		}
		rc.page = nil
	}
	if rc.sess != nil {
		if err := rc.sess.Close(); err != nil {
			rc.log.Warn("session close failed", "session_id", rc.sess.ID(), "err", err)
		}
	}
}

func (e *Extractor) connect(ctx context.Context, rc *runCtx) error {
	s, err := e.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	rc.sess = s
	rc.run.setSession(s.ID())
	if err := s.Claim(rc.run.ID()); err != nil {
		return err
	}
	err = e.retry(ctx, rc, "connect", func(sctx context.Context) error {
		if rc.page == nil {
			p, err := s.NewPage(sctx)
			if err != nil {
				return err
			}
			rc.page = p
		}
		return rc.page.Navigate(sctx, e.cfg.BaseURL)
	})
	if err != nil {
		return &ConnectionError{Step: "connect", URL: e.cfg.BaseURL, Err: err}
	}
	rc.move(StateConnected)
	return nil
}

func (e *Extractor) authenticate(ctx context.Context, rc *runCtx) error {
	if e.cfg.Username == "" || e.cfg.Password == "" {
		rc.log.Info("no credentials configured, skipping login")
		rc.move(StateAuthSkipped)
		return nil
	}
	if err := e.navigate(ctx, rc, "login", e.cfg.LoginURL); err != nil {
		return err
	}
	if err := e.waitFor(ctx, rc, "input"); err != nil {
		if !e.absent(ctx, rc, err) {
			return &ConnectionError{Step: "login-wait", URL: e.cfg.LoginURL, Err: err}
		}
		rc.log.Info("login form did not render, skipping login", "err", err)
		rc.move(StateAuthSkipped)
		return nil
	}

	var fields locator.LoginFields
	err := e.retry(ctx, rc, "login-scan", func(sctx context.Context) error {
		html, err := rc.page.HTML(sctx)
		if err != nil {
			return err
		}
		fields = locator.LocateLoginFields(html)
		return nil
	})
	if err != nil {
		return &ConnectionError{Step: "login-scan", URL: e.cfg.LoginURL, Err: err}
	}
	if !fields.Found() {
		rc.log.Info("login fields not found, skipping login",
			"username_field", fields.Username != nil, "password_field", fields.Password != nil)
		rc.move(StateAuthSkipped)
		return nil
	}

	err = e.retry(ctx, rc, "authenticate", func(sctx context.Context) error {
		u, p := fields.Username, fields.Password
		if err := rc.page.Input(sctx, u.Selector, u.Index, e.cfg.Username); err != nil {
			return fmt.Errorf("fill username: %w", err)
		}
		if err := rc.page.Input(sctx, p.Selector, p.Index, e.cfg.Password); err != nil {
			return fmt.Errorf("fill password: %w", err)
		}
		if sb := fields.Submit; sb != nil {
			if err := rc.page.Click(sctx, sb.Selector, sb.Index); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
		} else if err := rc.page.Enter(sctx, p.Selector, p.Index); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return rc.page.WaitSettled(sctx)
	})
	if err != nil {
		return &ConnectionError{Step: "authenticate", URL: e.cfg.LoginURL, Err: err}
	}
	rc.move(StateAuthenticated)
	return nil
}

func (e *Extractor) scrape(ctx context.Context, rc *runCtx) ([]product.Record, error) {
	if err := e.navigate(ctx, rc, "catalog", e.cfg.CatalogURL); err != nil {
		return nil, err
	}
	if err := e.waitFor(ctx, rc, locator.ProductSelector); err != nil {
		if !e.absent(ctx, rc, err) {
			return nil, &ConnectionError{Step: "catalog-wait", URL: e.cfg.CatalogURL, Err: err}
		}
		rc.log.Info("no product markup on catalog page", "err", err)
		rc.move(StateScraped)
		return nil, nil
	}

	var html, pageURL string
	err := e.retry(ctx, rc, "snapshot", func(sctx context.Context) error {
		var err error
		if html, err = rc.page.HTML(sctx); err != nil {
			return err
		}
		pageURL, err = rc.page.URL(sctx)
		return err
	})
	if err != nil {
		return nil, &ConnectionError{Step: "snapshot", URL: e.cfg.CatalogURL, Err: err}
	}
	if pageURL == "" {
		pageURL = e.cfg.CatalogURL
	}

	records := e.toRecords(rc, locator.LocateProducts(html, pageURL), pageURL)
	rc.move(StateScraped)
	return records, nil
}

func (e *Extractor) navigate(ctx context.Context, rc *runCtx, step, url string) error {
	err := e.retry(ctx, rc, step, func(sctx context.Context) error {
		return rc.page.Navigate(sctx, url)
	})
	if err != nil {
		return &ConnectionError{Step: step, URL: url, Err: err}
	}
	return nil
}

// waitFor is bounded by WaitTimeout and never retried: running out of time
// means the element is absent.
func (e *Extractor) waitFor(ctx context.Context, rc *runCtx, selector string) error {
	wctx, cancel := context.WithTimeout(ctx, e.cfg.WaitTimeout)
	defer cancel()
	return rc.page.WaitFor(wctx, selector)
}

// absent reports whether a failed wait means the element is not on the page.
// Only a wait that ran out of its own time while the run is still live and
// the browser still answers qualifies; anything else is an IO failure.
func (e *Extractor) absent(ctx context.Context, rc *runCtx, err error) bool {
	if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	return rc.sess.Check(pctx)
}

// retry runs fn up to 1+Retries times, each attempt bounded by StepTimeout.
// It gives up early when the parent context ends or the session is gone.
func (e *Extractor) retry(ctx context.Context, rc *runCtx, step string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.IncStepRetry(step)
			rc.log.Warn("step failed, retrying", "step", step, "attempt", attempt, "err", err)
			t := time.NewTimer(e.cfg.RetryDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return err
			case <-rc.sess.Done():
				t.Stop()
				return errors.Join(err, session.ErrClosed)
			}
		}
		sctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		err = fn(sctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (e *Extractor) toRecords(rc *runCtx, cands []locator.Candidate, pageURL string) []product.Record {
	now := e.now()
	seen := make(map[string]struct{}, len(cands))
	out := make([]product.Record, 0, len(cands))
	for i, c := range cands {
		ref := c.Reference
		if ref == "" {
			ref = SyntheticReference(rc.run.ID(), i+1)
		}
		if _, dup := seen[ref]; dup {
			rc.log.Debug("duplicate reference on page", "reference", ref)
			continue
		}
		seen[ref] = struct{}{}

		rec := product.Record{
			Reference:   ref,
			Name:        c.Name,
			Brand:       c.Brand,
			Category:    c.Category,
			Description: c.Description,
			InStock:     c.InStock,
			Sizes:       c.Sizes,
			Colors:      c.Colors,
			Images:      c.Images,
			SourceURL:   c.Link,
			ExtractedAt: now,
			RunID:       rc.run.ID(),
		}
		if rec.SourceURL == "" {
			rec.SourceURL = pageURL
		}
		if c.Price.Valid {
			rec.SetPrices(c.Price.Decimal, c.OriginalPrice)
		} else {
			rc.log.Debug("unparsable price", "reference", ref, "text", c.PriceText)
			rec.SetPrices(decimal.Zero, decimal.NullDecimal{})
		}
		out = append(out, rec)
	}
	return out
}

// SyntheticReference builds the reference used when the page provides none.
// It is unique within a run.
func SyntheticReference(runID string, ordinal int) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("B2B-%s-%03d", short, ordinal)
}
