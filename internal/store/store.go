// Package store holds the known product set keyed by reference and merges
// extraction output into it.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/catalogd/internal/metrics"
	"github.com/loykin/catalogd/internal/product"
)

// Policy decides what a merge does with a reference already in the store.
type Policy string

const (
	PolicyReplace   Policy = "replace"
	PolicyKeepFirst Policy = "keep-first"
)

// ParsePolicy accepts "replace" and "keep-first" (also "keep_first").
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyReplace):
		return PolicyReplace, nil
	case string(PolicyKeepFirst), "keep_first", "keepfirst":
		return PolicyKeepFirst, nil
	}
	return "", fmt.Errorf("unknown merge policy %q", s)
}

// Row is a record with its insertion position, as persisted by a Backend.
type Row struct {
	Position int
	Record   product.Record
}

// Backend persists the product table. The in-memory Store stays
// authoritative; a Backend only mirrors it.
type Backend interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context) ([]Row, error)
	Upsert(ctx context.Context, rows []Row) error
	Close() error
}

// MergeResult counts what a merge did with each incoming record.
type MergeResult struct {
	Inserted int `json:"inserted"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Store is an ordered reference -> record map. Merge is the only mutator and
// runs one at a time; reads proceed concurrently and see whole records from
// either side of a merge.
type Store struct {
	policy  Policy
	backend Backend
	log     *slog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	order     []string
	pos       map[string]int // 1-based index into order
	byRef     map[string]product.Record
	lastMerge time.Time
}

// New creates an empty store. backend may be nil.
func New(policy Policy, backend Backend, log *slog.Logger) *Store {
	if policy == "" {
		policy = PolicyReplace
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		policy:  policy,
		backend: backend,
		log:     log.With("component", "store"),
		pos:     make(map[string]int),
		byRef:   make(map[string]product.Record),
	}
}

func (s *Store) Policy() Policy { return s.policy }

// Load prepares the backend schema and replaces the in-memory contents with
// the persisted rows.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	rows, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.order = s.order[:0]
	s.pos = make(map[string]int, len(rows))
	s.byRef = make(map[string]product.Record, len(rows))
	for _, r := range rows {
		if _, dup := s.byRef[r.Record.Reference]; dup {
			continue
		}
		s.order = append(s.order, r.Record.Reference)
		s.pos[r.Record.Reference] = len(s.order)
		s.byRef[r.Record.Reference] = r.Record
	}
	n := len(s.order)
	s.mu.Unlock()
	metrics.SetProducts(n)
	s.log.Info("products loaded", "count", n)
	return nil
}

// Merge inserts unseen references and resolves seen ones by the store policy.
// Invalid records are rejected. Backend failures are logged, never returned.
func (s *Store) Merge(ctx context.Context, records []product.Record) MergeResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var res MergeResult
	var changed []Row
	s.mu.Lock()
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			res.Rejected++
			s.log.Warn("record rejected", "err", err)
			continue
		}
		rec = rec.Clone()
		if _, seen := s.byRef[rec.Reference]; !seen {
			s.order = append(s.order, rec.Reference)
			s.pos[rec.Reference] = len(s.order)
			s.byRef[rec.Reference] = rec
			res.Inserted++
			changed = append(changed, Row{Position: len(s.order), Record: rec})
			continue
		}
		if s.policy == PolicyKeepFirst {
			res.Skipped++
			continue
		}
		s.byRef[rec.Reference] = rec
		res.Replaced++
		changed = append(changed, Row{Position: s.pos[rec.Reference], Record: rec})
	}
	s.lastMerge = time.Now().UTC()
	n := len(s.order)
	s.mu.Unlock()

	metrics.SetProducts(n)
	metrics.AddMerge(res.Inserted, res.Replaced, res.Skipped)
	if s.backend != nil && len(changed) > 0 {
		if err := s.backend.Upsert(ctx, changed); err != nil {
			metrics.IncBackendError()
			s.log.Error("persist merged products failed", "rows", len(changed), "err", err)
		}
	}
	s.log.Info("merge finished", "inserted", res.Inserted, "replaced", res.Replaced,
		"skipped", res.Skipped, "rejected", res.Rejected, "total", n)
	return res
}

// All returns every record in insertion order.
func (s *Store) All() []product.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]product.Record, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.byRef[ref].Clone())
	}
	return out
}

// Get returns the record for ref.
func (s *Store) Get(ref string) (product.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byRef[ref]
	return r.Clone(), ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// LastMerge returns when Merge last ran; zero if never.
func (s *Store) LastMerge() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMerge
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
