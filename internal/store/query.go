package store

import (
	"cmp"
	"slices"
	"strings"

	"github.com/loykin/catalogd/internal/product"
)

// Filter is a conjunction of optional predicates. Search is a
// case-insensitive substring of name, brand, reference or description;
// Category and Brand must match exactly, ignoring case.
type Filter struct {
	Search   string
	Category string
	Brand    string
}

// Query selects, orders and pages records. Page is 1-based; Limit <= 0
// returns every match on one page. An empty Sort keeps insertion order.
type Query struct {
	Filter
	Page  int
	Limit int
	Sort  string
	Desc  bool
}

// Page is one page of query results.
type Page struct {
	Items      []product.Record `json:"data"`
	Total      int              `json:"total"`
	TotalPages int              `json:"totalPages"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
}

type comparator func(a, b product.Record) int

func foldCmp(a, b string) int { return strings.Compare(strings.ToLower(a), strings.ToLower(b)) }

var sortKeys = map[string]comparator{
	"name":      func(a, b product.Record) int { return foldCmp(a.Name, b.Name) },
	"brand":     func(a, b product.Record) int { return foldCmp(a.Brand, b.Brand) },
	"category":  func(a, b product.Record) int { return foldCmp(a.Category, b.Category) },
	"reference": func(a, b product.Record) int { return foldCmp(a.Reference, b.Reference) },
	"price":     func(a, b product.Record) int { return a.Price.Cmp(b.Price) },
	"discount":  func(a, b product.Record) int { return cmp.Compare(a.DiscountPercent, b.DiscountPercent) },
	"extractedAt": func(a, b product.Record) int {
		return a.ExtractedAt.Compare(b.ExtractedAt)
	},
}

// SortFields lists the accepted Sort values.
func SortFields() []string {
	out := make([]string, 0, len(sortKeys))
	for k := range sortKeys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ValidSort reports whether name is empty or a known sort field.
func ValidSort(name string) bool {
	if name == "" {
		return true
	}
	_, ok := sortKeys[name]
	return ok
}

func (f Filter) match(r product.Record) bool {
	if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(r.Brand, f.Brand) {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	for _, v := range []string{r.Name, r.Brand, r.Reference, r.Description} {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

// Query never mutates the store.
func (s *Store) Query(q Query) Page {
	s.mu.RLock()
	matches := make([]product.Record, 0, len(s.order))
	for _, ref := range s.order {
		if r := s.byRef[ref]; q.Filter.match(r) {
			matches = append(matches, r.Clone())
		}
	}
	s.mu.RUnlock()

	if c, ok := sortKeys[q.Sort]; ok {
		if q.Desc {
			slices.SortStableFunc(matches, func(a, b product.Record) int { return c(b, a) })
		} else {
			slices.SortStableFunc(matches, c)
		}
	} else if q.Desc {
		slices.Reverse(matches)
	}

	p := Page{Total: len(matches), Page: max(q.Page, 1), Limit: q.Limit}
	if q.Limit <= 0 {
		p.Limit = len(matches)
		p.Items = matches
		if len(matches) > 0 {
			p.TotalPages = 1
		}
		return p
	}
	if p.Total > 0 {
		p.TotalPages = (p.Total-1)/q.Limit + 1
	}
	// compare pages before multiplying so huge page numbers cannot overflow
	if p.Page > p.TotalPages {
		p.Items = []product.Record{}
		return p
	}
	start := (p.Page - 1) * q.Limit
	end := start + min(q.Limit, len(matches)-start)
	p.Items = matches[start:end]
	return p
}
