package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats summarizes the catalog.
type Stats struct {
	TotalProducts int             `json:"totalProducts"`
	InStock       int             `json:"inStock"`
	Discounted    int             `json:"discounted"`
	ByBrand       map[string]int  `json:"byBrand"`
	ByCategory    map[string]int  `json:"byCategory"`
	Unpriced      int             `json:"unpriced"`
	AveragePrice  decimal.Decimal `json:"averagePrice"` // over priced records only
	LastMerge     *time.Time      `json:"lastMerge,omitempty"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		TotalProducts: len(s.order),
		ByBrand:       make(map[string]int),
		ByCategory:    make(map[string]int),
	}
	sum := decimal.Zero
	for _, ref := range s.order {
		r := s.byRef[ref]
		st.ByBrand[orUnknown(r.Brand)]++
		st.ByCategory[orUnknown(r.Category)]++
		if r.InStock {
			st.InStock++
		}
		if r.OriginalPrice.Valid {
			st.Discounted++
		}
		// a zero price means the page showed no readable price
		if r.Price.IsZero() {
			st.Unpriced++
			continue
		}
		sum = sum.Add(r.Price)
	}
	if priced := st.TotalProducts - st.Unpriced; priced > 0 {
		st.AveragePrice = sum.Div(decimal.NewFromInt(int64(priced))).Round(2)
	}
	if !s.lastMerge.IsZero() {
		t := s.lastMerge
		st.LastMerge = &t
	}
	return st
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
