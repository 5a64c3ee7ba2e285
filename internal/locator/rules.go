package locator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rule extracts one value from a selection. An empty Selector addresses the
// selection itself; an empty Attr reads the element text.
type Rule struct {
	Selector string
	Attr     string
}

func (r Rule) values(s *goquery.Selection, limit int) []string {
	target := s
	if r.Selector != "" {
		target = s.Find(r.Selector)
	}
	var out []string
	target.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		var v string
		if r.Attr == "" {
			v = cleanText(el.Text())
		} else {
			v, _ = el.Attr(r.Attr)
			v = strings.TrimSpace(v)
		}
		if v != "" {
			out = append(out, v)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Chain is an ordered fallback list; the first rule producing a non-empty
// value wins.
type Chain []Rule

// First returns the first non-empty value in chain order.
func (c Chain) First(s *goquery.Selection) string {
	for _, r := range c {
		if v := r.values(s, 1); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// All returns every distinct value of the first rule that matches anything.
func (c Chain) All(s *goquery.Selection) []string {
	for _, r := range c {
		if v := r.values(s, 0); len(v) > 0 {
			return dedup(v)
		}
	}
	return nil
}

// Present reports whether any rule matches at least one element.
func (c Chain) Present(s *goquery.Selection) bool {
	for _, r := range c {
		if r.Selector == "" {
			if _, ok := s.Attr(r.Attr); ok {
				return true
			}
			continue
		}
		if s.Find(r.Selector).Length() > 0 {
			return true
		}
	}
	return false
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
