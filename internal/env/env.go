// Package env resolves ${VAR} placeholders in configuration values against
// the process environment and dotenv files.
package env

import (
	"os"
	"strings"
)

type Var map[string]string

type Env struct {
	Var Var // dotenv and explicit variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.env = base
}

// Set sets a variable K=V. The process environment still wins on lookup.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	if k != "" {
		e.Var[k] = v
	}
}

// WithSet is Set returning e, for chaining.
func (e *Env) WithSet(k, v string) *Env {
	e.Set(k, v)
	return e
}

// Lookup reports the value of k, process environment first.
func (e *Env) Lookup(k string) (string, bool) {
	if e.env == nil {
		e.FromOS()
	}
	if v, ok := e.env[k]; ok {
		return v, true
	}
	v, ok := e.Var[k]
	return v, ok
}

// Expand replaces ${NAME} with its value. Unknown names and unterminated
// placeholders are left as written. Values are not expanded again.
func (e *Env) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := e.Lookup(name); ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}

// ExpandAll expands every element in place.
func (e *Env) ExpandAll(ss []string) {
	for i := range ss {
		ss[i] = e.Expand(ss[i])
	}
}
