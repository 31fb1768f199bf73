package env

import (
	"os"
	"sort"
	"strings"
	"sync"
)

type Var map[string]string

// Env composes the environment handed to launched services.
// It is safe for concurrent use.
type Env struct {
	mu  sync.RWMutex
	Var Var // global variables (K->V), e.g. loaded from env files
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := Parse(os.Environ())
	e.mu.Lock()
	e.env = base
	e.mu.Unlock()
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.mu.Lock()
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
	e.mu.Unlock()
}

// SetAll sets every "K=V" pair as a global variable. Malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for k, v := range Parse(kvs) {
		e.Set(k, v)
	}
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	e.mu.Lock()
	if e.Var != nil {
		delete(e.Var, k)
	}
	e.mu.Unlock()
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply the per-launch overlay
// Returns the environment slice in "K=V" form sorted by key, with ${VAR}
// expansion performed using the composed map (simple expansion, no recursion).
func (e *Env) Merge(overlay map[string]string) []string {
	e.mu.RLock()
	cached := e.env
	e.mu.RUnlock()
	if cached == nil {
		e.FromOS()
	}

	e.mu.RLock()
	m := make(Var, len(e.env)+len(e.Var)+len(overlay))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	e.mu.RUnlock()
	for k, v := range overlay {
		if k == "" { // skip malformed entries with empty key
			continue
		}
		m[k] = v
	}

	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	keys := make([]string, 0, len(expanded))
	for k := range expanded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expanded[k])
	}
	return out
}

// Parse converts "K=V" entries into a map. Entries without '=' or with an
// empty key are ignored; later entries win.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	// simple ${VAR} expansion; iterate over keys present
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
