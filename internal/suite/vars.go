package suite

import (
	"sort"
	"sync"
)

// Vars is the shared user context of a suite activation: a set of string
// variables hooks can write and specs can read. Every suite activation
// starts from a copy of its parent's Vars and every spec runs with a copy of
// its suite's Vars, so writes never leak upward or sideways.
type Vars struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewVars returns Vars holding a copy of m.
func NewVars(m map[string]string) *Vars {
	v := &Vars{m: make(map[string]string, len(m))}
	for k, val := range m {
		v.m[k] = val
	}
	return v
}

func (v *Vars) Get(key string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.m[key]
	return val, ok
}

func (v *Vars) Set(key, value string) {
	v.mu.Lock()
	v.m[key] = value
	v.mu.Unlock()
}

// Clone returns an independent copy. Cloning a nil *Vars yields empty Vars.
func (v *Vars) Clone() *Vars {
	if v == nil {
		return NewVars(nil)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return NewVars(v.m)
}

// Environ renders the variables as sorted KEY=VALUE pairs.
func (v *Vars) Environ() []string {
	v.mu.RLock()
	out := make([]string, 0, len(v.m))
	for k, val := range v.m {
		out = append(out, k+"="+val)
	}
	v.mu.RUnlock()
	sort.Strings(out)
	return out
}
