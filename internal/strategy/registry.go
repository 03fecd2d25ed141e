package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Info holds runtime info for a registered strategy (for status APIs).
type Info struct {
	Name        string
	Enabled     bool
	Weight      float64
	SignalsSent int64
	LastSignal  *time.Time
	ErrorCount  int64
}

type entry struct {
	strategy    SignalStrategy
	weight      float64
	signalsSent int64
	lastSignal  *time.Time
	errorCount  int64
}

// Registry manages a named collection of strategies that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register adds a strategy to the registry with its capital allocation weight.
// If a strategy with the same name already exists it will be replaced.
func (r *Registry) Register(s SignalStrategy, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.Name()] = &entry{strategy: s, weight: weight}
}

// Get retrieves a strategy by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (SignalStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return e.strategy, nil
}

// Weight returns the capital allocation weight for a registered strategy, or
// zero when the name is unknown.
func (r *Registry) Weight(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[name]; ok {
		return e.weight
	}
	return 0
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Each calls fn for every registered strategy in sorted name order.
func (r *Registry) Each(fn func(s SignalStrategy, weight float64)) {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	snapshot := make([]*entry, 0, len(names))
	for _, n := range names {
		snapshot = append(snapshot, r.entries[n])
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		fn(e.strategy, e.weight)
	}
}

// RecordSignals credits a strategy with signals emitted at the given time.
func (r *Registry) RecordSignals(name string, n int, at time.Time) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		e.signalsSent += int64(n)
		t := at
		e.lastSignal = &t
	}
}

// RecordError increments a strategy's error counter.
func (r *Registry) RecordError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		e.errorCount++
	}
}

// ListInfo returns runtime info for all registered strategies in sorted order.
func (r *Registry) ListInfo() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)

	infos := make([]Info, 0, len(names))
	for _, n := range names {
		e := r.entries[n]
		info := Info{
			Name:        n,
			Enabled:     true,
			Weight:      e.weight,
			SignalsSent: e.signalsSent,
			ErrorCount:  e.errorCount,
		}
		if e.lastSignal != nil {
			t := *e.lastSignal
			info.LastSignal = &t
		}
		infos = append(infos, info)
	}
	return infos
}
