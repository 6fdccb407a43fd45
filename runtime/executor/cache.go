package executor

import (
	"maps"
	"slices"
	"sort"

	"github.com/opal-lang/datacube/core/ndarray"
	"github.com/opal-lang/datacube/core/plan"
)

// Entry is the cached result of one task.
type Entry struct {
	Result     map[string]*ndarray.Array
	Indices    map[string][]float64
	Dimensions []string
	Output     plan.Output
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	out := &Entry{
		Result:     make(map[string]*ndarray.Array, len(e.Result)),
		Indices:    make(map[string][]float64, len(e.Indices)),
		Dimensions: slices.Clone(e.Dimensions),
		Output: plan.Output{
			NoDataValue:     e.Output.NoDataValue,
			DimensionsOrder: slices.Clone(e.Output.DimensionsOrder),
			Shape:           slices.Clone(e.Output.Shape),
		},
	}
	for k, v := range e.Result {
		out.Result[k] = v.Clone()
	}
	for k, v := range e.Indices {
		out.Indices[k] = slices.Clone(v)
	}
	return out
}

// Keys returns the result names, sorted.
func (e *Entry) Keys() []string {
	keys := slices.Collect(maps.Keys(e.Result))
	sort.Strings(keys)
	return keys
}

// Array returns the result with the smallest name, or nil when there is
// none. Tasks that read "the" array of an input use this.
func (e *Entry) Array() *ndarray.Array {
	keys := e.Keys()
	if len(keys) == 0 {
		return nil
	}
	return e.Result[keys[0]]
}

// Entry returns a copy of the cached result of a task.
func (x *Executor) Entry(name string) (*Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.cache[name]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Names returns the cached task names, sorted.
func (x *Executor) Names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := slices.Collect(maps.Keys(x.cache))
	sort.Strings(names)
	return names
}

// Len returns the number of cached results.
func (x *Executor) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.cache)
}

// Clear drops every cached result.
func (x *Executor) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	clear(x.cache)
	x.gauge()
}

// Put stores a copy of entry under name, replacing any previous result.
func (x *Executor) Put(name string, entry *Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cache[name] = entry.Clone()
	x.gauge()
}

// get returns the cached entry without copying; callers must not modify
// it.
func (x *Executor) get(name string) (*Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.cache[name]
	return e, ok
}

// gauge must be called with mu held.
func (x *Executor) gauge() {
	if x.metrics != nil {
		x.metrics.CacheEntries.Set(float64(len(x.cache)))
	}
}
