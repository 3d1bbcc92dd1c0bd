package engine

import "sync"

// featureLocks serializes mutation per feature key. Operations on
// different features proceed independently; the load-validate-mutate-save
// sequence for one feature never interleaves with another's.
type featureLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFeatureLocks() *featureLocks {
	return &featureLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the feature's mutex and returns its unlock func
func (f *featureLocks) lock(featureKey string) func() {
	f.mu.Lock()
	m, ok := f.locks[featureKey]
	if !ok {
		m = &sync.Mutex{}
		f.locks[featureKey] = m
	}
	f.mu.Unlock()

	m.Lock()
	return m.Unlock
}
