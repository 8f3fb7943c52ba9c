// Package cachestore holds durable implementations of cache.Cache.
//
// Both variants buffer writes in a process-local working set. Reads look
// at the working set first and fall through to the backend. Commit pushes
// the dirty keys to the backend in one round trip and empties the working
// set, so it only ever holds one batch worth of entries.
package cachestore

import "sync"

type workingSet struct {
	mu     sync.Mutex
	values map[string][]byte
	dirty  map[string]struct{}
	closed bool
}

func newWorkingSet() *workingSet {
	return &workingSet{
		values: make(map[string][]byte),
		dirty:  make(map[string]struct{}),
	}
}

func (w *workingSet) get(key string) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false, ErrCacheClosed
	}
	v, ok := w.values[key]
	return v, ok, nil
}

// remember stores a value read from the backend without marking it dirty.
func (w *workingSet) remember(key string, value []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.values[key]; !ok {
		w.values[key] = value
	}
}

func (w *workingSet) set(key string, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrCacheClosed
	}
	w.values[key] = value
	w.dirty[key] = struct{}{}
	return nil
}

// drain hands out the dirty entries. The caller passes them back through
// restore when the flush fails.
func (w *workingSet) drain() (map[string][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrCacheClosed
	}
	out := make(map[string][]byte, len(w.dirty))
	for k := range w.dirty {
		out[k] = w.values[k]
	}
	w.dirty = make(map[string]struct{})
	return out, nil
}

// settle forgets everything that is not waiting to be flushed: committed
// entries and values remembered from backend reads. Keys set again while a
// flush was in flight stay.
func (w *workingSet) settle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k := range w.values {
		if _, ok := w.dirty[k]; !ok {
			delete(w.values, k)
		}
	}
}

func (w *workingSet) restore(entries map[string][]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k := range entries {
		w.dirty[k] = struct{}{}
	}
}

func (w *workingSet) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.values)
}

func (w *workingSet) close() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	was := w.closed
	w.closed = true
	return !was
}
