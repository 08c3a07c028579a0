package batch

import (
	"sort"
	"sync"
)

// pathLocks serializes batch items that touch the same filesystem paths.
// Locks are acquired in sorted order so two items sharing a subset of
// paths cannot deadlock each other.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire takes the locks for the given paths and returns the release
// function. Duplicate paths are collapsed first.
func (p *pathLocks) acquire(paths []string) func() {
	unique := make(map[string]bool, len(paths))
	for _, path := range paths {
		unique[path] = true
	}
	ordered := make([]string, 0, len(unique))
	for path := range unique {
		ordered = append(ordered, path)
	}
	sort.Strings(ordered)

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, path := range ordered {
		p.mu.Lock()
		lock, ok := p.locks[path]
		if !ok {
			lock = &sync.Mutex{}
			p.locks[path] = lock
		}
		p.mu.Unlock()

		lock.Lock()
		held = append(held, lock)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
