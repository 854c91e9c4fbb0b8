package engine

import (
	"sort"
	"sync"
)

// lockSet hands out one mutex per entity id. Callers lock a whole chain at
// once in id order so overlapping chains cannot deadlock.
type lockSet struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newLockSet() *lockSet {
	return &lockSet{m: make(map[string]*sync.Mutex)}
}

func (l *lockSet) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.m[id]
	if !ok {
		m = &sync.Mutex{}
		l.m[id] = m
	}
	return m
}

// lock acquires the mutexes of ids and returns the function releasing them.
func (l *lockSet) lock(ids []string) func() {
	uniq := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := l.get(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
