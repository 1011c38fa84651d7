package reconciliation

import (
	"sort"
	"sync"
)

// entityLocks serializes mutations per entity id. The contract is at most one
// in-flight mutation per payment id and per proforma fullnumber; unrelated
// entities proceed in parallel, there is no global lock.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *entityLocks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// withLock runs fn while holding every key's lock. Keys are deduplicated and
// acquired in sorted order so concurrent multi-entity operations cannot
// deadlock.
func (l *entityLocks) withLock(keys []string, fn func() error) error {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k != "" && !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	sort.Strings(uniq)

	for _, k := range uniq {
		l.get(k).Lock()
	}
	defer func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			l.get(uniq[i]).Unlock()
		}
	}()

	return fn()
}
