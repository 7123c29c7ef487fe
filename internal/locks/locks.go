// Package locks provides per-key mutual exclusion for document mutations.
// The problem and participant documents are each a unit of exclusion: every
// read-modify-write on a document runs under that document's lock, which is
// what rules out lost updates between concurrent appends.
package locks

import "sync"

type PerKey struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPerKey() *PerKey {
	return &PerKey{locks: map[string]*sync.Mutex{}}
}

// Lock acquires the mutex for key, creating it on first use, and returns the
// matching unlock function. Mutexes are never evicted; the key space here is
// bounded by the number of documents.
func (p *PerKey) Lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}
