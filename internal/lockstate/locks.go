package lockstate

import "sync"

// DomainLocks serializes record mutations per domain. Every read-decide-write
// sequence on a day record (a tracker tick, a grant, a navigation settlement,
// a reset) holds the domain's lock for the whole sequence so no two mutators
// interleave on the same record.
type DomainLocks struct {
	mu      sync.Mutex
	domains map[string]*sync.Mutex
}

// NewDomainLocks creates an empty lock set.
func NewDomainLocks() *DomainLocks {
	return &DomainLocks{domains: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for a domain and returns its unlock function.
func (l *DomainLocks) Lock(domain string) func() {
	l.mu.Lock()
	m, ok := l.domains[domain]
	if !ok {
		m = &sync.Mutex{}
		l.domains[domain] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
