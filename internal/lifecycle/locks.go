package lifecycle

import "sync"

// jobLocks serialises operations per job ID. Entries are dropped once no
// caller holds or waits for them.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*jobLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *jobLocks) lock(id string) func() {
	l.mu.Lock()
	jl, ok := l.locks[id]
	if !ok {
		jl = &jobLock{}
		l.locks[id] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()
	return func() {
		jl.mu.Unlock()
		l.mu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *jobLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
