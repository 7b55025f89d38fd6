package jobs

import "sync"

// jobLocks hands out one mutex per job so status transitions and log
// appends against the same job serialize end to end. Entries are
// refcounted and dropped when the last holder releases, so the map does
// not grow with job history.
type jobLocks struct {
	mu      sync.Mutex
	entries map[string]*jobLockEntry
}

type jobLockEntry struct {
	sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{entries: make(map[string]*jobLockEntry)}
}

// acquire locks the job's mutex and returns the release func.
func (l *jobLocks) acquire(jobID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[jobID]
	if !ok {
		entry = &jobLockEntry{}
		l.entries[jobID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()

	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, jobID)
		}
		l.mu.Unlock()
	}
}
