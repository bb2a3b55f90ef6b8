package ingest

import "sync"

// repoLocks is a keyed mutual exclusion: at most one scan per repository, no
// global lock across repositories.
type repoLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRepoLocks() *repoLocks {
	return &repoLocks{active: make(map[string]struct{})}
}

func (l *repoLocks) tryAcquire(repo string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[repo]; held {
		return false
	}
	l.active[repo] = struct{}{}
	return true
}

func (l *repoLocks) release(repo string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, repo)
}
