package storage

import "sync"

// streamLocker hands out one mutex per stream so writers to different
// streams never contend.
type streamLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newStreamLocker() *streamLocker {
	return &streamLocker{
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *streamLocker) Lock(stream string) func() {
	l.mu.Lock()
	lock, ok := l.locks[stream]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[stream] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
