package reconcile

import (
	"context"
	"sync"
)

// streamLocks serializes work per stream key. Waiting honours context
// cancellation; idle keys are released.
type streamLocks struct {
	mu    sync.Mutex
	locks map[string]*streamLock
}

type streamLock struct {
	sem  chan struct{}
	refs int
}

func newStreamLocks() *streamLocks {
	return &streamLocks{locks: make(map[string]*streamLock)}
}

// lock blocks until key is free or ctx is done. The returned func unlocks.
func (s *streamLocks) lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &streamLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			s.release(key, l)
		}, nil
	case <-ctx.Done():
		s.release(key, l)
		return nil, ctx.Err()
	}
}

func (s *streamLocks) release(key string, l *streamLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *streamLocks) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
