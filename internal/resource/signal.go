package resource

import "sync"

// Signal is a broadcast wake-up. Waiters grab the current channel with C and
// block on it; Broadcast closes that channel and installs a fresh one, so
// every waiter that observed the old generation is released exactly once.
//
// A waiter must read C before it drops whatever lock guards the state it is
// waiting on, otherwise a Broadcast in between is lost.
type Signal struct {
	mu      sync.Mutex
	changed chan struct{}
	gen     uint64
}

func NewSignal() *Signal {
	return &Signal{changed: make(chan struct{})}
}

// C returns the channel for the current generation.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Signal) Broadcast() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.gen++
	s.mu.Unlock()
}

// Generation counts broadcasts so far.
func (s *Signal) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}
