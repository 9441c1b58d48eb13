package route

import (
	"sync"
	"sync/atomic"
)

// Stopper is the process-wide "stop accepting requests" flag. Serving loops
// check Stopped before taking a new request and let the current one finish.
type Stopper struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func NewStopper() *Stopper {
	return &Stopper{done: make(chan struct{})}
}

// Stop raises the flag. It reports whether this call was the one that did.
func (s *Stopper) Stop() bool {
	first := false
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.done)
		first = true
	})
	return first
}

func (s *Stopper) Stopped() bool { return s.stopped.Load() }

// Done is closed once Stop has been called.
func (s *Stopper) Done() <-chan struct{} { return s.done }
