package seqbuf

// A slot is a single-waiter wake-up shared by the two sides of a Reader.
// One party parks on the slot and waits on the channel it returns; the other
// party calls wake to resume it.
//
// The waiting flag is guarded by the lock of the owning Reader, so park,
// wake, and unpark must be called with that lock held. The channel itself
// is received from without the lock.
//
// Waking a slot with no waiter is a no-op. Each wake is consumed by exactly
// one receive, so a waiter is never signaled twice for the same wait.
type slot struct {
	ch      chan struct{}
	waiting bool
}

func newSlot() *slot { return &slot{ch: make(chan struct{}, 1)} }

// park registers a waiter and returns the channel on which it will be
// woken. At most one waiter may be registered at a time.
func (s *slot) park() <-chan struct{} {
	if s.waiting {
		panic("slot already has a waiter")
	}
	s.waiting = true
	return s.ch
}

// wake resumes the registered waiter, if any, and clears the registration.
// It reports whether a waiter was woken. wake does not block.
func (s *slot) wake() bool {
	if !s.waiting {
		return false
	}
	s.waiting = false
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return true
}

// unpark withdraws a registration made by a waiter that gave up, and
// discards a wake-up that may have been sent in the meantime.
func (s *slot) unpark() {
	s.waiting = false
	select {
	case <-s.ch:
	default:
	}
}
