package registry

import "log"

// renderSession is the transient barrier tracking one batch of expected mesh
// attachments. It exists only while a batch load is outstanding and is torn
// down as soon as it resolves.
type renderSession struct {
	expected int
	resolved int
	done     chan struct{}
}

// StartRenderSession begins awaiting expected mesh attachments and returns a
// signal that closes on the attachment that satisfies the count. With
// expected <= 0 the signal is already closed and no session remains
// outstanding.
//
// Starting a session while one is outstanding restarts the barrier: the new
// count replaces the old and the resolved counter resets. The superseded
// session's signal never closes; callers needing a bound on that should wrap
// the wait with their own timeout.
func (r *Registry) StartRenderSession(expected int) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if expected <= 0 {
		done := make(chan struct{})
		close(done)
		r.session = nil
		return done
	}

	if r.session != nil {
		log.Printf("[Registry] render session restarted: %d/%d superseded by expected=%d",
			r.session.resolved, r.session.expected, expected)
	}
	r.session = &renderSession{
		expected: expected,
		done:     make(chan struct{}),
	}
	return r.session.done
}

// RenderSessionOutstanding reports whether a batch load is still awaited.
func (r *Registry) RenderSessionOutstanding() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session != nil
}

// resolveSessionLocked advances the outstanding barrier by one attachment,
// completing and tearing it down when the expected count is met. Attachments
// landing with no session outstanding are ignored.
func (r *Registry) resolveSessionLocked() {
	if r.session == nil {
		return
	}
	r.session.resolved++
	if r.session.resolved >= r.session.expected {
		close(r.session.done)
		r.session = nil
	}
}
