package lock

// MPMCChan_t is a multi-producer multi-consumer notification channel:
// any number of harts may both send and receive. BoundedChan_t's mutex-protected FIFO plus broadcasting
// condvar is already safe for multiple concurrent senders and
// receivers, so this is the same type under the name call sites that
// want the MPMC framing use (log commit waiters, bio disk-completion
// queues), rather than a second implementation of the same primitive.
type MPMCChan_t = BoundedChan_t

// MkMPMCChan returns an MPMC channel with the given capacity.
func MkMPMCChan(capacity int) *MPMCChan_t {
	return MkBoundedChan(capacity)
}
