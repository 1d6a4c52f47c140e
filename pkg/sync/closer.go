package sync

import "sync"

// Closer implements a simple closer pattern where callers can wait on the
// Done channel until Close is called, at most once.
type Closer struct {
	closeOnce sync.Once
	doneCh    chan struct{}
}

func NewCloser() *Closer {
	return &Closer{doneCh: make(chan struct{})}
}

// Done returns the channel that is closed once Close has been called.
func (c *Closer) Done() <-chan struct{} {
	return c.doneCh
}

// Close closes the Done channel. It is safe to call multiple times.
func (c *Closer) Close() {
	c.closeOnce.Do(func() {
		close(c.doneCh)
	})
}
