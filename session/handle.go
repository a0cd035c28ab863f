package session

import (
	"context"
	"sync"
)

// Handle completes exactly once when the session it was returned for stops.
type Handle struct {
	done     chan struct{}
	err      error
	doneOnce *sync.Once
}

func newHandle() *Handle {
	return &Handle{
		done:     make(chan struct{}),
		doneOnce: &sync.Once{},
	}
}

// Done is closed once the session has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is the cause the session stopped with. It is nil while the session is
// running and after a clean stop.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the session stops or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) complete(err error) {
	h.doneOnce.Do(func() {
		h.err = err
		close(h.done)
	})
}
