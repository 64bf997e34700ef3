package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// writeDeadline bounds how long a single frame write may take. A slow
// subscriber must not stall other subscribers (spec §5); bounding the
// per-write deadline and evicting on failure is how that bound is enforced.
const writeDeadline = 10 * time.Second

// HTTPSubscriber adapts an http.ResponseWriter into a registry.Subscriber.
// Writes are serialized with a mutex because the fan-out engine and the
// keepalive loop may both call Send concurrently on the same handle.
type HTTPSubscriber struct {
	mu   sync.Mutex
	w    http.ResponseWriter
	f    http.Flusher
	rc   *http.ResponseController
	dead bool
}

// NewHTTPSubscriber wraps w. Returns an error if w does not support
// flushing, which means streaming is not possible on this connection.
func NewHTTPSubscriber(w http.ResponseWriter) (*HTTPSubscriber, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &HTTPSubscriber{
		w:  w,
		f:  f,
		rc: http.NewResponseController(w),
	}, nil
}

// Send writes frame and flushes it, resetting the write deadline
// afterwards so a long-lived idle connection is not penalized for the time
// since its last frame.
func (h *HTTPSubscriber) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dead {
		return errors.New("subscriber closed")
	}

	_ = h.rc.SetWriteDeadline(time.Now().Add(writeDeadline))
	if _, err := h.w.Write(frame); err != nil {
		h.dead = true
		return err
	}
	h.f.Flush()
	_ = h.rc.SetWriteDeadline(time.Now().Add(writeDeadline))
	return nil
}
