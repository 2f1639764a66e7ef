package subscribers

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SSESubscriber streams frames as server-sent events over a held-open HTTP
// response.
type SSESubscriber struct {
	id           string
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSSESubscriber writes the stream headers and returns a subscriber bound to
// w. The caller must keep the handler running until Done is closed or the
// request context ends, then remove the subscriber.
func NewSSESubscriber(w http.ResponseWriter, writeTimeout time.Duration) (*SSESubscriber, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSESubscriber{
		id:           uuid.NewString(),
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	if err := s.rc.Flush(); err != nil {
		return nil, fmt.Errorf("flush stream headers: %w", err)
	}
	return s, nil
}

func (s *SSESubscriber) ID() string {
	return s.id
}

// Send writes one data event. A write that misses its deadline fails the
// subscriber.
func (s *SSESubscriber) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.writeTimeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Close stops further writes. It waits for an in-flight Send so the handler
// never returns while a write is using its response writer.
func (s *SSESubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

func (s *SSESubscriber) Done() <-chan struct{} {
	return s.done
}
