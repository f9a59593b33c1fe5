package ermis

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// errStreamClosed is the Err of a stream closed by its owner.
var errStreamClosed = errors.New("stream closed")

// Listener is a handle for a function attached to a named event on a
// Stream. Handles are compared by identity, so the same Listener can be
// added and later removed.
type Listener struct {
	fn func(data []byte)
}

// NewListener wraps fn in a handle.
func NewListener(fn func(data []byte)) *Listener {
	return &Listener{fn: fn}
}

// Stream is one open server-push connection delivering named events.
type Stream interface {
	// AddListener attaches l to event. Adding an attached handle is a no-op.
	AddListener(event string, l *Listener)

	// RemoveListener detaches l from event.
	RemoveListener(event string, l *Listener)

	// Done is closed when the stream stops delivering events, either
	// because it failed or because Close was called.
	Done() <-chan struct{}

	// Err reports why Done was closed.
	Err() error

	// Close shuts the stream down. Safe to call more than once.
	Close() error
}

// Dialer opens streams. Dial returns once the connection is established.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Stream, error)
}

// Transport selects the built-in Dialer.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

// ============================================================================
// Listener dispatch
// ============================================================================

// listenerSet routes named events to attached listeners. Stream
// implementations embed it.
type listenerSet struct {
	mu        sync.RWMutex
	listeners map[string][]*Listener
}

func (s *listenerSet) AddListener(event string, l *Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[string][]*Listener)
	}
	for _, existing := range s.listeners[event] {
		if existing == l {
			return
		}
	}
	s.listeners[event] = append(s.listeners[event], l)
}

func (s *listenerSet) RemoveListener(event string, l *Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.listeners[event]
	for i, existing := range ls {
		if existing == l {
			s.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(s.listeners[event]) == 0 {
		delete(s.listeners, event)
	}
}

func (s *listenerSet) dispatch(event string, data []byte) {
	s.mu.RLock()
	handlers := append([]*Listener(nil), s.listeners[event]...)
	s.mu.RUnlock()
	for _, l := range handlers {
		l.fn(data)
	}
}

// ============================================================================
// Stream lifecycle
// ============================================================================

// streamState tracks the termination of a stream: the first failure wins
// and closes done.
type streamState struct {
	once   sync.Once
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func newStreamState(cancel context.CancelFunc) *streamState {
	return &streamState{done: make(chan struct{}), cancel: cancel}
}

func (s *streamState) finish(err error) {
	s.once.Do(func() {
		s.err = err
		s.cancel()
		close(s.done)
	})
}

func (s *streamState) Done() <-chan struct{} { return s.done }

// Err is valid once Done is closed.
func (s *streamState) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
