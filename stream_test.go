package ermis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type received struct {
	event string
	data  string
}

func collect(s Stream, events ...string) <-chan received {
	ch := make(chan received, 16)
	for _, event := range events {
		s.AddListener(event, NewListener(func(data []byte) {
			ch <- received{event, string(data)}
		}))
	}
	return ch
}

func nextEvent(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("no event received")
		return received{}
	}
}

func waitDone(t *testing.T, s Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("stream did not finish")
	}
}

// ============================================================================
// Listener set
// ============================================================================

func TestListenerSet(t *testing.T) {
	var s listenerSet
	var calls []string
	a := NewListener(func(data []byte) { calls = append(calls, "a:"+string(data)) })
	b := NewListener(func(data []byte) { calls = append(calls, "b:"+string(data)) })

	s.AddListener("orders", a)
	s.AddListener("orders", a)
	s.AddListener("orders", b)
	s.dispatch("orders", []byte("1"))
	s.dispatch("shipping", []byte("x"))

	s.RemoveListener("orders", a)
	s.dispatch("orders", []byte("2"))

	assert.Equal(t, []string{"a:1", "b:1", "b:2"}, calls)
}

// ============================================================================
// SSE framing
// ============================================================================

func TestSSEParser(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		event string
		data  string
		ok    bool
	}{
		{"named event", []string{"event: orders", `data: {"id":1}`, ""}, "orders", `{"id":1}`, true},
		{"default event name", []string{"data: hello", ""}, "message", "hello", true},
		{"multi-line data", []string{"event: log", "data: a", "data: b", ""}, "log", "a\nb", true},
		{"no space after colon", []string{"event:orders", "data:x", ""}, "orders", "x", true},
		{"comment ignored", []string{": ping", "event: orders", "data: x", ""}, "orders", "x", true},
		{"unknown field ignored", []string{"id: 7", "retry: 100", "data: x", ""}, "message", "x", true},
		{"event without data", []string{"event: orders", ""}, "", "", false},
		{"heartbeat only", []string{": keep-alive", ""}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p sseParser
			var event string
			var data []byte
			var ok bool
			for _, line := range tt.lines {
				event, data, ok = p.feed(line)
			}
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, tt.data, string(data))
		})
	}
}

func TestSSEParser_ResetsBetweenEvents(t *testing.T) {
	var p sseParser
	p.feed("event: orders")
	p.feed("data: 1")
	p.feed("")

	p.feed("data: 2")
	event, data, ok := p.feed("")
	require.True(t, ok)
	assert.Equal(t, "message", event)
	assert.Equal(t, "2", string(data))
}

// ============================================================================
// SSE transport
// ============================================================================

func TestSSEDialer_DeliversEvents(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "pk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "tok-1", r.Header.Get("token"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release

		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: orders\ndata: {\"id\":1}\n\n")
		fmt.Fprint(w, "event: shipping\ndata: {\"id\":2}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	config := testConfig(server)
	s, err := NewSSEDialer(nil).Dial(context.Background(), config.ConnectionURL("conn-1"), authHeaders(config, "tok-1"))
	require.NoError(t, err)
	defer s.Close()

	ch := collect(s, "orders", "shipping")
	close(release)

	assert.Equal(t, received{"orders", `{"id":1}`}, nextEvent(t, ch))
	assert.Equal(t, received{"shipping", `{"id":2}`}, nextEvent(t, ch))
	assert.Nil(t, s.Err())
}

func TestSSEDialer_ServerEndsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: orders\ndata: 1\n\n")
	}))
	defer server.Close()

	s, err := NewSSEDialer(nil).Dial(context.Background(), server.URL, http.Header{})
	require.NoError(t, err)

	waitDone(t, s)
	assert.True(t, errors.Is(s.Err(), ErrStream), "got %v", s.Err())
}

func TestSSEDialer_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	s, err := NewSSEDialer(nil).Dial(context.Background(), server.URL, http.Header{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	waitDone(t, s)
	assert.Equal(t, errStreamClosed, s.Err())
}

func TestSSEDialer_RejectsStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthorization},
		{"not found", http.StatusNotFound, ErrStream},
		{"unavailable", http.StatusServiceUnavailable, ErrStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewSSEDialer(nil).Dial(context.Background(), server.URL, http.Header{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, tt.status, reqErr.StatusCode)
		})
	}
}

func TestSSEDialer_CanceledDial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewSSEDialer(nil).Dial(ctx, server.URL, http.Header{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCanceled), "got %v", err)
}

// ============================================================================
// WebSocket transport
// ============================================================================

func TestWebSocketDialer_DeliversEvents(t *testing.T) {
	ready := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "tok-1", r.Header.Get("token"))
		assert.Empty(t, r.Header.Get("Content-Type"))

		conn, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		<-ready
		conn.Write(ctx, websocket.MessageText, []byte("not json"))
		wsjson.Write(ctx, conn, map[string]any{"data": 1})
		wsjson.Write(ctx, conn, wsEnvelope{Event: "orders", Data: []byte(`{"id":1}`)})
		conn.Read(ctx)
	}))
	defer server.Close()

	config := testConfig(server)
	s, err := NewWebSocketDialer(nil).Dial(context.Background(), config.ConnectionURL("conn-1"), authHeaders(config, "tok-1"))
	require.NoError(t, err)
	defer s.Close()

	ch := collect(s, "orders", "message")
	close(ready)

	assert.Equal(t, received{"orders", `{"id":1}`}, nextEvent(t, ch))
	assert.Nil(t, s.Err())
}

func TestWebSocketDialer_ServerCloses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		conn.Close(websocket.StatusGoingAway, "restarting")
	}))
	defer server.Close()

	s, err := NewWebSocketDialer(nil).Dial(context.Background(), server.URL, http.Header{})
	require.NoError(t, err)

	waitDone(t, s)
	assert.True(t, errors.Is(s.Err(), ErrStream), "got %v", s.Err())
}

func TestWebSocketDialer_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewWebSocketDialer(nil).Dial(context.Background(), server.URL, http.Header{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthorization), "got %v", err)
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://gw.ermis.io/bitloops/events/c1", wsURL("http://gw.ermis.io/bitloops/events/c1"))
	assert.Equal(t, "wss://gw.ermis.io/bitloops/events/c1", wsURL("https://gw.ermis.io/bitloops/events/c1"))
}
