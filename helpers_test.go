package ermis

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ============================================================================
// Test Helpers
// ============================================================================

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type bindCall struct {
	ConnectionID string
	Token        string
	Topic        string
}

// fakeGateway records calls and lets tests inject failures or block
// authorization.
type fakeGateway struct {
	mu         sync.Mutex
	authorized []string
	binds      []bindCall
	unbinds    []bindCall

	authorizeErr  error
	authorizeGate chan struct{}
	bindErr       map[string]error
	unbindErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{bindErr: make(map[string]error)}
}

func (g *fakeGateway) Authorize(ctx context.Context, connectionID string) (string, error) {
	g.mu.Lock()
	g.authorized = append(g.authorized, connectionID)
	wait, err := g.authorizeGate, g.authorizeErr
	g.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return "", transportError("authorize", ctx.Err())
		}
	}
	if err != nil {
		return "", err
	}
	return "token-" + connectionID, nil
}

func (g *fakeGateway) Bind(ctx context.Context, connectionID, token, topic string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.binds = append(g.binds, bindCall{connectionID, token, topic})
	return g.bindErr[topic]
}

func (g *fakeGateway) Unbind(ctx context.Context, connectionID, token, topic string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unbinds = append(g.unbinds, bindCall{connectionID, token, topic})
	return g.unbindErr
}

func (g *fakeGateway) setBindErr(topic string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.bindErr, topic)
		return
	}
	g.bindErr[topic] = err
}

func (g *fakeGateway) authorizeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.authorized)
}

func (g *fakeGateway) bindCalls() []bindCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bindCall(nil), g.binds...)
}

func (g *fakeGateway) unbindCalls() []bindCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bindCall(nil), g.unbinds...)
}

// bindsFor returns the topics bound under connectionID.
func (g *fakeGateway) bindsFor(connectionID string) map[string]bool {
	topics := make(map[string]bool)
	for _, b := range g.bindCalls() {
		if b.ConnectionID == connectionID {
			topics[b.Topic] = true
		}
	}
	return topics
}

// fakeStream is a Stream driven by the test.
type fakeStream struct {
	listenerSet
	*streamState
	url    string
	header http.Header
}

func (s *fakeStream) Close() error {
	s.finish(errStreamClosed)
	return nil
}

func (s *fakeStream) emit(event, data string) {
	s.dispatch(event, []byte(data))
}

func (s *fakeStream) drop() {
	s.finish(newRequestError("stream", ErrStream, 0, "connection reset", nil))
}

func (s *fakeStream) listening(event string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[event])
}

func (s *fakeStream) closed() bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{streamState: newStreamState(func() {}), url: url, header: header}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *fakeDialer) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

type testEnv struct {
	client  *Client
	gateway *fakeGateway
	dialer  *fakeDialer
	clock   *clock.Mock
	logs    *observer.ObservedLogs
}

func newTestEnv(t *testing.T, options ...ClientOption) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	env := &testEnv{
		gateway: newFakeGateway(),
		dialer:  &fakeDialer{},
		clock:   clock.NewMock(),
		logs:    logs,
	}
	all := append([]ClientOption{
		WithGateway(env.gateway),
		WithDialer(env.dialer),
		WithClock(env.clock),
		WithLogger(zap.New(core)),
	}, options...)
	env.client = NewClient(Options{ApplicationID: "app-1", PublicKey: "pk-test"}, all...)
	return env
}
