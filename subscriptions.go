package ermis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const replayConcurrency = 8

// Unsubscribe detaches a subscription. The local listener and registry
// entry are removed immediately; the remote unbind is best effort and its
// failure is only logged. Calls after the first do nothing.
type Unsubscribe func(ctx context.Context)

// Subscribe registers handler for topic and returns once the topic is bound
// to the live connection and listening. The first subscriber on an idle
// client establishes the connection; concurrent subscribers wait for it and
// share it.
//
// On failure the topic is removed again and the error is one of the kinds
// in errors.go.
func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) (Unsubscribe, error) {
	if topic == "" {
		return nil, errors.New("subscribe: topic is required")
	}
	if handler == nil {
		return nil, errors.New("subscribe: handler is required")
	}

	sub := c.registry.add(topic, handler)
	unsubscribe := c.unsubscribeFunc(sub)
	cleanupCtx := context.WithoutCancel(ctx)

	release, err := c.gate.acquire(ctx)
	if err != nil {
		unsubscribe(cleanupCtx)
		return nil, err
	}
	var replay bool
	if !c.established() {
		replay, err = c.connect(ctx)
	}
	release()
	if err != nil {
		unsubscribe(cleanupCtx)
		return nil, err
	}
	if replay {
		go c.replay(context.Background())
	}

	if err := c.bind(ctx, sub); err != nil {
		unsubscribe(cleanupCtx)
		return nil, err
	}
	return unsubscribe, nil
}

// SubscribeJSON is Subscribe with the payload decoded into T. Payloads that
// do not decode are logged and dropped.
func SubscribeJSON[T any](ctx context.Context, c *Client, topic string, fn func(T)) (Unsubscribe, error) {
	return c.Subscribe(ctx, topic, func(payload json.RawMessage) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			c.logger.Warn("dropping undecodable event",
				zap.String("topic", topic),
				zap.Error(err))
			return
		}
		fn(v)
	})
}

// established reports whether a connection is open.
func (c *Client) established() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && c.stream != nil
}

// ============================================================================
// Connection setup
// ============================================================================

// connect mints a connection identifier, authorizes it and opens the
// stream. It must be called with the gate held. replay reports whether the
// registry has to be re-bound because a previous connection was lost.
func (c *Client) connect(ctx context.Context) (replay bool, err error) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	id := uuid.NewString()
	c.connectionID, c.token, c.stream = id, "", nil
	notify := c.setState(StateConnecting)
	c.mu.Unlock()
	notify()

	c.logger.Debug("connecting", zap.String("connection_id", id))

	token, err := c.gateway.Authorize(ctx, id)
	if err != nil {
		c.abandon(gen)
		return false, err
	}

	stream, err := c.dialer.Dial(ctx, c.config.ConnectionURL(id), authHeaders(c.config, token))
	if err != nil {
		c.abandon(gen)
		return false, err
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		stream.Close()
		return false, newRequestError("connect", ErrCanceled, 0, "connection torn down during setup", nil)
	}
	c.token, c.stream = token, stream
	replay = c.replayPending
	c.replayPending = false
	notify = c.setState(StateOpen)
	c.mu.Unlock()
	notify()

	c.backoff.reset()
	c.logger.Info("connection established", zap.String("connection_id", id))

	go c.watch(gen, stream)
	return replay, nil
}

// abandon discards a failed connection attempt.
func (c *Client) abandon(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.connectionID, c.token, c.stream = "", "", nil
	next := StateIdle
	if c.replayPending {
		next = StateReconnecting
	}
	notify := c.setState(next)
	c.mu.Unlock()
	notify()
}

// watch waits for stream to end. A stream that ends while it is still the
// current connection has failed: its identifier is discarded and a retry is
// scheduled.
func (c *Client) watch(gen uint64, stream Stream) {
	<-stream.Done()

	c.mu.Lock()
	if gen != c.generation || c.stream != stream {
		c.mu.Unlock()
		return
	}
	id := c.connectionID
	c.connectionID, c.token, c.stream = "", "", nil
	c.replayPending = true
	notify := c.setState(StateReconnecting)
	attempt, delay := c.backoff.schedule(c.retry)
	c.mu.Unlock()

	stream.Close()
	notify()
	c.bus.Publish(topicReconnecting, attempt, delay)

	c.logger.Warn("stream failed, reconnecting",
		zap.String("connection_id", id),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(stream.Err()))
}

// retry is the backoff action: re-establish the connection and re-bind
// every registered topic.
func (c *Client) retry() {
	release, err := c.gate.acquire(context.Background())
	if err != nil {
		return
	}
	if c.registry.isEmpty() || c.established() {
		release()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout())
	replay, err := c.connect(ctx)
	cancel()
	if err != nil {
		attempt, delay := c.backoff.schedule(c.retry)
		release()
		c.bus.Publish(topicReconnecting, attempt, delay)
		c.logger.Warn("reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		return
	}
	release()

	if replay {
		c.replay(context.Background())
	}
}

func (c *Client) connectTimeout() time.Duration {
	if c.httpClient.Timeout > 0 {
		return c.httpClient.Timeout
	}
	return DefaultTimeout
}

// replay binds every registered topic to the new connection and attaches
// its listener. A topic whose bind fails stays registered and is bound
// again after the next reconnection.
func (c *Client) replay(ctx context.Context) {
	subs := c.registry.snapshot()

	var g errgroup.Group
	g.SetLimit(replayConcurrency)
	for _, sub := range subs {
		g.Go(func() error {
			if !c.registry.current(sub) {
				return nil
			}
			if err := c.bind(ctx, sub); err != nil {
				c.logger.Error("resubscribe failed",
					zap.String("topic", sub.topic),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return
	}
	c.logger.Debug("resubscribed all topics", zap.Int("topics", len(subs)))
}

// bind binds sub's topic to the current connection and, once the gateway
// confirms, attaches its listener.
func (c *Client) bind(ctx context.Context, sub *subscription) error {
	c.mu.Lock()
	id, token, stream := c.connectionID, c.token, c.stream
	c.mu.Unlock()

	if stream == nil {
		return newRequestError("bind", ErrStream, 0, "no open connection", nil)
	}
	if err := c.gateway.Bind(ctx, id, token, sub.topic); err != nil {
		return err
	}
	if sub.active.Load() {
		stream.AddListener(sub.topic, sub.listener)
		c.logger.Debug("listening",
			zap.String("topic", sub.topic),
			zap.String("connection_id", id))
	}
	return nil
}

// ============================================================================
// Teardown
// ============================================================================

func (c *Client) unsubscribeFunc(sub *subscription) Unsubscribe {
	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() { c.unsubscribe(ctx, sub) })
	}
}

func (c *Client) unsubscribe(ctx context.Context, sub *subscription) {
	c.mu.Lock()
	id, token, stream := c.connectionID, c.token, c.stream
	c.mu.Unlock()

	if stream != nil {
		stream.RemoveListener(sub.topic, sub.listener)
	}
	removed, empty := c.registry.remove(sub)
	c.logger.Debug("removed listener", zap.String("topic", sub.topic))

	if empty {
		c.teardown()
	}

	// A newer subscription for the same topic keeps the server-side binding.
	if !removed || id == "" || stream == nil {
		return
	}
	if err := c.gateway.Unbind(ctx, id, token, sub.topic); err != nil {
		c.logger.Warn("unbind failed",
			zap.String("topic", sub.topic),
			zap.String("connection_id", id),
			zap.Error(err))
	}
}

// teardown closes the connection once the last topic is gone. It runs under
// the gate so it cannot interleave with a connection attempt, and re-checks
// the registry since a subscriber may have arrived meanwhile.
func (c *Client) teardown() {
	release, err := c.gate.acquire(context.Background())
	if err != nil {
		return
	}
	defer release()

	if !c.registry.isEmpty() {
		return
	}
	c.backoff.cancel()

	c.mu.Lock()
	c.generation++
	stream, id := c.stream, c.connectionID
	next := StateClosed
	if c.state == StateIdle {
		next = StateIdle
	}
	c.connectionID, c.token, c.stream = "", "", nil
	c.replayPending = false
	notify := c.setState(next)
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	notify()

	if next == StateClosed {
		c.logger.Info("connection closed, no subscribers left", zap.String("connection_id", id))
	}
}
