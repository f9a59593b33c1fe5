// Package ermis is the Go SDK for Ermis event subscriptions.
//
// A Client keeps one server-push connection to the Ermis gateway and routes
// the events it delivers to per-topic handlers. Connection setup is shared
// by concurrent subscribers, and a dropped connection is re-established with
// exponential backoff, re-binding every registered topic.
//
// Example:
//
//	client := ermis.NewClient(ermis.Options{
//		ApplicationID: "app-123",
//		PublicKey:     "pk-...",
//	})
//
//	unsubscribe, err := ermis.SubscribeJSON(ctx, client, "orders", func(o Order) {
//		fmt.Println("order", o.ID)
//	})
//	if err != nil {
//		return err
//	}
//	defer unsubscribe(ctx)
package ermis

import (
	"net/http"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// State is the lifecycle state of a client's connection.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

const (
	topicStateChange  = "ermis:state"
	topicReconnecting = "ermis:reconnecting"
)

// ============================================================================
// Client
// ============================================================================

// Client manages the subscription connection for one set of Options.
type Client struct {
	config           *Config
	httpClient       *http.Client
	gateway          Gateway
	dialer           Dialer
	transport        Transport
	logger           *zap.Logger
	clock            clock.Clock
	reconnectFloor   time.Duration
	reconnectCeiling time.Duration
	bus              evbus.Bus

	gate     *gate
	registry *registry
	backoff  *backoff

	// Guarded by mu. Mutated only by the lifecycle paths in subscriptions.go.
	mu            sync.Mutex
	state         State
	generation    uint64
	connectionID  string
	token         string
	stream        Stream
	replayPending bool
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithTransport selects the built-in streaming transport. The default is
// server-sent events.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) { c.transport = t }
}

// WithDialer replaces the streaming transport.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithGateway replaces the HTTP gateway.
func WithGateway(g Gateway) ClientOption {
	return func(c *Client) { c.gateway = g }
}

// WithClock sets the clock driving reconnection timers.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clock = clk }
}

// WithReconnectDelay sets the first reconnection delay and the cap it
// doubles up to.
func WithReconnectDelay(floor, ceiling time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectFloor = floor
		c.reconnectCeiling = ceiling
	}
}

// NewClient creates a client. No connection is made until the first
// Subscribe.
func NewClient(opts Options, options ...ClientOption) *Client {
	c := &Client{
		config: NewConfig(opts),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		transport:        TransportSSE,
		logger:           zap.NewNop(),
		clock:            clock.New(),
		reconnectFloor:   DefaultReconnectFloor,
		reconnectCeiling: DefaultReconnectCeiling,
		bus:              evbus.New(),
		gate:             newGate(),
		registry:         newRegistry(),
		state:            StateIdle,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.gateway == nil {
		c.gateway = NewGateway(c.config, c.httpClient)
	}
	if c.dialer == nil {
		switch c.transport {
		case TransportWebSocket:
			c.dialer = NewWebSocketDialer(c.httpClient)
		default:
			c.dialer = NewSSEDialer(c.httpClient)
		}
	}
	c.backoff = newBackoff(c.clock, c.reconnectFloor, c.reconnectCeiling)
	return c
}

// Config returns the resolved configuration.
func (c *Client) Config() *Config {
	return c.config
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the identifier of the current connection, or "" when
// none is active.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Topics returns the currently subscribed topic names in no particular order.
func (c *Client) Topics() []string {
	return c.registry.topics()
}

// OnStateChange registers h for connection state transitions. Handlers run
// asynchronously, one call at a time per handler.
func (c *Client) OnStateChange(h func(from, to State)) {
	_ = c.bus.SubscribeAsync(topicStateChange, h, true)
}

// OnReconnecting registers h for scheduled reconnection attempts.
func (c *Client) OnReconnecting(h func(attempt int, delay time.Duration)) {
	_ = c.bus.SubscribeAsync(topicReconnecting, h, true)
}

// setState must be called with c.mu held. The returned func publishes the
// transition and must be called after c.mu is released.
func (c *Client) setState(to State) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	return func() {
		c.bus.Publish(topicStateChange, from, to)
	}
}
