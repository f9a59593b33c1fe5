package ermis

import "sync"

// Factory hands out one Client per configuration, so that independent
// callers in a process share a single connection.
type Factory struct {
	mu      sync.Mutex
	clients map[string]*Client
	options []ClientOption
}

// NewFactory returns a Factory applying options to every client it creates.
func NewFactory(options ...ClientOption) *Factory {
	return &Factory{
		clients: make(map[string]*Client),
		options: options,
	}
}

// Client returns the client for opts, creating it on first use. Options are
// only applied on creation.
func (f *Factory) Client(opts Options, options ...ClientOption) *Client {
	key := NewConfig(opts).key()

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c
	}
	all := append(append([]ClientOption(nil), f.options...), options...)
	c := NewClient(opts, all...)
	f.clients[key] = c
	return c
}
