package ermis

import (
	"strings"
)

const (
	DefaultHost        = "api.ermis.io"
	DefaultGatewayHost = "gw.ermis.io"

	subscribePath   = "/bitloops/events/subscribe"
	unsubscribePath = "/bitloops/events/unsubscribe"
	connectionPath  = "/bitloops/events"
	authorizePath   = "/bitloops/events/authorize"
)

// Options are the caller-supplied settings for a client. Zero values for
// Host and GatewayHost fall back to the public Ermis endpoints.
type Options struct {
	ApplicationID string `toml:"application_id" yaml:"application_id"`
	PublicKey     string `toml:"public_key" yaml:"public_key"`
	Host          string `toml:"host,omitempty" yaml:"host,omitempty"`
	GatewayHost   string `toml:"gw_host,omitempty" yaml:"gw_host,omitempty"`
	SSL           bool   `toml:"ssl" yaml:"ssl"`
}

// Config is the resolved, immutable form of Options.
type Config struct {
	applicationID string
	publicKey     string
	host          string
	gwHost        string
	ssl           bool
}

// NewConfig resolves defaults for opts.
func NewConfig(opts Options) *Config {
	c := &Config{
		applicationID: opts.ApplicationID,
		publicKey:     opts.PublicKey,
		host:          strings.TrimRight(opts.Host, "/"),
		gwHost:        strings.TrimRight(opts.GatewayHost, "/"),
		ssl:           opts.SSL,
	}
	if c.host == "" {
		c.host = DefaultHost
	}
	if c.gwHost == "" {
		c.gwHost = DefaultGatewayHost
	}
	return c
}

// Options returns the resolved settings.
func (c *Config) Options() Options {
	return Options{
		ApplicationID: c.applicationID,
		PublicKey:     c.publicKey,
		Host:          c.host,
		GatewayHost:   c.gwHost,
		SSL:           c.ssl,
	}
}

func (c *Config) ApplicationID() string { return c.applicationID }
func (c *Config) PublicKey() string     { return c.publicKey }
func (c *Config) Host() string          { return c.host }
func (c *Config) GatewayHost() string   { return c.gwHost }
func (c *Config) SSL() bool             { return c.ssl }

func (c *Config) scheme() string {
	if c.ssl {
		return "https"
	}
	return "http"
}

// BaseURL is the REST endpoint used for authorize, subscribe and unsubscribe.
func (c *Config) BaseURL() string {
	return c.scheme() + "://" + c.host
}

// GatewayBaseURL is the endpoint serving the event stream.
func (c *Config) GatewayBaseURL() string {
	return c.scheme() + "://" + c.gwHost
}

func (c *Config) AuthorizeURL() string {
	return c.BaseURL() + authorizePath
}

func (c *Config) SubscribeURL(connectionID string) string {
	return c.BaseURL() + subscribePath + "/" + connectionID
}

func (c *Config) UnsubscribeURL(connectionID string) string {
	return c.BaseURL() + unsubscribePath + "/" + connectionID
}

// ConnectionURL is the stream endpoint for connectionID. The scheme is
// http(s); the WebSocket dialer rewrites it to ws(s).
func (c *Config) ConnectionURL(connectionID string) string {
	return c.GatewayBaseURL() + connectionPath + "/" + connectionID
}

// key identifies configurations that may share one client.
func (c *Config) key() string {
	return strings.Join([]string{c.scheme(), c.host, c.gwHost, c.applicationID, c.publicKey}, "|")
}
