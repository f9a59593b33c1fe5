package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	ermis "github.com/bitloops/ermis/sdk/golang"
)

// transportFlag is a pflag.Value restricted to the built-in transports.
type transportFlag ermis.Transport

var _ pflag.Value = (*transportFlag)(nil)

func (t *transportFlag) String() string {
	if *t == "" {
		return string(ermis.TransportSSE)
	}
	return string(*t)
}

func (t *transportFlag) Set(v string) error {
	switch ermis.Transport(strings.ToLower(v)) {
	case ermis.TransportSSE:
		*t = transportFlag(ermis.TransportSSE)
	case ermis.TransportWebSocket, "ws":
		*t = transportFlag(ermis.TransportWebSocket)
	default:
		return fmt.Errorf("unknown transport %q (valid: sse, websocket)", v)
	}
	return nil
}

func (t *transportFlag) Type() string { return "transport" }

// clientOptions translates the [stream] section into client options. A
// non-empty override takes precedence over the configured transport.
func clientOptions(cfg *Config, logger *zap.Logger, override transportFlag) ([]ermis.ClientOption, error) {
	opts := []ermis.ClientOption{ermis.WithLogger(logger)}

	transport := override
	if transport == "" && cfg.Stream.Transport != "" {
		if err := transport.Set(cfg.Stream.Transport); err != nil {
			return nil, err
		}
	}
	if transport != "" {
		opts = append(opts, ermis.WithTransport(ermis.Transport(transport)))
	}

	if cfg.Stream.Timeout != "" {
		d, err := time.ParseDuration(cfg.Stream.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid stream.timeout: %w", err)
		}
		opts = append(opts, ermis.WithTimeout(d))
	}

	floor, ceiling := ermis.DefaultReconnectFloor, ermis.DefaultReconnectCeiling
	if cfg.Stream.ReconnectFloor != "" {
		d, err := time.ParseDuration(cfg.Stream.ReconnectFloor)
		if err != nil {
			return nil, fmt.Errorf("invalid stream.reconnect_floor: %w", err)
		}
		floor = d
	}
	if cfg.Stream.ReconnectCeiling != "" {
		d, err := time.ParseDuration(cfg.Stream.ReconnectCeiling)
		if err != nil {
			return nil, fmt.Errorf("invalid stream.reconnect_ceiling: %w", err)
		}
		ceiling = d
	}
	opts = append(opts, ermis.WithReconnectDelay(floor, ceiling))
	return opts, nil
}

// requireCredentials rejects a config that cannot authorize.
func requireCredentials(cfg *Config) error {
	if cfg.Default.PublicKey == "" || cfg.Default.ApplicationID == "" {
		return fmt.Errorf("no credentials configured; run 'ermis init <application-id> <public-key>' or set %s and %s",
			envApplicationID, envPublicKey)
	}
	return nil
}

// maskKey shows the first 4 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
