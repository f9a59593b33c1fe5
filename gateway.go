package ermis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Gateway is the remote side of the subscription protocol. Every call is a
// single request/response exchange; retry policy belongs to the caller.
type Gateway interface {
	// Authorize obtains a token bound to connectionID.
	Authorize(ctx context.Context, connectionID string) (string, error)

	// Bind associates topic with the live connection.
	Bind(ctx context.Context, connectionID, token, topic string) error

	// Unbind dissociates topic from the connection. Unbinding an absent
	// topic is tolerated by the server.
	Unbind(ctx context.Context, connectionID, token, topic string) error
}

type httpGateway struct {
	config     *Config
	httpClient *http.Client
}

// NewGateway returns a Gateway speaking HTTP to config's REST endpoint.
func NewGateway(config *Config, httpClient *http.Client) Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &httpGateway{config: config, httpClient: httpClient}
}

type authorizeRequest struct {
	ConnectionID string `json:"connectionId"`
}

type authorizeResponse struct {
	Token string `json:"token"`
}

type topicRequest struct {
	Topic string `json:"topic"`
}

func (g *httpGateway) Authorize(ctx context.Context, connectionID string) (string, error) {
	data, err := g.do(ctx, "authorize", g.config.AuthorizeURL(), "", &authorizeRequest{ConnectionID: connectionID})
	if err != nil {
		return "", err
	}
	resp, err := decodeJSON[authorizeResponse](data)
	if err != nil {
		return "", newRequestError("authorize", ErrRemote, http.StatusOK, err.Error(), err)
	}
	if resp.Token == "" {
		return "", newRequestError("authorize", ErrRemote, http.StatusOK, "response carried no token", nil)
	}
	return resp.Token, nil
}

func (g *httpGateway) Bind(ctx context.Context, connectionID, token, topic string) error {
	_, err := g.do(ctx, "bind", g.config.SubscribeURL(connectionID), token, &topicRequest{Topic: topic})
	return err
}

func (g *httpGateway) Unbind(ctx context.Context, connectionID, token, topic string) error {
	_, err := g.do(ctx, "unbind", g.config.UnsubscribeURL(connectionID), token, &topicRequest{Topic: topic})
	return err
}

// ============================================================================
// Internal request helper
// ============================================================================

func (g *httpGateway) do(ctx context.Context, op, url, token string, body interface{}) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header = authHeaders(g.config, token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp.StatusCode, data)
	}
	return data, nil
}

// authHeaders are sent on every gateway call and on the stream open. The
// public key travels as the raw Authorization value.
func authHeaders(config *Config, token string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", config.PublicKey())
	if token != "" {
		h.Set("token", token)
	}
	return h
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
