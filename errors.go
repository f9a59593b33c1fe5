package ermis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Match them with errors.Is against any error returned by
// this package.
var (
	// ErrNetwork is returned when no response was received from the gateway.
	ErrNetwork = errors.New("network failure")

	// ErrAuthorization is returned when the gateway rejected the credential or token.
	ErrAuthorization = errors.New("authorization failure")

	// ErrRemote is returned for any other non-success response.
	ErrRemote = errors.New("remote failure")

	// ErrCanceled is returned when an in-flight request or connection
	// attempt was aborted by the client.
	ErrCanceled = errors.New("request canceled")

	// ErrStream is returned when the streaming connection fails to open or
	// drops outside of an explicit teardown.
	ErrStream = errors.New("stream failure")
)

// RequestError carries the kind of failure together with the operation and
// the server's message.
type RequestError struct {
	Op         string // Operation that failed
	Kind       error  // One of the Err* kinds
	StatusCode int    // HTTP status, zero if no response was received
	Message    string // Server or transport message
	Err        error  // Underlying error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *RequestError) Is(target error) bool {
	return target == e.Kind
}

func newRequestError(op string, kind error, status int, message string, err error) *RequestError {
	return &RequestError{
		Op:         op,
		Kind:       kind,
		StatusCode: status,
		Message:    message,
		Err:        err,
	}
}

// transportError classifies a failure where no response was received.
func transportError(op string, err error) *RequestError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newRequestError(op, ErrCanceled, 0, err.Error(), err)
	}
	return newRequestError(op, ErrNetwork, 0, err.Error(), err)
}

// statusError classifies a non-2xx response.
func statusError(op string, status int, body []byte) *RequestError {
	kind := ErrRemote
	if status == http.StatusUnauthorized {
		kind = ErrAuthorization
	}
	return newRequestError(op, kind, status, responseMessage(status, body), nil)
}

type errorBody struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// responseMessage extracts a readable message from an error response body.
func responseMessage(status int, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if len(eb.Error) > 0 {
			var s string
			if json.Unmarshal(eb.Error, &s) == nil && s != "" {
				return s
			}
			var nested errorBody
			if json.Unmarshal(eb.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return msg
	}
	return http.StatusText(status)
}
