package ermis

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
)

// wsEnvelope is the wire format of one event on the WebSocket transport.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsDialer struct {
	httpClient *http.Client
}

// NewWebSocketDialer returns a Dialer that receives events as JSON text
// messages over a WebSocket.
func NewWebSocketDialer(httpClient *http.Client) Dialer {
	c := http.Client{}
	if httpClient != nil {
		c = *httpClient
	}
	c.Timeout = 0
	return &wsDialer{httpClient: &c}
}

type wsStream struct {
	listenerSet
	*streamState
	conn *websocket.Conn
}

func wsURL(url string) string {
	url = strings.Replace(url, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

func (d *wsDialer) Dial(ctx context.Context, url string, header http.Header) (Stream, error) {
	h := header.Clone()
	h.Del("Content-Type")

	conn, resp, err := websocket.Dial(ctx, wsURL(url), &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: h,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, transportError("open stream", ctx.Err())
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, statusError("open stream", resp.StatusCode, nil)
		}
		return nil, newRequestError("open stream", ErrStream, 0, err.Error(), err)
	}
	conn.SetReadLimit(maxEventSize)

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &wsStream{streamState: newStreamState(cancel), conn: conn}
	go s.readLoop(streamCtx)
	return s, nil
}

func (s *wsStream) Close() error {
	s.finish(errStreamClosed)
	return nil
}

func (s *wsStream) readLoop(ctx context.Context) {
	defer s.conn.Close(websocket.StatusNormalClosure, "client disconnect")

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.finish(newRequestError("stream", ErrStream, 0, "stream ended", err))
			return
		}

		var env wsEnvelope
		if json.Unmarshal(data, &env) != nil || env.Event == "" {
			continue
		}
		s.dispatch(env.Event, env.Data)
	}
}
