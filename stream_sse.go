package ermis

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxEventSize = 1 << 20

// sseDialer opens text/event-stream connections.
type sseDialer struct {
	httpClient *http.Client
}

// NewSSEDialer returns a Dialer for server-sent events. The client's
// Timeout is ignored for the stream itself, which stays open indefinitely.
func NewSSEDialer(httpClient *http.Client) Dialer {
	c := http.Client{}
	if httpClient != nil {
		c = *httpClient
	}
	c.Timeout = 0
	return &sseDialer{httpClient: &c}
}

type sseStream struct {
	listenerSet
	*streamState
}

func (d *sseDialer) Dial(ctx context.Context, url string, header http.Header) (Stream, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.httpClient.Do(req)
	if !stop() {
		// ctx ended while dialing
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, transportError("open stream", ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, newRequestError("open stream", ErrStream, 0, err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, statusError("open stream", resp.StatusCode, body)
		}
		return nil, newRequestError("open stream", ErrStream, resp.StatusCode, responseMessage(resp.StatusCode, body), nil)
	}

	s := &sseStream{streamState: newStreamState(cancel)}
	go s.readLoop(resp)
	return s, nil
}

func (s *sseStream) Close() error {
	s.finish(errStreamClosed)
	return nil
}

func (s *sseStream) readLoop(resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var p sseParser
	for scanner.Scan() {
		if event, data, ok := p.feed(scanner.Text()); ok {
			s.dispatch(event, data)
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.finish(newRequestError("stream", ErrStream, 0, "stream ended", err))
}

// ============================================================================
// Event framing
// ============================================================================

// sseParser accumulates text/event-stream lines into events.
type sseParser struct {
	event string
	data  []string
}

// feed consumes one line. It reports a complete event when line is the
// blank line terminating one.
func (p *sseParser) feed(line string) (event string, data []byte, ok bool) {
	if line == "" {
		if len(p.data) == 0 {
			p.event = ""
			return "", nil, false
		}
		event = p.event
		if event == "" {
			event = "message"
		}
		data = []byte(strings.Join(p.data, "\n"))
		p.event, p.data = "", nil
		return event, data, true
	}
	if strings.HasPrefix(line, ":") {
		return "", nil, false // heartbeat comment
	}

	field, value := line, ""
	if i := strings.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
	}
	switch field {
	case "event":
		p.event = value
	case "data":
		p.data = append(p.data, value)
	}
	return "", nil, false
}
