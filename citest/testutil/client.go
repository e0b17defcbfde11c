package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/internal/stream"
)

// ChatClient exercises the relay's chat API the way the browser UI does.
type ChatClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewChatClient creates a chat test client.
func NewChatClient(baseURL string) *ChatClient {
	return &ChatClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
	}
}

// SessionResult is the response from starting a session.
type SessionResult struct {
	SessionID      string `json:"sessionId"`
	InitialMessage string `json:"initialMessage"`
}

// StartSession opens a chat session through the relay.
func (c *ChatClient) StartSession(ctx context.Context) (*SessionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat/session", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var result SessionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CloseSession closes a chat session through the relay.
func (c *ChatClient) CloseSession(ctx context.Context, sessionID string) error {
	u := c.BaseURL + "/api/chat/session?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

// StreamMessage sends a message and opens the SSE stream for the reply.
func (c *ChatClient) StreamMessage(ctx context.Context, sessionID, message string) (*EventStream, error) {
	u := fmt.Sprintf("%s/api/chat/message?sessionId=%s&message=%s",
		c.BaseURL, url.QueryEscape(sessionID), url.QueryEscape(message))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type: %s", ct)
	}

	es := newEventStream(resp.Body)
	go es.read()
	return es, nil
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return fmt.Errorf("api error (%d): %s", resp.StatusCode, body.Error)
}

// EventStream consumes the relay's semantic event SSE stream.
type EventStream struct {
	body io.ReadCloser

	mu     sync.Mutex
	events []stream.Event

	ch   chan stream.Event
	errc chan error
}

func newEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		body: body,
		ch:   make(chan stream.Event, 100),
		errc: make(chan error, 1),
	}
}

// read parses data-only SSE frames from the connection.
func (es *EventStream) read() {
	defer close(es.ch)
	defer es.body.Close()

	scanner := bufio.NewScanner(es.body)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			es.errc <- fmt.Errorf("bad frame %q: %w", line, err)
			return
		}

		es.mu.Lock()
		es.events = append(es.events, ev)
		es.mu.Unlock()

		select {
		case es.ch <- ev:
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		es.errc <- err
	}
}

// Next waits for the next event with a timeout.
func (es *EventStream) Next(timeout time.Duration) (*stream.Event, error) {
	select {
	case ev, ok := <-es.ch:
		if !ok {
			return nil, io.EOF
		}
		return &ev, nil
	case err := <-es.errc:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for event")
	}
}

// Collect drains the stream until it ends or the timeout elapses and
// returns every event observed.
func (es *EventStream) Collect(timeout time.Duration) ([]stream.Event, error) {
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-es.ch:
			if !ok {
				es.mu.Lock()
				defer es.mu.Unlock()
				return append([]stream.Event(nil), es.events...), nil
			}
		case err := <-es.errc:
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timeout collecting events")
		}
	}
}

// CountType counts observed events of the given type.
func (es *EventStream) CountType(t stream.EventType) int {
	es.mu.Lock()
	defer es.mu.Unlock()
	count := 0
	for _, ev := range es.events {
		if ev.Type == t {
			count++
		}
	}
	return count
}

// Close tears the stream down.
func (es *EventStream) Close() {
	es.body.Close()
}
