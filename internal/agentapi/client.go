// Package agentapi implements the client for the upstream conversational
// agent HTTP API: OAuth token exchange, session open/close, and streaming
// message delivery.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/agentrelay/agentrelay/internal/config"
	"github.com/agentrelay/agentrelay/internal/logging"
)

const (
	// closeRetryElapsed bounds the best-effort retry of session close.
	closeRetryElapsed = 5 * time.Second

	// errBodyLimit caps how much of an upstream error body is captured.
	errBodyLimit = 2048
)

// Client talks to the upstream agent API on behalf of one chat session.
type Client struct {
	botID        string
	apiBaseURL   string
	coreURL      string
	clientID     string
	clientSecret string

	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// SessionInfo is the result of opening an upstream session.
type SessionInfo struct {
	SessionID      string
	InitialMessage string
}

// New creates a client from the application configuration.
// All upstream settings must be present.
func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		botID:        cfg.BotID,
		apiBaseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		coreURL:      strings.TrimRight(cfg.CoreURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{}, // no timeout; message responses are long-lived streams
	}, nil
}

// Authenticate exchanges client credentials for a bearer token and caches it.
// The token is acquired lazily and never refreshed preemptively.
func (c *Client) Authenticate(ctx context.Context) error {
	tokenURL := c.coreURL + "/services/oauth2/token"

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: token endpoint returned status %d", ErrAuthentication, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("%w: invalid token response: %v", ErrAuthentication, err)
	}
	if tokenResp.AccessToken == "" {
		return fmt.Errorf("%w: token response missing access_token", ErrAuthentication)
	}

	c.mu.Lock()
	c.token = tokenResp.AccessToken
	c.mu.Unlock()

	logging.Debug().Msg("authenticated with upstream agent API")
	return nil
}

// ensureToken acquires a bearer token if none is cached.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token != "" {
		return token, nil
	}

	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// StartSession opens a new upstream session and returns its identifier plus
// the optional initial greeting.
func (c *Client) StartSession(ctx context.Context) (*SessionInfo, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	sessionURL := fmt.Sprintf("%s/einstein/ai-agent/v1/agents/%s/sessions", c.apiBaseURL, c.botID)

	payload := map[string]any{
		"externalSessionKey": uuid.NewString(),
		"instanceConfig": map[string]any{
			"endpoint": c.coreURL,
		},
		"streamingCapabilities": map[string]any{
			"chunkTypes": []string{"Text"},
		},
		"bypassUser": true,
	}

	resp, err := c.doJSON(ctx, http.MethodPost, sessionURL, token, payload, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: "start session", Status: resp.StatusCode, Body: readErrBody(resp.Body)}
	}

	var sessionResp struct {
		SessionID string `json:"sessionId"`
		Messages  []struct {
			Message string `json:"message"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessionResp); err != nil {
		return nil, fmt.Errorf("%w: invalid session response: %v", ErrProtocol, err)
	}
	if sessionResp.SessionID == "" {
		return nil, fmt.Errorf("%w: session response missing sessionId", ErrProtocol)
	}

	info := &SessionInfo{SessionID: sessionResp.SessionID}
	if len(sessionResp.Messages) > 0 {
		info.InitialMessage = sessionResp.Messages[0].Message
	}

	logging.Info().Str("sessionID", info.SessionID).Msg("upstream session started")
	return info, nil
}

// SendMessage posts a message to an upstream session and returns the raw
// response body as an unbuffered byte stream. The caller must consume it
// incrementally and close it; cancelling ctx releases the stream.
func (c *Client) SendMessage(ctx context.Context, sessionID string, sequenceID int64, text string) (io.ReadCloser, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	streamURL := fmt.Sprintf("%s/einstein/ai-agent/v1/sessions/%s/messages/stream", c.apiBaseURL, sessionID)

	payload := map[string]any{
		"message": map[string]any{
			"sequenceId": sequenceID,
			"type":       "Text",
			"text":       text,
		},
		"variables": []any{},
	}

	resp, err := c.doJSON(ctx, http.MethodPost, streamURL, token, payload, "text/event-stream")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, &StatusError{Op: "send message", Status: resp.StatusCode, Body: readErrBody(resp.Body)}
	}

	logging.Debug().
		Str("sessionID", sessionID).
		Int64("sequenceID", sequenceID).
		Msg("message stream opened")
	return resp.Body, nil
}

// CloseSession issues the upstream DELETE for a session. Transport errors are
// retried with capped exponential backoff since close is best-effort; a
// definitive non-success status is returned without retry.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	closeURL := fmt.Sprintf("%s/einstein/ai-agent/v1/sessions/%s", c.apiBaseURL, sessionID)

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, closeURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&StatusError{Op: "close session", Status: resp.StatusCode, Body: readErrBody(resp.Body)})
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = closeRetryElapsed

	if err := backoff.Retry(attempt, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	logging.Info().Str("sessionID", sessionID).Msg("upstream session closed")
	return nil
}

// doJSON issues an authenticated JSON request.
func (c *Client) doJSON(ctx context.Context, method, rawURL, token string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	return c.httpClient.Do(req)
}

// readErrBody captures a bounded prefix of an error response body.
func readErrBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, errBodyLimit))
	return strings.TrimSpace(string(data))
}
