package testutil

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/agentrelay/agentrelay/internal/agentapi"
	"github.com/agentrelay/agentrelay/internal/config"
	"github.com/agentrelay/agentrelay/internal/server"
	"github.com/agentrelay/agentrelay/internal/session"
	"github.com/agentrelay/agentrelay/internal/stream"
)

// TestServer wraps a relay server wired against a MockAgent.
type TestServer struct {
	Agent    *MockAgent
	Registry *session.Registry
	BaseURL  string

	frontend *httptest.Server
}

// TestServerOption configures TestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	frameStyle  stream.FrameStyle
	idleTimeout time.Duration
}

// WithFrameStyle sets the decoder frame style.
func WithFrameStyle(style stream.FrameStyle) TestServerOption {
	return func(c *testServerConfig) {
		c.frameStyle = style
	}
}

// WithIdleTimeout sets the upstream idle timeout.
func WithIdleTimeout(d time.Duration) TestServerOption {
	return func(c *testServerConfig) {
		c.idleTimeout = d
	}
}

// StartTestServer starts a mock agent and a relay server against it.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	tc := &testServerConfig{
		frameStyle:  stream.DataOnly,
		idleTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(tc)
	}

	agent := NewMockAgent()

	cfg := config.Default()
	cfg.BotID = "bot-1"
	cfg.APIBaseURL = agent.URL()
	cfg.CoreURL = agent.URL()
	cfg.ClientID = "test-client"
	cfg.ClientSecret = "test-secret"
	if err := cfg.Validate(); err != nil {
		agent.Close()
		return nil, fmt.Errorf("invalid test config: %w", err)
	}

	registry := session.NewRegistry(func() (*agentapi.Client, error) {
		return agentapi.New(cfg)
	})

	srvCfg := server.DefaultConfig()
	srvCfg.FrameStyle = tc.frameStyle
	srvCfg.IdleTimeout = tc.idleTimeout

	srv := server.New(srvCfg, registry)
	frontend := httptest.NewServer(srv.Router())

	return &TestServer{
		Agent:    agent,
		Registry: registry,
		BaseURL:  frontend.URL,
		frontend: frontend,
	}, nil
}

// Stop shuts down the relay server and the mock agent.
func (ts *TestServer) Stop() {
	if ts.frontend != nil {
		ts.frontend.Close()
	}
	if ts.Agent != nil {
		ts.Agent.Close()
	}
}

// WaitReady blocks until the server answers requests.
func (ts *TestServer) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", ts.frontend.Listener.Addr().String(), time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %s", timeout)
}

// Client returns an HTTP client suitable for streaming requests.
func (ts *TestServer) Client() *http.Client {
	return &http.Client{Timeout: 0}
}
