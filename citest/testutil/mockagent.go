package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// StreamScript describes what the mock agent streams for one message turn.
type StreamScript struct {
	// Lines are written verbatim, each followed by a newline, with a
	// flush between lines to force chunked delivery.
	Lines []string
	// DropAfter severs the connection after this many lines without
	// sending a terminal frame. Zero means play the full script.
	DropAfter int
}

// MockAgent is a stand-in for the upstream agent API: token exchange,
// session open/close and the message event stream.
type MockAgent struct {
	server *httptest.Server

	mu        sync.Mutex
	script    StreamScript
	failStart bool
	sessionID string
	greeting  string
	tokens    int
	messages  []string
	deletes   []string
}

// NewMockAgent starts a mock agent server.
func NewMockAgent() *MockAgent {
	m := &MockAgent{
		sessionID: "mock-session",
		greeting:  "Hello from the agent",
	}
	m.server = httptest.NewServer(m.routes())
	return m
}

// URL returns the mock agent's base URL.
func (m *MockAgent) URL() string {
	return m.server.URL
}

// Close shuts the mock agent down.
func (m *MockAgent) Close() {
	m.server.Close()
}

// SetScript replaces the stream script for subsequent message turns.
func (m *MockAgent) SetScript(s StreamScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = s
}

// SetFailStart makes session opens fail with a 503.
func (m *MockAgent) SetFailStart(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStart = fail
}

// TokenRequests reports how many token exchanges were served.
func (m *MockAgent) TokenRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// Messages returns the message texts received so far.
func (m *MockAgent) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// Deletes returns the session ids that were closed upstream.
func (m *MockAgent) Deletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}

func (m *MockAgent) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", m.handleToken)
	mux.HandleFunc("/einstein/ai-agent/v1/agents/", m.handleStartSession)
	mux.HandleFunc("/einstein/ai-agent/v1/sessions/", m.handleSession)
	return mux
}

func (m *MockAgent) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("grant_type") != "client_credentials" {
		http.Error(w, "unsupported grant type", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.tokens++
	m.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]string{"access_token": "mock-token"})
}

func (m *MockAgent) handleStartSession(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	failStart := m.failStart
	sessionID := m.sessionID
	greeting := m.greeting
	m.mu.Unlock()

	if failStart {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"sessionId": sessionID,
		"messages":  []map[string]string{{"message": greeting}},
	})
}

func (m *MockAgent) handleSession(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodDelete:
		id := strings.TrimPrefix(r.URL.Path, "/einstein/ai-agent/v1/sessions/")
		m.mu.Lock()
		m.deletes = append(m.deletes, id)
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/messages/stream"):
		m.handleStream(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockAgent) handleStream(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	json.NewDecoder(r.Body).Decode(&payload)

	m.mu.Lock()
	m.messages = append(m.messages, payload.Message.Text)
	script := m.script
	m.mu.Unlock()

	if script.DropAfter > 0 {
		// Promise a large body, send a prefix, sever the connection.
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			panic(err)
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: 65536\r\n\r\n")
		for i, line := range script.Lines {
			if i >= script.DropAfter {
				break
			}
			buf.WriteString(line + "\n")
		}
		buf.Flush()
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, line := range script.Lines {
		w.Write([]byte(line + "\n"))
		flusher.Flush()
	}
}
