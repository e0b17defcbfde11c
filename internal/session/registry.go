// Package session provides the process-wide registry of active chat
// sessions and their upstream clients.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrelay/agentrelay/internal/agentapi"
	"github.com/agentrelay/agentrelay/internal/event"
	"github.com/agentrelay/agentrelay/internal/logging"
)

// ErrNotFound indicates a session id unknown to the registry.
var ErrNotFound = errors.New("session not found")

// Session tracks the state one chat session carries across its
// request/response cycles: the upstream client holding its credential and
// the outbound message sequence counter.
type Session struct {
	ID     string
	Client *agentapi.Client

	seq atomic.Int64
}

// newSession seeds the sequence counter from wall-clock millis so counters
// do not collide with a previous process's numbering for the same upstream
// conversation.
func newSession(id string, client *agentapi.Client) *Session {
	s := &Session{ID: id, Client: client}
	s.seq.Store(time.Now().UnixMilli())
	return s
}

// NextSequence increments the counter and returns the new value. It is
// called exactly once per outbound message; values are strictly increasing
// for the life of the session.
func (s *Session) NextSequence() int64 {
	return s.seq.Add(1)
}

// ClientFactory builds a fresh upstream client.
type ClientFactory func() (*agentapi.Client, error)

// Registry owns the mapping from session id to session state. It is created
// at process start and passed to whatever serves requests; there is no
// ambient global instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  ClientFactory
}

// NewRegistry creates an empty registry using the given client factory.
func NewRegistry(factory ClientFactory) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
	}
}

// Create opens a new upstream session and registers it. Returns the new
// session and the optional initial greeting from the upstream agent.
func (r *Registry) Create(ctx context.Context) (*Session, string, error) {
	client, err := r.factory()
	if err != nil {
		return nil, "", err
	}

	info, err := client.StartSession(ctx)
	if err != nil {
		return nil, "", err
	}

	sess := newSession(info.SessionID, client)

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{
			SessionID:      sess.ID,
			InitialMessage: info.InitialMessage,
		},
	})

	return sess, info.InitialMessage, nil
}

// Lookup returns the session for an id. The boolean follows the map idiom;
// lookups and removals are atomic with respect to each other.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes a session entry. It is idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseSession closes a session upstream and removes it from the registry.
// When the id is not registered (typically after a restart) a throwaway
// client is synthesized just to issue the upstream DELETE, so metadata loss
// never makes close fail for the user.
func (r *Registry) CloseSession(ctx context.Context, id string) error {
	sess, ok := r.Lookup(id)

	var client *agentapi.Client
	transient := false
	if ok {
		client = sess.Client
	} else {
		transient = true
		var err error
		client, err = r.factory()
		if err != nil {
			return err
		}
		logging.Info().Str("sessionID", id).Msg("session absent from registry, closing with transient client")
	}

	if err := client.CloseSession(ctx, id); err != nil {
		return err
	}

	r.Remove(id)

	event.Publish(event.Event{
		Type: event.SessionClosed,
		Data: event.SessionClosedData{SessionID: id, Transient: transient},
	})

	return nil
}
