package agentapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for the upstream agent API.
var (
	// ErrAuthentication indicates the OAuth token exchange failed.
	ErrAuthentication = errors.New("authentication failed")

	// ErrProtocol indicates the upstream response was missing a required
	// field, such as the session identifier.
	ErrProtocol = errors.New("upstream protocol error")
)

// StatusError reports a non-success HTTP status from the upstream API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
}
