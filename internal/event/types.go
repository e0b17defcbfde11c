package event

// SessionCreatedData is the payload for SessionCreated events.
type SessionCreatedData struct {
	SessionID      string `json:"sessionID"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

// SessionClosedData is the payload for SessionClosed events.
// Transient is true when the close was issued via a throwaway client
// because the session was not present in the registry.
type SessionClosedData struct {
	SessionID string `json:"sessionID"`
	Transient bool   `json:"transient,omitempty"`
}

// MessageSentData is the payload for MessageSent events.
type MessageSentData struct {
	SessionID  string `json:"sessionID"`
	SequenceID int64  `json:"sequenceID"`
}

// StreamCompletedData is the payload for StreamCompleted events.
type StreamCompletedData struct {
	SessionID string `json:"sessionID"`
	TurnID    string `json:"turnID"`
	Events    int    `json:"events"`
}

// StreamFailedData is the payload for StreamFailed events.
type StreamFailedData struct {
	SessionID string `json:"sessionID"`
	TurnID    string `json:"turnID"`
	Reason    string `json:"reason"`
}
