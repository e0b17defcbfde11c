package stream

// EventType identifies a semantic event kind.
type EventType string

// Semantic event types delivered to the chat UI.
const (
	EventText          EventType = "Text"
	EventProgress      EventType = "Progress"
	EventEndOfResponse EventType = "EndOfResponse"
	EventError         EventType = "Error"
)

// Event is the normalized representation of one upstream message,
// independent of the upstream wire format. The JSON shape is what the
// browser receives inside each SSE frame.
type Event struct {
	Type  EventType `json:"type"`
	Text  string    `json:"text,omitempty"`
	Error string    `json:"error,omitempty"`
}

// TextEvent builds a Text event.
func TextEvent(text string) Event {
	return Event{Type: EventText, Text: text}
}

// ProgressEvent builds a Progress event.
func ProgressEvent(text string) Event {
	return Event{Type: EventProgress, Text: text}
}

// EndOfResponseEvent builds the terminal event.
func EndOfResponseEvent() Event {
	return Event{Type: EventEndOfResponse}
}

// ErrorEvent builds an Error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}
