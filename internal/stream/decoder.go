// Package stream decodes the upstream agent API's framed byte stream into a
// lazy, ordered sequence of semantic events.
//
// The upstream wire format is not fully stable: payloads are usually JSON
// carried on "data:" lines, sometimes paired with "event:" labels, and
// occasionally free text. The decoder classifies what it recognizes and
// degrades to heuristics for the rest; it never fails closed on a malformed
// frame, because dropping a whole response silently is the one unacceptable
// outcome.
package stream

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
)

// FrameStyle selects which upstream framing variant the decoder expects.
type FrameStyle string

const (
	// DataOnly treats every "data:" line as a self-contained frame.
	DataOnly FrameStyle = "data-only"

	// EventAndData pairs "event:" label lines with the "data:" lines that
	// follow them; a blank line ends the pair.
	EventAndData FrameStyle = "event-and-data"
)

// Upstream message type discriminators.
const (
	typeTextChunk         = "TextChunk"
	typeProgressIndicator = "ProgressIndicator"
	typeInform            = "Inform"
	typeEndOfTurn         = "EndOfTurn"
)

// progressPattern matches free-text messages that read like activity
// indicators rather than answer content.
var progressPattern = regexp.MustCompile(`(?i)^(Digging into|Looking up|Searching for|Analyzing|Checking|Working on)`)

// parseErrorMarker prefixes best-effort Text events built from frames whose
// payload could not be parsed as JSON.
const parseErrorMarker = "[Parsing Error] "

// placeholderProgress is emitted for progress frames with no content.
const placeholderProgress = "Working on it..."

const readChunkSize = 4096

// Decoder incrementally turns a raw byte stream into semantic events.
// It is a pull-model iterator: call Next until it returns io.EOF, which
// happens strictly after the terminal EndOfResponse has been delivered.
// A Decoder serves exactly one message cycle and cannot be restarted.
type Decoder struct {
	r     io.Reader
	style FrameStyle

	turnID string

	// buf holds raw bytes up to the last unterminated line. Splitting
	// happens on '\n' only, so a multi-byte UTF-8 sequence split across
	// read chunks is carried intact to the next chunk.
	buf     []byte
	readBuf []byte

	pending []Event

	// Duplicate suppression: the upstream occasionally repeats a chunk.
	lastText string
	hasLast  bool

	// Pending "event:" label (EventAndData style only).
	eventLabel string

	// Read failure held back until already-decoded events are delivered.
	readErr error

	flushed bool
}

// NewDecoder creates a decoder over an upstream byte stream.
func NewDecoder(r io.Reader, style FrameStyle) *Decoder {
	if style == "" {
		style = DataOnly
	}
	return &Decoder{
		r:       r,
		style:   style,
		turnID:  ulid.Make().String(),
		readBuf: make([]byte, readChunkSize),
	}
}

// TurnID returns the identifier assigned to this decode cycle, used to
// correlate log entries and lifecycle events.
func (d *Decoder) TurnID() string {
	return d.turnID
}

// Next returns the next semantic event. After the terminal EndOfResponse has
// been delivered it returns io.EOF. Any other error means the underlying
// read failed mid-stream; the caller is responsible for folding that into an
// Error event followed by EndOfResponse.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}

		if d.readErr != nil {
			return Event{}, d.readErr
		}

		if d.flushed {
			return Event{}, io.EOF
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.buf = append(d.buf, d.readBuf[:n]...)
			d.splitLines()
		}
		if err == io.EOF {
			d.flush()
			continue
		}
		if err != nil {
			// A read may deliver bytes and an error together; hold the
			// error back until the decoded events have been drained.
			d.readErr = err
			continue
		}
	}
}

// splitLines processes every terminated line in the buffer, retaining the
// final possibly-incomplete line for the next chunk.
func (d *Decoder) splitLines() {
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return
		}
		line := strings.TrimSuffix(string(d.buf[:idx]), "\r")
		d.buf = d.buf[idx+1:]
		d.processLine(line)
	}
}

// processLine handles one complete frame line.
func (d *Decoder) processLine(line string) {
	if strings.TrimSpace(line) == "" {
		// Blank line is the event boundary in the paired variant.
		d.eventLabel = ""
		return
	}

	if d.style == EventAndData && strings.HasPrefix(line, "event:") {
		d.eventLabel = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		return
	}

	if !strings.HasPrefix(line, "data:") {
		return
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return
	}

	d.decodePayload(payload)
}

// decodePayload parses one candidate JSON payload and classifies it.
func (d *Decoder) decodePayload(payload string) {
	if !gjson.Valid(payload) {
		// Never drop data silently: surface the raw payload, visibly marked.
		d.pending = append(d.pending, TextEvent(parseErrorMarker+payload))
		return
	}

	parsed := gjson.Parse(payload)
	msg := parsed.Get("message")
	if !msg.Exists() {
		if d.style == EventAndData && d.eventLabel != "" {
			// Labeled variant carries the message fields at top level.
			msg = parsed
		} else {
			return
		}
	}

	msgType := msg.Get("type").String()
	if msgType == "" {
		msgType = d.eventLabel
	}
	content := msg.Get("message").String()
	if msg.Type == gjson.String {
		// A bare string "message" field is itself the content; the label
		// (when present) names the type.
		content = msg.String()
	}

	switch msgType {
	case typeTextChunk:
		d.emitText(content)

	case typeProgressIndicator:
		if content == "" {
			content = placeholderProgress
		}
		d.pending = append(d.pending, ProgressEvent(content))

	case typeInform:
		// Inform echoes the full message already delivered as chunks.
		// Re-emitting it would duplicate the streamed text.

	case typeEndOfTurn:
		d.pending = append(d.pending, EndOfResponseEvent())
		d.lastText = ""
		d.hasLast = false

	default:
		if content == "" {
			return
		}
		if msg.Get("indicatorType").String() == "ACTION" || progressPattern.MatchString(content) {
			d.pending = append(d.pending, ProgressEvent(content))
		} else {
			d.emitText(content)
		}
	}
}

// emitText queues a Text event unless it is byte-identical to the
// immediately previous one within the current turn.
func (d *Decoder) emitText(text string) {
	if d.hasLast && d.lastText == text {
		return
	}
	d.lastText = text
	d.hasLast = true
	d.pending = append(d.pending, TextEvent(text))
}

// flush handles end of input: a best-effort decode of any trailing partial
// line, then the unconditional terminal EndOfResponse.
func (d *Decoder) flush() {
	d.flushed = true

	rest := strings.TrimSpace(string(d.buf))
	d.buf = nil

	if rest != "" {
		payload := rest
		if strings.HasPrefix(payload, "data:") {
			payload = strings.TrimSpace(strings.TrimPrefix(payload, "data:"))
		}
		if gjson.Valid(payload) {
			if m := gjson.Get(payload, "message.message"); m.String() != "" {
				d.emitText(m.String())
			}
		} else if payload != "" {
			d.emitText(payload)
		}
	}

	d.pending = append(d.pending, EndOfResponseEvent())
}
