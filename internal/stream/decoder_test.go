package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader delivers its content in fixed-size chunks to exercise
// arbitrary split points in the wire stream.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// collect drains a decoder until io.EOF.
func collect(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func decodeString(t *testing.T, input string, style FrameStyle) []Event {
	t.Helper()
	return collect(t, NewDecoder(strings.NewReader(input), style))
}

func TestDecodeTextAndEndOfTurn(t *testing.T) {
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"Hello\"}}\n" +
		"data: {\"message\":{\"type\":\"EndOfTurn\"}}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{
		TextEvent("Hello"),
		EndOfResponseEvent(),
		EndOfResponseEvent(), // terminal, deduplicated downstream
	}, events)
}

func TestDecodeAlwaysTerminates(t *testing.T) {
	events := decodeString(t, "", DataOnly)
	require.Equal(t, []Event{EndOfResponseEvent()}, events)
}

func TestChunkBoundaryInvariance(t *testing.T) {
	// Multi-byte characters and a JSON payload that will be split across
	// chunk boundaries at every possible position.
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"héllo wörld 🌍\"}}\n" +
		"data: {\"message\":{\"type\":\"ProgressIndicator\",\"message\":\"thinking\"}}\n" +
		"data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"done ✓\"}}\n" +
		"data: {\"message\":{\"type\":\"EndOfTurn\"}}\n"

	want := decodeString(t, input, DataOnly)
	require.NotEmpty(t, want)

	for size := 1; size <= len(input); size++ {
		got := collect(t, NewDecoder(&chunkedReader{data: []byte(input), size: size}, DataOnly))
		require.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestDuplicateSuppressionWithinTurn(t *testing.T) {
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"same\"}}\n" +
		"data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"same\"}}\n" +
		"data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"other\"}}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{
		TextEvent("same"),
		TextEvent("other"),
		EndOfResponseEvent(),
	}, events)
}

func TestDuplicateAllowedInNewTurn(t *testing.T) {
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"same\"}}\n" +
		"data: {\"message\":{\"type\":\"EndOfTurn\"}}\n" +
		"data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"same\"}}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{
		TextEvent("same"),
		EndOfResponseEvent(),
		TextEvent("same"),
		EndOfResponseEvent(),
	}, events)
}

func TestInformIsDropped(t *testing.T) {
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"part one\"}}\n" +
		"data: {\"message\":{\"type\":\"Inform\",\"message\":\"part one part two\"}}\n" +
		"data: {\"message\":{\"type\":\"EndOfTurn\"}}\n"

	events := decodeString(t, input, DataOnly)
	for _, ev := range events {
		assert.NotEqual(t, "part one part two", ev.Text, "Inform content must not be re-emitted")
	}
	require.Equal(t, TextEvent("part one"), events[0])
}

func TestMalformedJSONDegradesGracefully(t *testing.T) {
	input := "data: {broken json\n" +
		"data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"still works\"}}\n"

	events := decodeString(t, input, DataOnly)
	require.Len(t, events, 3)
	assert.Equal(t, EventText, events[0].Type)
	assert.True(t, strings.HasPrefix(events[0].Text, parseErrorMarker))
	assert.Contains(t, events[0].Text, "{broken json")
	assert.Equal(t, TextEvent("still works"), events[1])
	assert.Equal(t, EndOfResponseEvent(), events[2])
}

func TestProgressPlaceholder(t *testing.T) {
	input := "data: {\"message\":{\"type\":\"ProgressIndicator\"}}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, ProgressEvent(placeholderProgress), events[0])
}

func TestHeuristicClassification(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected Event
	}{
		{
			name:     "progress verb prefix",
			payload:  `{"message":{"type":"Mystery","message":"Analyzing your records"}}`,
			expected: ProgressEvent("Analyzing your records"),
		},
		{
			name:     "action indicator",
			payload:  `{"message":{"type":"Mystery","message":"fetching","indicatorType":"ACTION"}}`,
			expected: ProgressEvent("fetching"),
		},
		{
			name:     "plain text fallback",
			payload:  `{"message":{"type":"Mystery","message":"The answer is 42."}}`,
			expected: TextEvent("The answer is 42."),
		},
		{
			name:     "case-insensitive verb match",
			payload:  `{"message":{"type":"Mystery","message":"looking up your order"}}`,
			expected: ProgressEvent("looking up your order"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := decodeString(t, "data: "+tt.payload+"\n", DataOnly)
			require.Equal(t, tt.expected, events[0])
		})
	}
}

func TestUnknownTypeWithoutMessageIsIgnored(t *testing.T) {
	input := "data: {\"message\":{\"type\":\"Mystery\"}}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{EndOfResponseEvent()}, events)
}

func TestPayloadWithoutMessageEnvelopeIsIgnored(t *testing.T) {
	input := "data: {\"status\":\"ok\"}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{EndOfResponseEvent()}, events)
}

func TestTrailingPartialLineFlushedAsJSON(t *testing.T) {
	// Connection closes with no EndOfTurn and an unterminated final line.
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"begin\"}}\n" +
		`{"message":{"message":"partial"}}`

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{
		TextEvent("begin"),
		TextEvent("partial"),
		EndOfResponseEvent(),
	}, events)
}

func TestTrailingPartialLineFlushedAsRawText(t *testing.T) {
	input := "no json here at all"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{
		TextEvent("no json here at all"),
		EndOfResponseEvent(),
	}, events)
}

func TestEventAndDataStyle(t *testing.T) {
	input := "event: TextChunk\n" +
		"data: {\"message\":\"labeled hello\"}\n" +
		"\n" +
		"event: EndOfTurn\n" +
		"data: {}\n" +
		"\n"

	events := decodeString(t, input, EventAndData)
	require.Equal(t, []Event{
		TextEvent("labeled hello"),
		EndOfResponseEvent(),
		EndOfResponseEvent(),
	}, events)
}

func TestEventAndDataBlankLineResetsLabel(t *testing.T) {
	input := "event: TextChunk\n" +
		"data: {\"message\":\"first\"}\n" +
		"\n" +
		"data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"second\"}}\n"

	events := decodeString(t, input, EventAndData)
	require.Equal(t, []Event{
		TextEvent("first"),
		TextEvent("second"),
		EndOfResponseEvent(),
	}, events)
}

func TestEventAndDataLabeledProgress(t *testing.T) {
	input := "event: ProgressIndicator\n" +
		"data: {\"message\":\"Crunching numbers\"}\n" +
		"\n"

	events := decodeString(t, input, EventAndData)
	require.Equal(t, []Event{
		ProgressEvent("Crunching numbers"),
		EndOfResponseEvent(),
	}, events)
}

func TestBareStringMessageDecodesAsContent(t *testing.T) {
	// No envelope object and no label: the string value is still content
	// and falls through to the heuristic classifier.
	input := "data: {\"message\":\"plain answer\"}\n" +
		"data: {\"message\":\"Looking up the records\"}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{
		TextEvent("plain answer"),
		ProgressEvent("Looking up the records"),
		EndOfResponseEvent(),
	}, events)
}

func TestEnvelopedFramesWorkInEventAndDataStyle(t *testing.T) {
	// The enveloped shape still decodes when the decoder is configured for
	// the paired variant, since the true upstream format is ambiguous.
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"Hello\"}}\n"

	events := decodeString(t, input, EventAndData)
	require.Equal(t, []Event{TextEvent("Hello"), EndOfResponseEvent()}, events)
}

func TestCRLFLineEndings(t *testing.T) {
	input := "data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"Hello\"}}\r\n" +
		"data: {\"message\":{\"type\":\"EndOfTurn\"}}\r\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{
		TextEvent("Hello"),
		EndOfResponseEvent(),
		EndOfResponseEvent(),
	}, events)
}

func TestNonDataLinesIgnored(t *testing.T) {
	input := ": heartbeat comment\n" +
		"id: 7\n" +
		"data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"Hello\"}}\n"

	events := decodeString(t, input, DataOnly)
	require.Equal(t, []Event{TextEvent("Hello"), EndOfResponseEvent()}, events)
}

func TestTurnIDAssigned(t *testing.T) {
	a := NewDecoder(strings.NewReader(""), DataOnly)
	b := NewDecoder(strings.NewReader(""), DataOnly)
	assert.NotEmpty(t, a.TurnID())
	assert.NotEqual(t, a.TurnID(), b.TurnID())
}

// errReader fails after delivering its content.
type errReader struct {
	data []byte
	err  error
}

func (r *errReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

// dataWithErrReader returns its whole content and the error from one call,
// as io.Reader permits.
type dataWithErrReader struct {
	data []byte
	err  error
	done bool
}

func (r *dataWithErrReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, r.err
	}
	r.done = true
	n := copy(p, r.data)
	return n, r.err
}

func TestEventsDeliveredBeforeSameReadError(t *testing.T) {
	d := NewDecoder(&dataWithErrReader{
		data: []byte("data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"Hello\"}}\n"),
		err:  io.ErrUnexpectedEOF,
	}, DataOnly)

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, TextEvent("Hello"), ev)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// The failure is sticky on subsequent pulls.
	_, err = d.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadErrorPropagates(t *testing.T) {
	d := NewDecoder(&errReader{
		data: []byte("data: {\"message\":{\"type\":\"TextChunk\",\"message\":\"Hello\"}}\n"),
		err:  io.ErrUnexpectedEOF,
	}, DataOnly)

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, TextEvent("Hello"), ev)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
