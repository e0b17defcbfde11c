package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/agentrelay/agentrelay/internal/agentapi"
	"github.com/agentrelay/agentrelay/internal/event"
	"github.com/agentrelay/agentrelay/internal/logging"
	"github.com/agentrelay/agentrelay/internal/stream"
)

// startChatSession handles POST /api/chat/session.
func (s *Server) startChatSession(w http.ResponseWriter, r *http.Request) {
	sess, initialMessage, err := s.registry.Create(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("failed to create session")
		writeError(w, upstreamStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		SessionID:      sess.ID,
		InitialMessage: initialMessage,
	})
}

// closeChatSession handles DELETE /api/chat/session.
func (s *Server) closeChatSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId required")
		return
	}

	if err := s.registry.CloseSession(r.Context(), sessionID); err != nil {
		logging.Error().Err(err).Str("sessionId", sessionID).Msg("failed to close session")
		writeError(w, upstreamStatus(err), err.Error())
		return
	}

	writeSuccess(w)
}

// chatMessage handles GET /api/chat/message.
// It forwards the message upstream and re-emits the decoded event stream
// as SSE frames. The stream always ends with exactly one EndOfResponse.
func (s *Server) chatMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	message := r.URL.Query().Get("message")
	if message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	sequenceID := sess.NextSequence()

	// Inbound request context drives the upstream call, so a client
	// disconnect cancels the upstream read.
	body, err := sess.Client.SendMessage(r.Context(), sess.ID, sequenceID, message)
	if err != nil {
		logging.Error().Err(err).Str("sessionId", sessionID).Msg("failed to send message")
		writeError(w, upstreamStatus(err), err.Error())
		return
	}

	event.Publish(event.Event{
		Type: event.MessageSent,
		Data: event.MessageSentData{SessionID: sessionID, SequenceID: sequenceID},
	})

	setSSEHeaders(w)

	sse, err := newSSEWriter(w)
	if err != nil {
		body.Close()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	idle := stream.NewIdleTimeoutReader(body, s.config.IdleTimeout)
	defer idle.Close()

	dec := stream.NewDecoder(idle, s.config.FrameStyle)
	s.relayEvents(sse, dec, sessionID)
}

// relayEvents pulls semantic events from the decoder and writes them as SSE
// frames, deduplicating the terminal event to exactly one EndOfResponse.
func (s *Server) relayEvents(sse *sseWriter, dec *stream.Decoder, sessionID string) {
	endSent := false
	emitted := 0

	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Upstream read failure mid-stream: fold it into the event
			// sequence so the client connection ends cleanly.
			logging.Warn().Err(err).Str("sessionId", sessionID).Msg("upstream stream failed")
			sse.writeData(stream.ErrorEvent(err.Error()))
			if !endSent {
				sse.writeData(stream.EndOfResponseEvent())
				endSent = true
			}
			event.Publish(event.Event{
				Type: event.StreamFailed,
				Data: event.StreamFailedData{
					SessionID: sessionID,
					TurnID:    dec.TurnID(),
					Reason:    err.Error(),
				},
			})
			return
		}

		if ev.Type == stream.EventEndOfResponse {
			if endSent {
				continue
			}
			endSent = true
		}

		if err := sse.writeData(ev); err != nil {
			// Client went away
			return
		}
		emitted++
	}

	if !endSent {
		sse.writeData(stream.EndOfResponseEvent())
	}

	event.Publish(event.Event{
		Type: event.StreamCompleted,
		Data: event.StreamCompletedData{
			SessionID: sessionID,
			TurnID:    dec.TurnID(),
			Events:    emitted,
		},
	})
}

// upstreamStatus maps client errors to boundary HTTP statuses.
func upstreamStatus(err error) int {
	if errors.Is(err, agentapi.ErrAuthentication) {
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}
