package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Chat routes consumed by the browser UI
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/session", s.startChatSession)
		r.Delete("/session", s.closeChatSession)
		r.Get("/message", s.chatMessage) // Streaming response
	})

	// Lifecycle event streaming (SSE)
	r.Get("/events", s.lifecycleEvents)
}
