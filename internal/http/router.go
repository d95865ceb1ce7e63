package http

import (
	"encoding/json"
	"net/http"

	"interview-media-relay/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SessionStatus is the payload served by the session status endpoint.
type SessionStatus struct {
	MeetingID    string `json:"meetingId"`
	Connected    bool   `json:"connected"`
	Participants int    `json:"participants"`
}

// StatusFunc reports the current relay session state.
type StatusFunc func() SessionStatus

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, status StatusFunc) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			st := SessionStatus{}
			if status != nil {
				st = status()
			}
			if st.MeetingID == "" {
				st.MeetingID = application.Cfg.Session.MeetingID
			}
			_ = json.NewEncoder(w).Encode(st)
		})
	})

	return r
}
