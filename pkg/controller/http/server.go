package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
)

type Server struct {
	router             *chi.Mux
	uc                 *usecase.UseCases
	slackSigningSecret string
	maxListLimit       int
}

type Options func(*Server)

// WithSlackWebhook enables the chat platform event endpoint. Requests are
// rejected unless signed with signingSecret.
func WithSlackWebhook(signingSecret string) Options {
	return func(s *Server) {
		s.slackSigningSecret = signingSecret
	}
}

// WithMaxListLimit caps the limit query parameter of list endpoints
func WithMaxListLimit(limit int) Options {
	return func(s *Server) {
		s.maxListLimit = limit
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:       r,
		uc:           uc,
		maxListLimit: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/cache", s.cacheCountsHandler)
		r.Get("/cache/{entity}", s.cacheQueryHandler)

		r.Route("/sync/{type}", func(r chi.Router) {
			r.Get("/", s.syncStatusHandler)
			r.Post("/", s.syncTriggerHandler)
			r.Get("/runs", s.syncRunsHandler)
		})

		r.Route("/dispatch", func(r chi.Router) {
			r.Get("/", s.dispatchListHandler)
			r.Post("/", s.dispatchSubmitHandler)
			r.Get("/{id}", s.dispatchStatusHandler)
			r.Post("/{id}/cancel", s.dispatchCancelHandler)
			r.Post("/{id}/retry", s.dispatchRetryHandler)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Get("/", s.noteListHandler)
			r.Post("/", s.noteCreateHandler)
			r.Put("/{id}", s.noteUpdateHandler)
			r.Delete("/{id}", s.noteDeleteHandler)
		})
	})

	// Slack webhook endpoint (if configured) - uses signature verification
	if s.slackSigningSecret != "" {
		r.Route("/hooks/slack", func(r chi.Router) {
			r.Use(SlackSignatureMiddleware(s.slackSigningSecret))
			r.Post("/event", NewSlackWebhookHandler(uc.Event).ServeHTTP)
		})
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.Default().Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
