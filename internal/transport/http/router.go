package http

import (
	"context"
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/vidcon/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterDeps struct {
	Handler        *Handler
	Feed           http.HandlerFunc
	JWTSecret      []byte
	AllowedOrigins []string
	ChatLimiter    *httpmw.RateLimit
	// Ready проверяет хранилище для /healthz; nil означает всегда ok.
	Ready func(ctx context.Context) error
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.Tracing)
	r.Use(httpmw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	auth := httpmw.Auth(d.JWTSecret)

	// WS endpoint
	r.With(auth).Get("/ws/feed", d.Feed)

	r.Group(func(pr chi.Router) {
		pr.Use(auth)
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/rooms/{id}", func(rr chi.Router) {
			rr.Post("/participants", d.Handler.JoinRoom)
			rr.Get("/participants", d.Handler.GetParticipants)
			rr.Delete("/participants/{username}", d.Handler.LeaveRoom)

			if d.ChatLimiter != nil {
				rr.With(d.ChatLimiter.Middleware).Post("/messages", d.Handler.SendMessage)
			} else {
				rr.Post("/messages", d.Handler.SendMessage)
			}
			rr.Get("/messages", d.Handler.GetChatHistory)

			rr.Post("/breakouts", d.Handler.CreateBreakout)
			rr.Get("/breakouts", d.Handler.ListBreakouts)
		})
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
