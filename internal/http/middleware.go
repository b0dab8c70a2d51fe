package httpx

import (
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"waiting-room/internal/app"
	"waiting-room/pkg/auth"
	"waiting-room/pkg/ratelimit"
)

type Middleware struct {
	cors     *cors.Cors
	sessions *auth.Sessions
	rlimit   *ratelimit.Limiter
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config, logger *slog.Logger) *Middleware {
	return &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllow,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true, // session cookie
		}),
		sessions: auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL, cfg.Env == "prod", logger),
		rlimit:   ratelimit.New(cfg.RateLimitPerSec),
	}
}

// Wrap applies CORS + rate limiting to a handler
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(m.rlimit.Middleware(h))
}

// Session resolves (or issues) the anonymous session user
func (m *Middleware) Session(next http.Handler) http.Handler {
	return m.sessions.Middleware(next)
}
