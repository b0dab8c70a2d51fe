package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"waiting-room/internal/app"
	"waiting-room/internal/ws"
	"waiting-room/pkg/metrics"
)

// ReadyFunc reports whether backing services are reachable
type ReadyFunc func(ctx context.Context) error

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub, wl Waitlist, ready ReadyFunc) http.Handler {
	mw := NewMiddleware(cfg, logger)
	api := &WaitlistAPI{WL: wl, Log: logger}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.Warn("http.readyz", "err", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
	}))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint, admitted through the waiting list
	mux.Handle("/ws", mw.Session(http.HandlerFunc(hub.ServeWS)))

	// Waiting list endpoints
	mux.Handle("GET /api/rooms/{room}/waiting-list", mw.Session(http.HandlerFunc(api.Status)))
	mux.Handle("GET /api/rooms/{room}/participants", http.HandlerFunc(api.Participants))

	return mw.Wrap(mux) // CORS + rate limit applied globally
}
