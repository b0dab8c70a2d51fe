package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieName carries the signed session token
const CookieName = "wr_session"

type ctxKey int

const userKey ctxKey = 1

// WithUser stores the session user id in ctx
func WithUser(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userKey, uid)
}

// UserID returns the session user id, "" outside a session
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

// Sessions hands every browser an anonymous, signed user id. The id is what
// the waiting list ranks; it survives page reloads so a user keeps their
// place in line.
type Sessions struct {
	jwt    *JWT
	ttl    time.Duration
	secure bool
	log    *slog.Logger
}

// NewSessions returns a session issuer. secure marks cookies HTTPS-only.
func NewSessions(secret string, ttl time.Duration, secure bool, log *slog.Logger) *Sessions {
	return &Sessions{jwt: New(secret), ttl: ttl, secure: secure, log: log}
}

// Middleware resolves the session user, minting one if the cookie is
// missing or invalid, and stores it in the request context
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(CookieName); err == nil {
			if uid, err := s.jwt.Verify(c.Value); err == nil {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), uid)))
				return
			}
		}

		uid := uuid.NewString()
		tok, err := s.jwt.Sign(uid, s.ttl)
		if err != nil {
			s.log.Error("session.sign", "err", err)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    tok,
			Path:     "/",
			MaxAge:   int(s.ttl.Seconds()),
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
		s.log.Debug("session.issued", "uid", uid)
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), uid)))
	})
}
