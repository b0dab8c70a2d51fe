package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newSessions() *Sessions {
	return NewSessions("test-secret", time.Hour, false, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestJWT_SignVerify(t *testing.T) {
	j := New("s3cret")
	tok, err := j.Sign("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	uid, err := j.Verify(tok)
	if err != nil || uid != "user-1" {
		t.Fatalf("Verify = %q, %v", uid, err)
	}

	if _, err := New("other").Verify(tok); err == nil {
		t.Error("token verified with the wrong secret")
	}
	if _, err := j.Sign("", time.Minute); !errors.Is(err, ErrNoSubject) {
		t.Error("signed an empty uid")
	}
}

func TestJWT_Expired(t *testing.T) {
	j := New("s3cret")
	tok, err := j.Sign("user-1", -time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := j.Verify(tok); err == nil {
		t.Error("expired token verified")
	}
}

func TestJWT_RejectsForeignTokens(t *testing.T) {
	j := New("s3cret")
	sign := func(claims jwt.RegisteredClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		claims jwt.RegisteredClaims
	}{
		{"other issuer", jwt.RegisteredClaims{Subject: "u1", Issuer: "someone-else", ExpiresAt: exp}},
		{"no expiry", jwt.RegisteredClaims{Subject: "u1", Issuer: Issuer}},
		{"no subject", jwt.RegisteredClaims{Issuer: Issuer, ExpiresAt: exp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if uid, err := j.Verify(sign(tt.claims)); err == nil {
				t.Errorf("verified as %q", uid)
			}
		})
	}
}

func TestJWT_ExpiresOnItsClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	j := New("s3cret")
	j.now = func() time.Time { return now }

	tok, err := j.Sign("u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(59 * time.Minute)
	if _, err := j.Verify(tok); err != nil {
		t.Errorf("token rejected before expiry: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := j.Verify(tok); err == nil {
		t.Error("token accepted after expiry")
	}
}

func TestSessions_IssuesAndReuses(t *testing.T) {
	s := newSessions()
	var seen []string
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, UserID(r.Context()))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 0 {
		t.Error("valid session was re-issued")
	}

	if len(seen) != 2 || seen[0] == "" || seen[0] != seen[1] {
		t.Errorf("user ids = %v, want the same id twice", seen)
	}
}

func TestSessions_ReplacesForgedCookie(t *testing.T) {
	s := newSessions()
	var uid string
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid = UserID(r.Context())
	}))

	forged, _ := New("attacker").Sign("victim", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: forged})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if uid == "victim" || uid == "" {
		t.Errorf("uid = %q, want a fresh id", uid)
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("forged session was not replaced")
	}
}
