package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every session token; tokens from elsewhere are refused
const Issuer = "waiting-room"

// ErrNoSubject means a token carries no session user id
var ErrNoSubject = errors.New("session token has no subject")

// JWT signs and verifies HS256 session tokens whose subject is the
// anonymous user id
type JWT struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) *JWT { return &JWT{secret: []byte(secret), now: time.Now} }

// Sign mints a token for uid that expires after ttl
func (j *JWT) Sign(uid string, ttl time.Duration) (string, error) {
	if uid == "" {
		return "", ErrNoSubject
	}
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Verify checks signature, issuer and expiry and returns the user id
func (j *JWT) Verify(tok string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tok, &claims,
		func(*jwt.Token) (interface{}, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}
