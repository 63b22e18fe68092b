// Package auth resolves the identity attached to an HTTP request or
// websocket handshake. Tokens are HS256 JWTs carrying a userId claim.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rubiojr/pulse/pkg/core"
)

const (
	DefaultCookieName = "token"
	DefaultTTL        = 7 * 24 * time.Hour
	issuer            = "pulse"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
)

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies identity tokens.
type Authenticator struct {
	secret     []byte
	cookieName string
}

func NewAuthenticator(secret, cookieName string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Authenticator{secret: []byte(secret), cookieName: cookieName}, nil
}

// Issue returns a signed token for user valid for ttl.
func (a *Authenticator) Issue(user core.UserID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims := Claims{
		UserID: string(user),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns its identity.
func (a *Authenticator) Verify(token string) (core.UserID, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return core.UserID(claims.UserID), nil
}

// FromRequest extracts and verifies the token carried by r. The cookie wins
// over the Authorization header, which wins over the token query parameter.
func (a *Authenticator) FromRequest(r *http.Request) (core.UserID, error) {
	token := a.tokenFrom(r)
	if token == "" {
		return "", ErrUnauthenticated
	}
	return a.Verify(token)
}

func (a *Authenticator) tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
