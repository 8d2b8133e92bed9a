// Package auth resolves the caller identity from a JWT issued elsewhere.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agency-ops/internal/models"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
)

// Caller is an authenticated admin or vendor.
type Caller struct {
	ID   string
	Role models.Actor
}

// Claims is the token payload: sub carries the caller id.
type Claims struct {
	Role models.Actor `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	cookie string
	parser *jwt.Parser
}

func NewVerifier(secret, cookie string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		cookie: cookie,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Verify parses the raw token and returns the caller it identifies.
func (v *Verifier) Verify(raw string) (Caller, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Caller{}, fmt.Errorf("%w: subject and role are required", ErrInvalidToken)
	}
	return Caller{ID: claims.Subject, Role: claims.Role}, nil
}

// Sign issues a token for c. The service itself never issues tokens; this is
// for tooling and tests.
func Sign(secret string, c Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// FromRequest reads the bearer token, falling back to the session cookie.
func (v *Verifier) FromRequest(r *http.Request) (Caller, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return Caller{}, ErrInvalidToken
		}
		raw = strings.TrimSpace(token)
	} else if c, err := r.Cookie(v.cookie); err == nil {
		raw = c.Value
	}
	if raw == "" {
		return Caller{}, ErrMissingToken
	}
	return v.Verify(raw)
}

type ctxKey struct{}

// WithCaller stores c on ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// CallerFrom returns the caller stored by the middleware.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(Caller)
	return c, ok
}
