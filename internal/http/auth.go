package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ehailing/internal/callable"
)

const (
	RoleAdmin = "admin"
	// RoleService is carried by tokens issued to internal location feeds.
	RoleService = "service"
)

var errUnauthorized = errors.New("missing or invalid bearer token")

// Claims is the identity carried by the bearer token; Subject is the uid.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

const claimsKey contextKey = "claims"

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// Issue signs a token for uid; used by tests and local tooling.
func (a *Authenticator) Issue(uid, name, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Validate(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errUnauthorized
	}
	return claims, nil
}

// bearer reads the token from the Authorization header, or from the token
// query parameter for websocket clients that cannot set headers.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

// authenticate resolves the caller and forwards the raw token to remote
// function calls made on its behalf.
func (a *Authenticator) authenticate(r *http.Request) (*http.Request, error) {
	raw := bearer(r)
	if raw == "" {
		return r, errUnauthorized
	}
	claims, err := a.Validate(raw)
	if err != nil {
		return r, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	ctx := context.WithValue(r.Context(), claimsKey, claims)
	ctx = callable.WithIDToken(ctx, raw)
	return r.WithContext(ctx), nil
}

func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, err := a.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c := claimsFrom(r.Context()); c == nil || c.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func uidFrom(ctx context.Context) string {
	if c := claimsFrom(ctx); c != nil {
		return c.Subject
	}
	return ""
}
