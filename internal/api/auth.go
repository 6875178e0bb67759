// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dymelabs/tastecore/internal/config"
	"github.com/dymelabs/tastecore/internal/logging"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext returns the authenticated user ID, or "" when the
// request was not authenticated.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// contextWithUserID is used by tests to simulate an authenticated request.
func contextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Authenticator verifies bearer tokens and installs the caller's user ID in
// the request context.
type Authenticator struct {
	cfg config.SecurityConfig
}

// NewAuthenticator creates an authenticator from security config.
func NewAuthenticator(cfg config.SecurityConfig) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Middleware enforces authentication per the configured mode. In "none" mode
// requests pass through with the user ID taken from the X-User-ID header,
// which keeps local development and integration tests honest about identity
// without requiring token plumbing.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if a.cfg.AuthMode == "none" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-User-ID"); id != "" {
				r = r.WithContext(contextWithUserID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.verify(r)
		if err != nil {
			logger := logging.Ctx(r.Context())
			logger.Debug().Err(err).Msg("authentication failed")
			NewResponseWriter(w, r).Unauthenticated("authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUserID(r.Context(), userID)))
	})
}

// verify parses and validates the bearer token, returning the subject claim.
func (a *Authenticator) verify(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return sub, nil
}

// IssueToken mints a signed token for the given user. Exposed for tooling
// and tests; the production identity provider sits outside this service.
func (a *Authenticator) IssueToken(userID string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = userID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
