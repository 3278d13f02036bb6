// Package auth implements the bearer-token middleware guarding
// cmd/statusd's endpoints: a single shared HMAC secret rather than the
// mTLS/OIDC/JWKS machinery a multi-tenant API gateway would need, since
// this surface has exactly one kind of caller (an internal monitor) and
// exactly one thing to prove (it holds the configured secret).
package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyAuthInfo ctxKey = "telemetry.authInfo"

// AuthInfo holds what the middleware extracted from a validated token.
type AuthInfo struct {
	Subject string
}

// FromContext returns the AuthInfo stored in the request context, or nil if
// the request was never authenticated (always the case downstream of a
// NewMiddleware built with an empty secret).
func FromContext(ctx context.Context) *AuthInfo {
	v := ctx.Value(ctxKeyAuthInfo)
	if v == nil {
		return nil
	}
	ai, ok := v.(*AuthInfo)
	if !ok {
		return nil
	}
	return ai
}

// NewMiddleware returns an HTTP middleware that rejects any request without
// a valid HMAC-signed (HS256/HS384/HS512) bearer token signed with secret.
// An empty secret disables
// auth entirely (used for local development), logging a warning once per
// process rather than on every request.
func NewMiddleware(secret string) func(http.Handler) http.Handler {
	if secret == "" {
		log.Println("[auth] STATUS_JWT_SECRET not set, statusd is running with no authentication")
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimSpace(authz[len("bearer "):])

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				log.Printf("[auth] rejected token: %v", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			subject, _ := claims["sub"].(string)
			ctx := context.WithValue(r.Context(), ctxKeyAuthInfo, &AuthInfo{Subject: subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
