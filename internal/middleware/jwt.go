// Package middleware provides HTTP middleware for request ids, rate limiting
// and bearer token authentication.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"pagequery/internal/domain"
)

// Claims holds the parsed claims of a validated token.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Name     *string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// HS256Validator validates tokens signed with a shared secret.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator returns a validator for secret.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies an HS256 signature and expiry, and extracts the claims.
func (v *HS256Validator) Validate(_ context.Context, token string) (*Claims, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}

	claims := &Claims{}
	claims.Subject, _ = raw.GetSubject()
	claims.Issuer, _ = raw.GetIssuer()
	if aud, err := raw.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if name, ok := raw["name"].(string); ok {
		claims.Name = &name
	}
	return claims, nil
}

// BearerAuth requires a valid "Authorization: Bearer" token with a subject
// and stores the caller in the request context. A nil validator disables
// authentication.
func BearerAuth(v TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized: provide a valid Bearer token")
				return
			}

			claims, err := v.Validate(r.Context(), token)
			if err != nil {
				logger.Debug("rejected bearer token", "request_id", RequestIDFromContext(r.Context()), "error", err)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized: invalid token")
				return
			}
			if claims.Subject == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized: token has no subject")
				return
			}

			ctx := domain.WithPrincipal(r.Context(), domain.ContextPrincipal{
				Name:   claims.Subject,
				Issuer: claims.Issuer,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
