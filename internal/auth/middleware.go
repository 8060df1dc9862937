package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

const AccessTokenCookie = "access_token"

type credentialKey struct{}

func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

func CredentialFromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(Credential)
	return cred, ok
}

// TokenFromRequest reads the session cookie, falling back to a Bearer header.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}

	return ""
}

// Middleware requires an active authenticated credential.
func Middleware(guard *Guard, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, err := guard.ResolveRequestIdentity(r.Context(), TokenFromRequest(r))
		if err != nil {
			if errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to resolve session")
			return
		}

		if _, err := guard.RequireActive(cred); err != nil {
			writeError(w, http.StatusForbidden, "inactive user")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred)))
	})
}

// OptionalMiddleware attaches the credential when one resolves and lets
// anonymous requests through untouched.
func OptionalMiddleware(guard *Guard, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cred := guard.ResolveRequestIdentityOptional(r.Context(), TokenFromRequest(r)); cred != nil {
			r = r.WithContext(WithCredential(r.Context(), *cred))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles must run inside Middleware.
func RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := CredentialFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !RequireRole(cred, roles...) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
