package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"employee-records/internal/audit"
	"employee-records/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

const (
	msgInvalidLogin    = "Invalid username or password"
	msgTooManyAttempts = "Too many login attempts. Please try again later."
	msgWeakPassword    = "Password must be at least 8 characters long and include uppercase, lowercase, numbers, and special characters"
)

type AuditRecorder interface {
	Record(ctx context.Context, userID string, action audit.Action, details string) error
}

type Handler struct {
	guard        *Guard
	limiter      *LoginRateLimiter
	audit        AuditRecorder
	logger       *observability.Logger
	cookieSecure bool
}

func NewHandler(guard *Guard, limiter *LoginRateLimiter, recorder AuditRecorder, logger *observability.Logger, cookieSecure bool) *Handler {
	return &Handler{
		guard:        guard,
		limiter:      limiter,
		audit:        recorder,
		logger:       logger,
		cookieSecure: cookieSecure,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type updateProfileRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionResponse struct {
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	identity := strings.TrimSpace(body.Username)
	if identity == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	var limited RateLimitError
	if err := h.limiter.Allow(identity); errors.As(err, &limited) {
		observability.RateLimited.WithLabelValues("identity").Inc()
		observability.LoginAttempts.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       msgTooManyAttempts,
			"retry_after": limited.RetryAfterSeconds,
		})
		return
	}

	cred, err := h.guard.Authenticate(r.Context(), identity, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			observability.LoginAttempts.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusUnauthorized, msgInvalidLogin)
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	if _, err := h.guard.RequireActive(cred); err != nil {
		observability.LoginAttempts.WithLabelValues("inactive").Inc()
		writeError(w, http.StatusForbidden, "inactive user")
		return
	}

	token, err := h.guard.IssueSession(cred.Username)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	observability.LoginAttempts.WithLabelValues("success").Inc()
	h.record(r.Context(), cred.ID, audit.ActionLogin, fmt.Sprintf("User %s logged in", cred.Username))
	h.setSessionCookie(w, token)

	writeJSON(w, http.StatusOK, sessionResponse{
		Username:  cred.Username,
		Role:      cred.Role,
		TokenType: "Bearer",
		ExpiresIn: int64(token.ExpiresAt.Sub(token.IssuedAt).Seconds()),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := TokenFromRequest(r)
	if cred := h.guard.ResolveRequestIdentityOptional(r.Context(), raw); cred != nil {
		h.record(r.Context(), cred.ID, audit.ActionLogout, fmt.Sprintf("User %s logged out", cred.Username))
	}

	if err := h.guard.EndSession(r.Context(), raw); err != nil {
		sentry.CaptureException(err)
		h.logger.Error("revoke_session_failed", map[string]any{"error": err.Error()})
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)

	if body.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if body.Password != body.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "Passwords do not match")
		return
	}
	if !IsValidEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "Please enter a valid email address")
		return
	}

	ctx := r.Context()
	if taken, err := h.exists(ctx, h.guard.users.FindByUsername, body.Username); err != nil {
		h.internalError(w, err, "failed to register")
		return
	} else if taken {
		writeError(w, http.StatusConflict, "Username already exists")
		return
	}
	if taken, err := h.exists(ctx, h.guard.users.FindByEmail, body.Email); err != nil {
		h.internalError(w, err, "failed to register")
		return
	} else if taken {
		writeError(w, http.StatusConflict, "Email address is already registered")
		return
	}

	if !IsStrongPassword(body.Password) {
		writeError(w, http.StatusBadRequest, msgWeakPassword)
		return
	}

	hash, err := h.guard.hasher.Hash(body.Password)
	if err != nil {
		h.internalError(w, err, "failed to register")
		return
	}

	id, err := h.guard.users.Create(ctx, NewCredential{
		Username:     body.Username,
		Email:        body.Email,
		PasswordHash: hash,
		Role:         RoleUser,
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			writeError(w, http.StatusConflict, "Username or email already exists")
			return
		}
		h.internalError(w, err, "failed to register")
		return
	}

	h.record(ctx, id, audit.ActionUserRegistered, fmt.Sprintf("New user %s registered successfully", body.Username))

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"username": body.Username,
		"email":    body.Email,
		"role":     RoleUser,
	})
}

// Session reports the caller's identity without requiring one.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": cred})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// UpdateProfile changes the caller's own username and email. A rename
// revokes the presented token and sets a cookie for the new subject.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var body updateProfileRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)

	if body.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if !IsValidEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "Please enter a valid email address")
		return
	}

	ctx := r.Context()
	if taken, err := h.takenByOther(ctx, h.guard.users.FindByUsername, body.Username, cred.ID); err != nil {
		h.internalError(w, err, "failed to update profile")
		return
	} else if taken {
		writeError(w, http.StatusConflict, "Username already exists")
		return
	}
	if taken, err := h.takenByOther(ctx, h.guard.users.FindByEmail, body.Email, cred.ID); err != nil {
		h.internalError(w, err, "failed to update profile")
		return
	} else if taken {
		writeError(w, http.StatusConflict, "Email address is already registered")
		return
	}

	updated, err := h.guard.users.UpdateProfile(ctx, cred.ID, body.Username, body.Email)
	switch {
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusConflict, "Username or email already exists")
		return
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case err != nil:
		h.internalError(w, err, "failed to update profile")
		return
	}

	if updated.Username != cred.Username {
		if err := h.guard.EndSession(ctx, TokenFromRequest(r)); err != nil {
			sentry.CaptureException(err)
			h.logger.Error("revoke_session_failed", map[string]any{"error": err.Error()})
		}
		token, err := h.guard.IssueSession(updated.Username)
		if err != nil {
			h.internalError(w, err, "failed to update profile")
			return
		}
		h.setSessionCookie(w, token)
	}

	h.record(ctx, cred.ID, audit.ActionUserUpdated, fmt.Sprintf("User %s updated profile", updated.Username))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Profile updated successfully", "user": updated})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !IsStrongPassword(body.NewPassword) {
		writeError(w, http.StatusBadRequest, msgWeakPassword)
		return
	}

	ctx := r.Context()
	current, err := h.guard.users.FindByID(ctx, cred.ID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		h.internalError(w, err, "failed to change password")
		return
	}
	if err != nil || !h.guard.hasher.Verify(body.CurrentPassword, current.PasswordHash) {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}

	hash, err := h.guard.hasher.Hash(body.NewPassword)
	if err != nil {
		h.internalError(w, err, "failed to change password")
		return
	}
	if err := h.guard.users.UpdatePassword(ctx, cred.ID, hash); err != nil {
		h.internalError(w, err, "failed to change password")
		return
	}

	h.record(ctx, cred.ID, audit.ActionPasswordChanged, fmt.Sprintf("User %s changed password", cred.Username))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (h *Handler) exists(ctx context.Context, find func(context.Context, string) (Credential, error), value string) (bool, error) {
	_, err := find(ctx, value)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return false, err
}

func (h *Handler) takenByOther(ctx context.Context, find func(context.Context, string) (Credential, error), value, selfID string) (bool, error) {
	found, err := find(ctx, value)
	if err == nil {
		return found.ID != selfID, nil
	}
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return false, err
}

func (h *Handler) record(ctx context.Context, userID string, action audit.Action, details string) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, userID, action, details); err != nil {
		sentry.CaptureException(err)
		h.logger.Error("audit_record_failed", map[string]any{"action": string(action), "error": err.Error()})
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error, message string) {
	sentry.CaptureException(err)
	h.logger.Error("auth_handler_failed", map[string]any{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, message)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    token.Value,
		Path:     "/",
		MaxAge:   int(token.ExpiresAt.Sub(token.IssuedAt).Seconds()),
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
