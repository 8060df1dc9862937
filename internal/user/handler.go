package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"employee-records/internal/audit"
	"employee-records/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Store interface {
	List(ctx context.Context) ([]auth.Credential, error)
	FindByID(ctx context.Context, id string) (auth.Credential, error)
	Create(ctx context.Context, input auth.NewCredential) (string, error)
	Update(ctx context.Context, id string, input UpdateInput) (auth.Credential, error)
	SetActive(ctx context.Context, id string, active bool) (auth.Credential, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

// Handler serves the admin user-management routes. Every route expects
// auth.Middleware and auth.RequireRoles(auth.RoleAdmin) in front of it.
type Handler struct {
	users  Store
	hasher auth.PasswordHasher
	audit  auth.AuditRecorder
}

func NewHandler(users Store, hasher auth.PasswordHasher, recorder auth.AuditRecorder) *Handler {
	return &Handler{users: users, hasher: hasher, audit: recorder}
}

type createRequest struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

type updateRequest struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     auth.Role `json:"role"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	cred, err := h.users.FindByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, cred)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CredentialFromContext(r.Context())

	var body createRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if body.Role == "" {
		body.Role = auth.RoleUser
	}

	if msg := validateProfile(body.Username, body.Email, body.Role); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !auth.IsStrongPassword(body.Password) {
		writeError(w, http.StatusBadRequest, "password is not strong enough")
		return
	}

	hash, err := h.hasher.Hash(body.Password)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	id, err := h.users.Create(r.Context(), auth.NewCredential{
		Username:     body.Username,
		Email:        body.Email,
		PasswordHash: hash,
		Role:         body.Role,
	})
	if err != nil {
		writeStoreError(w, err, "failed to create user")
		return
	}

	h.record(r.Context(), actor.ID, audit.ActionUserCreated, fmt.Sprintf("Admin %s created new user %s", actor.Username, body.Username))

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"username": body.Username,
		"email":    body.Email,
		"role":     body.Role,
	})
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CredentialFromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body updateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)

	if msg := validateProfile(body.Username, body.Email, body.Role); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if id == actor.ID && body.Role != auth.RoleAdmin {
		writeError(w, http.StatusBadRequest, "you cannot remove your own admin role")
		return
	}

	cred, err := h.users.Update(r.Context(), id, UpdateInput{
		Username: body.Username,
		Email:    body.Email,
		Role:     body.Role,
	})
	if err != nil {
		writeStoreError(w, err, "failed to update user")
		return
	}

	h.record(r.Context(), actor.ID, audit.ActionUserUpdated, fmt.Sprintf("Admin %s updated user %s", actor.Username, cred.Username))
	writeJSON(w, http.StatusOK, cred)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CredentialFromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body activeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}
	if id == actor.ID && !*body.Active {
		writeError(w, http.StatusBadRequest, "you cannot deactivate your own account")
		return
	}

	cred, err := h.users.SetActive(r.Context(), id, *body.Active)
	if err != nil {
		writeStoreError(w, err, "failed to update user")
		return
	}

	action := audit.ActionUserDeactivated
	verb := "deactivated"
	if cred.Active {
		action = audit.ActionUserActivated
		verb = "activated"
	}
	h.record(r.Context(), actor.ID, action, fmt.Sprintf("Admin %s %s user %s", actor.Username, verb, cred.Username))

	writeJSON(w, http.StatusOK, cred)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CredentialFromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !auth.IsStrongPassword(body.NewPassword) {
		writeError(w, http.StatusBadRequest, "password is not strong enough")
		return
	}

	hash, err := h.hasher.Hash(body.NewPassword)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), id, hash); err != nil {
		writeStoreError(w, err, "failed to reset password")
		return
	}

	h.record(r.Context(), actor.ID, audit.ActionPasswordReset, fmt.Sprintf("Admin %s reset password for user %s", actor.Username, id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CredentialFromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if id == actor.ID {
		writeError(w, http.StatusBadRequest, "you cannot delete your own account")
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err, "failed to delete user")
		return
	}

	h.record(r.Context(), actor.ID, audit.ActionUserDeleted, fmt.Sprintf("Admin %s deleted user %s", actor.Username, id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) record(ctx context.Context, actorID string, action audit.Action, details string) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, actorID, action, details); err != nil {
		sentry.CaptureException(err)
	}
}

func validateProfile(username, email string, role auth.Role) string {
	switch {
	case username == "":
		return "username is required"
	case !auth.IsValidEmail(email):
		return "email is invalid"
	case !role.Valid():
		return "role must be one of admin, hr, user"
	default:
		return ""
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return "", false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "username or email already exists")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, message)
	}
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
