package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fincapes/internal/activation"
	"fincapes/internal/auth"
	"fincapes/internal/db"
	"fincapes/internal/models"
)

type AuthHandler struct {
	users         *db.UserRepository
	activations   *db.EmailActivationRepository
	refreshTokens *db.RefreshTokenRepository
	jwtService    *auth.JWTService
	lifecycle     *activation.Service
}

func NewAuthHandler(
	users *db.UserRepository,
	activations *db.EmailActivationRepository,
	refreshTokens *db.RefreshTokenRepository,
	jwtService *auth.JWTService,
	lifecycle *activation.Service,
) *AuthHandler {
	return &AuthHandler{
		users:         users,
		activations:   activations,
		refreshTokens: refreshTokens,
		jwtService:    jwtService,
		lifecycle:     lifecycle,
	}
}

type RegisterRequest struct {
	Email     string  `json:"email" validate:"required,email,max=254"`
	FirstName string  `json:"firstName" validate:"required,max=30"`
	LastName  *string `json:"lastName" validate:"omitempty,max=30"`
	Password  string  `json:"password" validate:"required,min=8,max=128"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	firstName := strings.TrimSpace(req.FirstName)

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		internalError(w)
		return
	}

	user, err := h.users.Create(db.CreateUserParams{
		Email:        email,
		FirstName:    firstName,
		LastName:     req.LastName,
		PasswordHash: &passwordHash,
	})
	if errors.Is(err, db.ErrDuplicate) {
		// Same response as success - prevents email enumeration. If the
		// existing account is inactive and lost its activation record
		// (record creation failed after the user committed), repair it
		// here so the address is not stranded.
		h.ensurePendingActivation(email)
		writeJSON(w, http.StatusOK, MessageResponse{
			Message: "Check your email for an activation key",
		})
		return
	}
	if err != nil {
		slog.Error("error creating user", "error", err)
		internalError(w)
		return
	}

	rec, err := h.lifecycle.Create(user)
	if err != nil {
		slog.Error("error creating activation record", "error", err, "user_uid", user.UID)
		internalError(w)
		return
	}

	if _, err := h.lifecycle.SendActivation(rec); err != nil {
		slog.Error("error sending activation mail", "error", err, "user_uid", user.UID)
		// The record exists; the user can request a resend.
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Check your email for an activation key",
	})
}

// ensurePendingActivation issues an activation record for an inactive
// account that has none. Errors are logged, never surfaced: the caller's
// response must stay neutral.
func (h *AuthHandler) ensurePendingActivation(email string) {
	user, err := h.users.FindByEmail(email)
	if err != nil || user.Active {
		return
	}

	_, err = h.activations.FindLatestPendingByEmail(email)
	if err == nil {
		// A pending record exists; the resend endpoint covers it.
		return
	}
	if !errors.Is(err, db.ErrNotFound) {
		slog.Error("error checking pending activation", "error", err, "user_uid", user.UID)
		return
	}

	rec, err := h.lifecycle.Create(user)
	if err != nil {
		slog.Error("error repairing activation record", "error", err, "user_uid", user.UID)
		return
	}
	if _, err := h.lifecycle.SendActivation(rec); err != nil {
		slog.Error("error sending activation mail", "error", err, "user_uid", user.UID)
	}
}

type ActivateRequest struct {
	Key string `json:"key" validate:"required,min=30,max=45"`
}

// POST /api/v1/auth/activate
func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	rec, err := h.activations.FindByKey(strings.TrimSpace(req.Key))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid activation key")
		return
	}
	if err != nil {
		slog.Error("error finding activation record", "error", err)
		internalError(w)
		return
	}

	activated, err := h.lifecycle.Activate(rec)
	if err != nil {
		slog.Error("error activating record", "error", err, "record_id", rec.ID)
		internalError(w)
		return
	}
	if !activated {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthExpired, "Activation key has expired or was already used")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Account activated, you can sign in now"})
}

type ResendActivationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// POST /api/v1/auth/activate/resend
func (h *AuthHandler) ResendActivation(w http.ResponseWriter, r *http.Request) {
	var req ResendActivationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	neutral := MessageResponse{
		Message: "If a pending account exists with this email, a new activation key has been sent",
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	rec, err := h.activations.FindLatestPendingByEmail(email)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusOK, neutral)
		return
	}
	if err != nil {
		slog.Error("error finding pending activation", "error", err)
		internalError(w)
		return
	}

	if h.lifecycle.CanActivate(rec) {
		if err := h.lifecycle.Regenerate(rec); err != nil {
			slog.Error("error regenerating activation key", "error", err, "record_id", rec.ID)
			internalError(w)
			return
		}
	} else {
		// The record's window has passed; a regenerated key on it could
		// never activate. Issue a fresh record with a fresh window.
		user, err := h.users.FindByID(rec.UserID)
		if err != nil {
			slog.Error("error finding user for resend", "error", err, "record_id", rec.ID)
			internalError(w)
			return
		}
		rec, err = h.lifecycle.Create(user)
		if err != nil {
			slog.Error("error issuing replacement activation record", "error", err, "user_uid", user.UID)
			internalError(w)
			return
		}
	}

	if _, err := h.lifecycle.SendActivation(rec); err != nil {
		slog.Error("error sending activation mail", "error", err, "record_id", rec.ID)
		// Intentionally not returning error to client - prevents email enumeration attacks.
	}

	writeJSON(w, http.StatusOK, neutral)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    string       `json:"expiresAt"`
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.users.FindByEmail(email)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid email or password")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	if !user.HasPassword() {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid email or password")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, *user.PasswordHash)
	if err != nil {
		slog.Error("error verifying password", "error", err, "user_uid", user.UID)
		internalError(w)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid email or password")
		return
	}

	if !user.Active {
		writeError(w, http.StatusUnauthorized, ErrCodeAccountInactive, "Account is not activated yet")
		return
	}

	authResponse, err := h.generateAuthResponse(user)
	if err != nil {
		slog.Error("error issuing auth tokens", "error", err, "user_uid", user.UID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, authResponse)
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
}

// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	tokenHash := auth.HashRefreshToken(req.RefreshToken)
	stored, err := h.refreshTokens.FindByHash(tokenHash)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid refresh token")
		return
	}
	if err != nil {
		slog.Error("error finding refresh token", "error", err)
		internalError(w)
		return
	}

	if stored.RevokedAt != nil || time.Now().After(stored.ExpiresAt) {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthExpired, "Refresh token expired or revoked")
		return
	}

	user, err := h.users.FindByID(stored.UserID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid refresh token")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}
	if !user.Active {
		writeError(w, http.StatusUnauthorized, ErrCodeAccountInactive, "Account is not active")
		return
	}

	pair, newHash, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		slog.Error("error generating token pair", "error", err, "user_uid", user.UID)
		internalError(w)
		return
	}

	err = h.refreshTokens.Rotate(stored.ID, user.ID, newHash, h.jwtService.RefreshTokenExpiry())
	if errors.Is(err, db.ErrNotFound) {
		// Lost a concurrent rotation race - the presented token is gone.
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid refresh token")
		return
	}
	if err != nil {
		slog.Error("error rotating refresh token", "error", err, "user_uid", user.UID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	tokenHash := auth.HashRefreshToken(req.RefreshToken)
	stored, err := h.refreshTokens.FindByHash(tokenHash)
	if errors.Is(err, db.ErrNotFound) {
		// Already gone; logout is idempotent.
		writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
		return
	}
	if err != nil {
		slog.Error("error finding refresh token", "error", err)
		internalError(w)
		return
	}

	if err := h.refreshTokens.Revoke(stored.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		slog.Error("error revoking refresh token", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

func (h *AuthHandler) generateAuthResponse(user *models.User) (*AuthResponse, error) {
	pair, refreshHash, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		return nil, err
	}

	if _, err := h.refreshTokens.Create(user.ID, refreshHash, h.jwtService.RefreshTokenExpiry()); err != nil {
		return nil, err
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}
