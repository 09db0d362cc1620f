package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"fincapes/internal/auth"
	"fincapes/internal/db"
	"fincapes/internal/models"
	"fincapes/internal/token"
)

// InviteMailer delivers generated credentials to invited users.
type InviteMailer interface {
	SendInvite(to, fullName, password string) error
}

type UserHandler struct {
	users          *db.UserRepository
	profiles       *db.ProfileRepository
	refreshTokens  *db.RefreshTokenRepository
	mailer         InviteMailer
	passwordLength int
}

func NewUserHandler(
	users *db.UserRepository,
	profiles *db.ProfileRepository,
	refreshTokens *db.RefreshTokenRepository,
	mailer InviteMailer,
	passwordLength int,
) *UserHandler {
	return &UserHandler{
		users:          users,
		profiles:       profiles,
		refreshTokens:  refreshTokens,
		mailer:         mailer,
		passwordLength: passwordLength,
	}
}

type MeResponse struct {
	User    *models.User    `json:"user"`
	Profile *models.Profile `json:"profile"`
}

// GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	uid := GetUserUID(r)
	if uid == "" {
		unauthorized(w, "User not found in context")
		return
	}

	user, err := h.users.FindByUID(uid)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	profile, err := h.profiles.FindByUserID(user.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		slog.Error("error finding profile", "error", err, "user_uid", uid)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{User: user, Profile: profile})
}

type UpdateProfileRequest struct {
	Category *int    `json:"category" validate:"omitempty,min=1,max=5"`
	Gender   *int    `json:"gender" validate:"omitempty,oneof=1 2"`
	Phone    *string `json:"phone" validate:"omitempty,max=20"`
	Timezone *string `json:"timezone" validate:"omitempty,max=32"`
	Language *string `json:"language" validate:"omitempty,oneof=id en"`
}

// PATCH /api/v1/users/me/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid := GetUserUID(r)
	if uid == "" {
		unauthorized(w, "User not found in context")
		return
	}

	var req UpdateProfileRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.users.FindByUID(uid)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	profile, err := h.profiles.Update(user.ID, db.UpdateProfileParams{
		Category: req.Category,
		Gender:   req.Gender,
		Phone:    req.Phone,
		Timezone: req.Timezone,
		Language: req.Language,
	})
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Profile not found")
		return
	}
	if err != nil {
		slog.Error("error updating profile", "error", err, "user_uid", uid)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
}

// POST /api/v1/users/me/password
//
// Changing the password signs out every other session by revoking the
// user's refresh tokens.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	uid := GetUserUID(r)
	if uid == "" {
		unauthorized(w, "User not found in context")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.users.FindByUID(uid)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	if !user.HasPassword() {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Current password is incorrect")
		return
	}
	ok, err := auth.VerifyPassword(req.CurrentPassword, *user.PasswordHash)
	if err != nil {
		slog.Error("error verifying password", "error", err, "user_uid", uid)
		internalError(w)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Current password is incorrect")
		return
	}

	newHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		slog.Error("error hashing password", "error", err, "user_uid", uid)
		internalError(w)
		return
	}
	if err := h.users.SetPassword(user.ID, newHash); err != nil {
		slog.Error("error updating password", "error", err, "user_uid", uid)
		internalError(w)
		return
	}

	if err := h.refreshTokens.RevokeAllForUser(user.ID); err != nil {
		slog.Error("error revoking sessions after password change", "error", err, "user_uid", uid)
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated"})
}

type InviteRequest struct {
	Email     string  `json:"email" validate:"required,email,max=254"`
	FirstName string  `json:"firstName" validate:"required,max=30"`
	LastName  *string `json:"lastName" validate:"omitempty,max=30"`
	Staff     bool    `json:"staff"`
}

// POST /api/v1/users/invite
//
// Staff create accounts for partners directly: the user arrives active
// with a generated password mailed to them, skipping email activation.
func (h *UserHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	password, err := token.Password(h.passwordLength)
	if err != nil {
		slog.Error("error generating invite password", "error", err)
		internalError(w)
		return
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		slog.Error("error hashing invite password", "error", err)
		internalError(w)
		return
	}

	user, err := h.users.Create(db.CreateUserParams{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     req.LastName,
		PasswordHash: &passwordHash,
		Active:       true,
		Staff:        req.Staff,
		Invited:      true,
	})
	if errors.Is(err, db.ErrDuplicate) {
		conflict(w, "Account already registered")
		return
	}
	if err != nil {
		slog.Error("error creating invited user", "error", err)
		internalError(w)
		return
	}

	if err := h.mailer.SendInvite(user.Email, user.FullName(), password); err != nil {
		slog.Error("error sending invite mail", "error", err, "user_uid", user.UID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}
