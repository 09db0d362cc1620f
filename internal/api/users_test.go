package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fincapes/internal/auth"
	"fincapes/internal/db"
)

var errSMTPDown = errors.New("smtp unavailable")

type fakeInviteMailer struct {
	to       string
	fullName string
	password string
	sends    int
	err      error
}

func (m *fakeInviteMailer) SendInvite(to, fullName, password string) error {
	m.sends++
	m.to = to
	m.fullName = fullName
	m.password = password
	return m.err
}

func TestInviteCreatesActiveUserWithMailedPassword(t *testing.T) {
	database := openTestDB(t)
	users := db.NewUserRepository(database)
	profiles := db.NewProfileRepository(database)
	mailer := &fakeInviteMailer{}

	handler := NewUserHandler(users, profiles, db.NewRefreshTokenRepository(database), mailer, 8)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/invite",
		strings.NewReader(`{"email":"Partner@Example.com","firstName":"Dewi","lastName":"Lestari"}`))
	rr := httptest.NewRecorder()

	handler.Invite(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, http.StatusCreated, rr.Body.String())
	}

	user, err := users.FindByEmail("partner@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if !user.Active {
		t.Fatal("expected invited user to be active")
	}
	if !user.Invited {
		t.Fatal("expected invited flag to be set")
	}

	if mailer.sends != 1 {
		t.Fatalf("mailer sends = %d, want 1", mailer.sends)
	}
	if mailer.to != "partner@example.com" {
		t.Fatalf("mail to = %q, want %q", mailer.to, "partner@example.com")
	}
	if len(mailer.password) != 8 {
		t.Fatalf("generated password length = %d, want 8", len(mailer.password))
	}

	ok, err := auth.VerifyPassword(mailer.password, *user.PasswordHash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Fatal("mailed password does not match stored hash")
	}
}

func TestInviteDuplicateEmailConflicts(t *testing.T) {
	database := openTestDB(t)
	users := db.NewUserRepository(database)
	profiles := db.NewProfileRepository(database)

	handler := NewUserHandler(users, profiles, db.NewRefreshTokenRepository(database), &fakeInviteMailer{}, 8)

	for i, wantStatus := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/invite",
			strings.NewReader(`{"email":"partner@example.com","firstName":"Dewi"}`))
		rr := httptest.NewRecorder()

		handler.Invite(rr, req)

		if rr.Code != wantStatus {
			t.Fatalf("attempt %d: status = %d, want %d, body=%q", i, rr.Code, wantStatus, rr.Body.String())
		}
	}
}

func TestInviteMailFailureReportsError(t *testing.T) {
	database := openTestDB(t)
	users := db.NewUserRepository(database)
	profiles := db.NewProfileRepository(database)
	mailer := &fakeInviteMailer{err: errSMTPDown}

	handler := NewUserHandler(users, profiles, db.NewRefreshTokenRepository(database), mailer, 8)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/invite",
		strings.NewReader(`{"email":"partner@example.com","firstName":"Dewi"}`))
	rr := httptest.NewRecorder()

	handler.Invite(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestGetMeReturnsUserAndProfile(t *testing.T) {
	database := openTestDB(t)
	users := db.NewUserRepository(database)
	profiles := db.NewProfileRepository(database)

	user, err := users.Create(db.CreateUserParams{
		Email:     "self@example.com",
		FirstName: "Rina",
		Active:    true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	handler := NewUserHandler(users, profiles, db.NewRefreshTokenRepository(database), &fakeInviteMailer{}, 8)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req = req.WithContext(context.WithValue(req.Context(), userUIDKey, user.UID))
	rr := httptest.NewRecorder()

	handler.GetMe(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp MeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	if resp.User == nil || resp.User.Email != "self@example.com" {
		t.Fatalf("user = %+v, want email self@example.com", resp.User)
	}
	if resp.Profile == nil {
		t.Fatal("expected a profile created alongside the user")
	}
}

func TestUpdateProfileMarksProfileFilled(t *testing.T) {
	database := openTestDB(t)
	users := db.NewUserRepository(database)
	profiles := db.NewProfileRepository(database)

	user, err := users.Create(db.CreateUserParams{
		Email:     "self@example.com",
		FirstName: "Rina",
		Active:    true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if user.ProfileFilled {
		t.Fatal("new user should not have a filled profile")
	}

	handler := NewUserHandler(users, profiles, db.NewRefreshTokenRepository(database), &fakeInviteMailer{}, 8)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/me/profile",
		strings.NewReader(`{"category":2,"gender":1,"phone":"+62811000111","language":"id"}`))
	req = req.WithContext(context.WithValue(req.Context(), userUIDKey, user.UID))
	rr := httptest.NewRecorder()

	handler.UpdateProfile(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	updated, err := users.FindByUID(user.UID)
	if err != nil {
		t.Fatalf("FindByUID() error = %v", err)
	}
	if !updated.ProfileFilled {
		t.Fatal("expected profile_filled to be set after the update")
	}

	profile, err := profiles.FindByUserID(user.ID)
	if err != nil {
		t.Fatalf("FindByUserID() error = %v", err)
	}
	if profile.Category != 2 {
		t.Fatalf("profile.Category = %d, want 2", profile.Category)
	}
	if profile.Phone == nil || *profile.Phone != "+62811000111" {
		t.Fatalf("profile.Phone = %v, want +62811000111", profile.Phone)
	}
}

func TestUpdateProfileRejectsInvalidCategory(t *testing.T) {
	database := openTestDB(t)
	users := db.NewUserRepository(database)
	profiles := db.NewProfileRepository(database)

	user, err := users.Create(db.CreateUserParams{
		Email:     "self@example.com",
		FirstName: "Rina",
		Active:    true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	handler := NewUserHandler(users, profiles, db.NewRefreshTokenRepository(database), &fakeInviteMailer{}, 8)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/me/profile",
		strings.NewReader(`{"category":9}`))
	req = req.WithContext(context.WithValue(req.Context(), userUIDKey, user.UID))
	rr := httptest.NewRecorder()

	handler.UpdateProfile(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, http.StatusBadRequest, rr.Body.String())
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	if resp.Error.Code != ErrCodeInvalidRequest {
		t.Fatalf("error.code = %q, want %q", resp.Error.Code, ErrCodeInvalidRequest)
	}
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	database := openTestDB(t)
	users := db.NewUserRepository(database)
	profiles := db.NewProfileRepository(database)
	refreshTokens := db.NewRefreshTokenRepository(database)

	hash, err := auth.HashPassword("old password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	user, err := users.Create(db.CreateUserParams{
		Email:        "self@example.com",
		FirstName:    "Rina",
		PasswordHash: &hash,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stored, err := refreshTokens.Create(user.ID, auth.HashRefreshToken("session-token"), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("refreshTokens.Create() error = %v", err)
	}

	handler := NewUserHandler(users, profiles, refreshTokens, &fakeInviteMailer{}, 8)

	// Wrong current password first.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/me/password",
		strings.NewReader(`{"currentPassword":"not it","newPassword":"brand new pass"}`))
	req = req.WithContext(context.WithValue(req.Context(), userUIDKey, user.UID))
	rr := httptest.NewRecorder()
	handler.ChangePassword(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong-password status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/me/password",
		strings.NewReader(`{"currentPassword":"old password","newPassword":"brand new pass"}`))
	req = req.WithContext(context.WithValue(req.Context(), userUIDKey, user.UID))
	rr = httptest.NewRecorder()
	handler.ChangePassword(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	updated, err := users.FindByUID(user.UID)
	if err != nil {
		t.Fatalf("FindByUID() error = %v", err)
	}
	ok, err := auth.VerifyPassword("brand new pass", *updated.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword() = %v, %v, want match", ok, err)
	}

	session, err := refreshTokens.FindByHash(stored.TokenHash)
	if err != nil {
		t.Fatalf("FindByHash() error = %v", err)
	}
	if session.RevokedAt == nil {
		t.Fatal("expected existing session to be revoked after password change")
	}
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}
