package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fincapes/internal/models"
	"fincapes/internal/token"
)

// uidInsertRetries bounds how many times an insert is retried with a
// fresh public UID after losing a write-time uniqueness race.
const uidInsertRetries = 3

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

type CreateUserParams struct {
	Email        string
	FirstName    string
	LastName     *string
	PasswordHash *string
	Active       bool
	Staff        bool
	Admin        bool
	Invited      bool
	UserType     int
}

// Create inserts a user together with its profile in one transaction.
// Both rows get a public UID from the token generator. Returns
// ErrDuplicate when the email is already registered.
func (r *UserRepository) Create(p CreateUserParams) (*models.User, error) {
	id, err := generateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	profileID, err := generateID("prf")
	if err != nil {
		return nil, fmt.Errorf("generating profile ID: %w", err)
	}
	if p.UserType == 0 {
		p.UserType = 1
	}
	now := time.Now().UTC()

	var user *models.User
	err = r.db.InTx(func(tx *sql.Tx) error {
		uid, err := insertWithUID(tx, "users.uid", func(uid string) error {
			_, err := tx.Exec(
				`INSERT INTO users (id, uid, email, first_name, last_name, password_hash, active, staff, admin, invited, user_type, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, uid, p.Email, p.FirstName, p.LastName, p.PasswordHash,
				p.Active, p.Staff, p.Admin, p.Invited, p.UserType, now,
			)
			return err
		})
		if err != nil {
			if IsUniqueConstraintError(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("creating user: %w", err)
		}

		_, err = insertWithUID(tx, "profiles.uid", func(profileUID string) error {
			_, err := tx.Exec(
				`INSERT INTO profiles (id, uid, user_id, created_at) VALUES (?, ?, ?, ?)`,
				profileID, profileUID, id, now,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("creating profile: %w", err)
		}

		user = &models.User{
			ID:           id,
			UID:          uid,
			Email:        p.Email,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			PasswordHash: p.PasswordHash,
			Active:       p.Active,
			Staff:        p.Staff,
			Admin:        p.Admin,
			Invited:      p.Invited,
			UserType:     p.UserType,
			CreatedAt:    now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// insertWithUID draws a fresh public UID and runs insert, retrying with a
// new UID when the insert loses a uniqueness race on the named column.
// The pre-insert existence check is advisory; the unique index decides.
func insertWithUID(tx *sql.Tx, uidColumn string, insert func(uid string) error) (string, error) {
	table, column, _ := strings.Cut(uidColumn, ".")
	exists := func(v string) (bool, error) {
		var count int
		err := tx.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE `+column+` = ?`, v).Scan(&count)
		if err != nil {
			return false, err
		}
		return count > 0, nil
	}

	var lastErr error
	for range uidInsertRetries {
		uid, err := token.Identifier(exists)
		if err != nil {
			return "", err
		}

		err = insert(uid)
		if err == nil {
			return uid, nil
		}
		if IsUniqueConstraintError(err) && strings.Contains(err.Error(), uidColumn) {
			lastErr = err
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("allocating unique %s: %w", uidColumn, lastErr)
}

const userColumns = `id, uid, email, first_name, last_name, password_hash, active, staff, admin, invited, profile_filled, user_type, created_at, updated_at`

func (r *UserRepository) FindByID(id string) (*models.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByUID(uid string) (*models.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE uid = ?`, uid)
}

func (r *UserRepository) FindByEmail(email string) (*models.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// SetActiveTx flips the user's active flag inside a caller-owned
// transaction. Activation must commit together with the record update.
func (r *UserRepository) SetActiveTx(tx *sql.Tx, id string, active bool) error {
	result, err := tx.Exec(
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating user active flag: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) SetPassword(id, passwordHash string) error {
	result, err := r.db.Exec(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) findOne(query string, args ...any) (*models.User, error) {
	var u models.User
	var lastName, passwordHash sql.NullString
	var updatedAt sql.NullTime

	err := r.db.QueryRow(query, args...).Scan(
		&u.ID,
		&u.UID,
		&u.Email,
		&u.FirstName,
		&lastName,
		&passwordHash,
		&u.Active,
		&u.Staff,
		&u.Admin,
		&u.Invited,
		&u.ProfileFilled,
		&u.UserType,
		&u.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.LastName = nullStringToPtr(lastName)
	u.PasswordHash = nullStringToPtr(passwordHash)
	u.UpdatedAt = nullTimeToPtr(updatedAt)

	return &u, nil
}
