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

type EmailActivationRepository struct {
	db *DB
}

func NewEmailActivationRepository(db *DB) *EmailActivationRepository {
	return &EmailActivationRepository{db: db}
}

// Create inserts a pending activation record for the user. The key is
// issued here, before first persist, and retried with a fresh value if
// the unique index reports a collision.
func (r *EmailActivationRepository) Create(userID, email string, expires int) (*models.EmailActivation, error) {
	id, err := generateID("eac")
	if err != nil {
		return nil, fmt.Errorf("generating activation ID: %w", err)
	}
	now := time.Now().UTC()

	var lastErr error
	for range uidInsertRetries {
		key, err := token.Key(r.KeyExists)
		if err != nil {
			return nil, err
		}

		_, err = r.db.Exec(
			`INSERT INTO email_activations (id, user_id, email, key, activated, force_expired, expires, created_at)
			 VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
			id, userID, email, key, expires, now,
		)
		if err == nil {
			return &models.EmailActivation{
				ID:        id,
				UserID:    userID,
				Email:     email,
				Key:       &key,
				Expires:   expires,
				CreatedAt: now,
			}, nil
		}
		if IsUniqueConstraintError(err) && strings.Contains(err.Error(), "email_activations.key") {
			lastErr = err
			continue
		}
		return nil, fmt.Errorf("creating activation record: %w", err)
	}
	return nil, fmt.Errorf("allocating unique activation key: %w", lastErr)
}

func (r *EmailActivationRepository) KeyExists(key string) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM email_activations WHERE key = ?`, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking activation key: %w", err)
	}
	return count > 0, nil
}

const activationColumns = `id, user_id, email, key, activated, force_expired, expires, created_at, updated_at`

func (r *EmailActivationRepository) FindByKey(key string) (*models.EmailActivation, error) {
	return r.findOne(`SELECT `+activationColumns+` FROM email_activations WHERE key = ?`, key)
}

func (r *EmailActivationRepository) FindByID(id string) (*models.EmailActivation, error) {
	return r.findOne(`SELECT `+activationColumns+` FROM email_activations WHERE id = ?`, id)
}

// FindLatestPendingByEmail returns the newest unactivated, not
// force-expired record for the address, matching either the record's own
// email or the owning user's.
func (r *EmailActivationRepository) FindLatestPendingByEmail(email string) (*models.EmailActivation, error) {
	return r.findOne(
		`SELECT a.id, a.user_id, a.email, a.key, a.activated, a.force_expired, a.expires, a.created_at, a.updated_at
		 FROM email_activations a
		 JOIN users u ON u.id = a.user_id
		 WHERE (a.email = ? OR u.email = ?)
		   AND a.activated = 0
		   AND a.force_expired = 0
		 ORDER BY a.created_at DESC
		 LIMIT 1`,
		email, email,
	)
}

// ActivateTx marks the record activated inside a caller-owned
// transaction. Returns false when the record was already activated, so
// concurrent activations settle to exactly one winner.
func (r *EmailActivationRepository) ActivateTx(tx *sql.Tx, id string) (bool, error) {
	result, err := tx.Exec(
		`UPDATE email_activations SET activated = 1, updated_at = ? WHERE id = ? AND activated = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("marking record activated: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *EmailActivationRepository) ClearKey(id string) error {
	result, err := r.db.Exec(
		`UPDATE email_activations SET key = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("clearing activation key: %w", err)
	}
	return checkRowsAffected(result)
}

// AssignFreshKey issues a new unique key for an existing record,
// retrying on write-time collisions.
func (r *EmailActivationRepository) AssignFreshKey(id string) (string, error) {
	var lastErr error
	for range uidInsertRetries {
		key, err := token.Key(r.KeyExists)
		if err != nil {
			return "", err
		}

		result, err := r.db.Exec(
			`UPDATE email_activations SET key = ?, updated_at = ? WHERE id = ?`,
			key, time.Now().UTC(), id,
		)
		if err == nil {
			if err := checkRowsAffected(result); err != nil {
				return "", err
			}
			return key, nil
		}
		if IsUniqueConstraintError(err) {
			lastErr = err
			continue
		}
		return "", fmt.Errorf("assigning activation key: %w", err)
	}
	return "", fmt.Errorf("allocating unique activation key: %w", lastErr)
}

func (r *EmailActivationRepository) ForceExpire(id string) error {
	result, err := r.db.Exec(
		`UPDATE email_activations SET force_expired = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("force expiring activation: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *EmailActivationRepository) findOne(query string, args ...any) (*models.EmailActivation, error) {
	var a models.EmailActivation
	var key sql.NullString
	var updatedAt sql.NullTime

	err := r.db.QueryRow(query, args...).Scan(
		&a.ID,
		&a.UserID,
		&a.Email,
		&key,
		&a.Activated,
		&a.ForceExpired,
		&a.Expires,
		&a.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying activation record: %w", err)
	}

	a.Key = nullStringToPtr(key)
	a.UpdatedAt = nullTimeToPtr(updatedAt)

	return &a, nil
}
