package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fincapes/internal/models"
)

type ProfileRepository struct {
	db *DB
}

func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) FindByUserID(userID string) (*models.Profile, error) {
	return r.findOne(`SELECT id, uid, user_id, category, gender, phone, timezone, language, created_at, updated_at FROM profiles WHERE user_id = ?`, userID)
}

func (r *ProfileRepository) FindByUID(uid string) (*models.Profile, error) {
	return r.findOne(`SELECT id, uid, user_id, category, gender, phone, timezone, language, created_at, updated_at FROM profiles WHERE uid = ?`, uid)
}

type UpdateProfileParams struct {
	Category *int
	Gender   *int
	Phone    *string
	Timezone *string
	Language *string
}

// Update applies the provided fields and marks the owning user's
// profile_filled flag in the same transaction.
func (r *ProfileRepository) Update(userID string, p UpdateProfileParams) (*models.Profile, error) {
	now := time.Now().UTC()

	err := r.db.InTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(
			`UPDATE profiles SET
				category = COALESCE(?, category),
				gender = COALESCE(?, gender),
				phone = COALESCE(?, phone),
				timezone = COALESCE(?, timezone),
				language = COALESCE(?, language),
				updated_at = ?
			 WHERE user_id = ?`,
			p.Category, p.Gender, p.Phone, p.Timezone, p.Language, now, userID,
		)
		if err != nil {
			return fmt.Errorf("updating profile: %w", err)
		}
		if err := checkRowsAffected(result); err != nil {
			return err
		}

		if _, err := tx.Exec(
			`UPDATE users SET profile_filled = 1, updated_at = ? WHERE id = ?`,
			now, userID,
		); err != nil {
			return fmt.Errorf("marking profile filled: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.FindByUserID(userID)
}

func (r *ProfileRepository) findOne(query string, args ...any) (*models.Profile, error) {
	var p models.Profile
	var gender sql.NullInt64
	var phone sql.NullString
	var updatedAt sql.NullTime

	err := r.db.QueryRow(query, args...).Scan(
		&p.ID,
		&p.UID,
		&p.UserID,
		&p.Category,
		&gender,
		&phone,
		&p.Timezone,
		&p.Language,
		&p.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	p.Gender = nullIntToPtr(gender)
	p.Phone = nullStringToPtr(phone)
	p.UpdatedAt = nullTimeToPtr(updatedAt)

	return &p, nil
}
