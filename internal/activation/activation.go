// Package activation manages the time-boxed email activation lifecycle.
// A record is issued alongside a freshly registered user and gates the
// user's active flag until it is confirmed within its window, goes inert,
// or is administratively force-expired.
package activation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fincapes/internal/db"
	"fincapes/internal/models"
)

const hoursPerDay = 24

// Mailer dispatches the activation message. Transport lives elsewhere.
type Mailer interface {
	SendActivation(to, key, dueDate string) error
}

type Service struct {
	db      *db.DB
	users   *db.UserRepository
	records *db.EmailActivationRepository
	mailer  Mailer

	// days is both the default expires value on new records and the
	// width of the confirmable window.
	days int
	loc  *time.Location

	// now is a seam for tests.
	now func() time.Time
}

func NewService(
	database *db.DB,
	users *db.UserRepository,
	records *db.EmailActivationRepository,
	mailer Mailer,
	days int,
	timezone string,
) (*Service, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading activation timezone %q: %w", timezone, err)
	}

	return &Service{
		db:      database,
		users:   users,
		records: records,
		mailer:  mailer,
		days:    days,
		loc:     loc,
		now:     time.Now,
	}, nil
}

// Create issues a pending activation record for the user. The key is
// assigned before the record first persists.
func (s *Service) Create(user *models.User) (*models.EmailActivation, error) {
	return s.records.Create(user.ID, user.Email, s.days)
}

// CanActivate reports whether the record is confirmable: not activated,
// not force-expired, and the current time falls within
// (created_at, created_at + days]. Records outside the window are inert,
// never mutated.
func (s *Service) CanActivate(rec *models.EmailActivation) bool {
	if rec.Activated || rec.ForceExpired {
		return false
	}
	now := s.now().UTC()
	windowEnd := rec.CreatedAt.Add(time.Duration(s.days) * hoursPerDay * time.Hour)
	return now.After(rec.CreatedAt) && !now.After(windowEnd)
}

var errLostActivationRace = errors.New("record activated concurrently")

// Activate confirms the record: the owning user goes active and the
// record is marked activated, both in one transaction. Returns false
// with no side effects when the record is not confirmable, including
// when a concurrent call won the race. Storage failures are errors, not
// refusals.
func (s *Service) Activate(rec *models.EmailActivation) (bool, error) {
	if !s.CanActivate(rec) {
		return false, nil
	}

	err := s.db.InTx(func(tx *sql.Tx) error {
		won, err := s.records.ActivateTx(tx, rec.ID)
		if err != nil {
			return err
		}
		if !won {
			return errLostActivationRace
		}
		return s.users.SetActiveTx(tx, rec.UserID, true)
	})
	if errors.Is(err, errLostActivationRace) {
		rec.Activated = true
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("activating record %s: %w", rec.ID, err)
	}

	rec.Activated = true
	return true, nil
}

// Regenerate clears the record's key and immediately assigns a fresh
// unique one, so the record can be sent again.
func (s *Service) Regenerate(rec *models.EmailActivation) error {
	if err := s.records.ClearKey(rec.ID); err != nil {
		return fmt.Errorf("regenerating key for record %s: %w", rec.ID, err)
	}

	key, err := s.records.AssignFreshKey(rec.ID)
	if err != nil {
		return fmt.Errorf("regenerating key for record %s: %w", rec.ID, err)
	}

	rec.Key = &key
	return nil
}

// ForceExpire marks the record permanently inert regardless of window.
func (s *Service) ForceExpire(rec *models.EmailActivation) error {
	if err := s.records.ForceExpire(rec.ID); err != nil {
		return fmt.Errorf("force expiring record %s: %w", rec.ID, err)
	}
	rec.ForceExpired = true
	return nil
}

// SendActivation dispatches the activation message for a pending keyed
// record. Returns false when the record is activated, force-expired or
// has no key; mailer failures propagate as errors.
func (s *Service) SendActivation(rec *models.EmailActivation) (bool, error) {
	if rec.Activated || rec.ForceExpired || !rec.HasKey() {
		return false, nil
	}

	if err := s.mailer.SendActivation(rec.Email, *rec.Key, s.DueDate(rec, true)); err != nil {
		return false, fmt.Errorf("sending activation mail to %s: %w", rec.Email, err)
	}

	return true, nil
}

// DueDate renders the record's confirmation deadline: creation time
// localized to the reference zone plus the record's expires days,
// formatted DD-MM-YYYY with an optional time component.
func (s *Service) DueDate(rec *models.EmailActivation, includeTime bool) string {
	due := rec.CreatedAt.In(s.loc).Add(time.Duration(rec.Expires) * hoursPerDay * time.Hour)
	if includeTime {
		return due.Format("02-01-2006 15:04:05")
	}
	return due.Format("02-01-2006")
}
