package models

import "time"

// EmailActivation is one outstanding or resolved request to activate a
// user's email address. A record gates the owning user's active flag:
// activating it flips the user active. Key is empty until issued and
// cleared again when regeneration is in flight.
type EmailActivation struct {
	ID           string
	UserID       string
	Email        string
	Key          *string
	Activated    bool
	ForceExpired bool
	// Expires is the number of days after CreatedAt the record remains
	// confirmable.
	Expires   int
	CreatedAt time.Time
	UpdatedAt *time.Time
}

func (a *EmailActivation) HasKey() bool {
	return a.Key != nil && *a.Key != ""
}
