package models

import "time"

type User struct {
	ID            string     `json:"-"`
	UID           string     `json:"uid"`
	Email         string     `json:"email,omitempty"`
	FirstName     string     `json:"firstName"`
	LastName      *string    `json:"lastName,omitempty"`
	PasswordHash  *string    `json:"-"`
	Active        bool       `json:"active"`
	Staff         bool       `json:"-"`
	Admin         bool       `json:"-"`
	Invited       bool       `json:"-"`
	ProfileFilled bool       `json:"profileFilled"`
	UserType      int        `json:"userType"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

func (u *User) FullName() string {
	if u.LastName == nil {
		return u.FirstName
	}
	return u.FirstName + " " + *u.LastName
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

type Profile struct {
	ID        string     `json:"-"`
	UID       string     `json:"uid"`
	UserID    string     `json:"-"`
	Category  int        `json:"category"`
	Gender    *int       `json:"gender,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Timezone  string     `json:"timezone"`
	Language  string     `json:"language"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}
