package models

import "time"

const (
	ContentStatusDraft     = 0
	ContentStatusPublished = 1
)

type Content struct {
	ID           string     `json:"-"`
	UID          string     `json:"uid"`
	Title        string     `json:"title"`
	Slug         string     `json:"slug"`
	Brief        *string    `json:"brief,omitempty"`
	Article      *string    `json:"article,omitempty"`
	PhotoCaption *string    `json:"photoCaption,omitempty"`
	Status       int        `json:"status"`
	Categories   *string    `json:"categories,omitempty"`
	AddedBy      *string    `json:"addedBy,omitempty"`
	ModifiedBy   *string    `json:"modifiedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

func (c *Content) Published() bool {
	return c.Status == ContentStatusPublished
}
