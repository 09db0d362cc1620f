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

type ContentRepository struct {
	db *DB
}

func NewContentRepository(db *DB) *ContentRepository {
	return &ContentRepository{db: db}
}

type CreateContentParams struct {
	Title        string
	Brief        *string
	Article      *string
	PhotoCaption *string
	Status       int
	Categories   *string
	AddedBy      *string
}

// Create inserts a content record, allocating its public UID and a slug
// derived from the title (or a random fallback when the title is empty).
func (r *ContentRepository) Create(p CreateContentParams) (*models.Content, error) {
	id, err := generateID("cnt")
	if err != nil {
		return nil, fmt.Errorf("generating content ID: %w", err)
	}
	now := time.Now().UTC()

	var content *models.Content
	err = r.db.InTx(func(tx *sql.Tx) error {
		return r.withSlugRetry(p.Title, "", func(slug string) error {
			uid, err := insertWithUID(tx, "contents.uid", func(uid string) error {
				_, err := tx.Exec(
					`INSERT INTO contents (id, uid, title, slug, brief, article, photo_caption, status, categories, added_by, created_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					id, uid, p.Title, slug, p.Brief, p.Article, p.PhotoCaption, p.Status, p.Categories, p.AddedBy, now,
				)
				return err
			})
			if err != nil {
				return err
			}

			content = &models.Content{
				ID:           id,
				UID:          uid,
				Title:        p.Title,
				Slug:         slug,
				Brief:        p.Brief,
				Article:      p.Article,
				PhotoCaption: p.PhotoCaption,
				Status:       p.Status,
				Categories:   p.Categories,
				AddedBy:      p.AddedBy,
				CreatedAt:    now,
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating content: %w", err)
	}

	return content, nil
}

type UpdateContentParams struct {
	Title        *string
	Brief        *string
	Article      *string
	PhotoCaption *string
	Status       *int
	Categories   *string
	ModifiedBy   *string
}

// Update applies the provided fields. A title change re-derives the slug,
// keeping the record's current slug out of the collision check.
func (r *ContentRepository) Update(uid string, p UpdateContentParams) (*models.Content, error) {
	current, err := r.FindByUID(uid)
	if err != nil {
		return nil, err
	}

	if p.Title != nil && *p.Title != current.Title {
		err = r.withSlugRetry(*p.Title, current.Slug, func(slug string) error {
			return r.execUpdate(uid, p, slug)
		})
	} else {
		err = r.execUpdate(uid, p, current.Slug)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating content: %w", err)
	}

	return r.FindByUID(uid)
}

func (r *ContentRepository) execUpdate(uid string, p UpdateContentParams, slug string) error {
	result, err := r.db.Exec(
		`UPDATE contents SET
			title = COALESCE(?, title),
			slug = ?,
			brief = COALESCE(?, brief),
			article = COALESCE(?, article),
			photo_caption = COALESCE(?, photo_caption),
			status = COALESCE(?, status),
			categories = COALESCE(?, categories),
			modified_by = COALESCE(?, modified_by),
			updated_at = ?
		 WHERE uid = ?`,
		p.Title, slug, p.Brief, p.Article, p.PhotoCaption, p.Status, p.Categories, p.ModifiedBy,
		time.Now().UTC(), uid,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// withSlugRetry derives a slug and runs fn with it, re-deriving on a
// write-time contents.slug violation. The pre-write existence check
// inside token.Slug is advisory; the unique index decides, and a lost
// race means the next derivation sees the winner and appends a fresh
// suffix.
func (r *ContentRepository) withSlugRetry(title, current string, fn func(slug string) error) error {
	var lastErr error
	for range uidInsertRetries {
		slug, err := r.slugFor(title, current)
		if err != nil {
			return err
		}

		err = fn(slug)
		if err == nil {
			return nil
		}
		if IsUniqueConstraintError(err) && strings.Contains(err.Error(), "contents.slug") {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("allocating unique slug: %w", lastErr)
}

func (r *ContentRepository) slugFor(title, current string) (string, error) {
	exists := func(v string) (bool, error) {
		var count int
		err := r.db.QueryRow(`SELECT COUNT(*) FROM contents WHERE slug = ?`, v).Scan(&count)
		if err != nil {
			return false, err
		}
		return count > 0, nil
	}
	return token.Slug(title, current, exists)
}

const contentColumns = `id, uid, title, slug, brief, article, photo_caption, status, categories, added_by, modified_by, created_at, updated_at`

func (r *ContentRepository) FindBySlug(slug string) (*models.Content, error) {
	return r.findOne(`SELECT `+contentColumns+` FROM contents WHERE slug = ?`, slug)
}

func (r *ContentRepository) FindByUID(uid string) (*models.Content, error) {
	return r.findOne(`SELECT `+contentColumns+` FROM contents WHERE uid = ?`, uid)
}

// Recent lists contents newest-first by last change. Draft records are
// included only when requested.
func (r *ContentRepository) Recent(includeDrafts bool) ([]*models.Content, error) {
	query := `SELECT ` + contentColumns + ` FROM contents`
	if !includeDrafts {
		query += ` WHERE status = 1`
	}
	query += ` ORDER BY COALESCE(updated_at, created_at) DESC`

	return r.findAll(query)
}

// Sliders lists published contents tagged with the slider category.
func (r *ContentRepository) Sliders() ([]*models.Content, error) {
	return r.findAll(
		`SELECT ` + contentColumns + ` FROM contents
		 WHERE status = 1 AND categories LIKE '%slider%'
		 ORDER BY COALESCE(updated_at, created_at) DESC`,
	)
}

func (r *ContentRepository) Delete(uid string) error {
	result, err := r.db.Exec(`DELETE FROM contents WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("deleting content: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *ContentRepository) findAll(query string, args ...any) ([]*models.Content, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying contents: %w", err)
	}
	defer rows.Close()

	var contents []*models.Content
	for rows.Next() {
		c, err := scanContent(rows.Scan)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}

	return contents, rows.Err()
}

func (r *ContentRepository) findOne(query string, args ...any) (*models.Content, error) {
	c, err := scanContent(r.db.QueryRow(query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func scanContent(scan func(dest ...any) error) (*models.Content, error) {
	var c models.Content
	var title sql.NullString
	var brief, article, photoCaption, categories, addedBy, modifiedBy sql.NullString
	var updatedAt sql.NullTime

	err := scan(
		&c.ID,
		&c.UID,
		&title,
		&c.Slug,
		&brief,
		&article,
		&photoCaption,
		&c.Status,
		&categories,
		&addedBy,
		&modifiedBy,
		&c.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning content: %w", err)
	}

	c.Title = title.String
	c.Brief = nullStringToPtr(brief)
	c.Article = nullStringToPtr(article)
	c.PhotoCaption = nullStringToPtr(photoCaption)
	c.Categories = nullStringToPtr(categories)
	c.AddedBy = nullStringToPtr(addedBy)
	c.ModifiedBy = nullStringToPtr(modifiedBy)
	c.UpdatedAt = nullTimeToPtr(updatedAt)

	return &c, nil
}
