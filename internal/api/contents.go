package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"fincapes/internal/db"
	"fincapes/internal/models"
)

type ContentHandler struct {
	contents  *db.ContentRepository
	users     *db.UserRepository
	sanitizer *bluemonday.Policy
}

func NewContentHandler(contents *db.ContentRepository, users *db.UserRepository) *ContentHandler {
	return &ContentHandler{
		contents:  contents,
		users:     users,
		// Article bodies come from a rich text editor; strip anything
		// beyond user-generated-content markup.
		sanitizer: bluemonday.UGCPolicy(),
	}
}

type ContentListResponse struct {
	Contents []*models.Content `json:"contents"`
}

// GET /api/v1/contents
func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	contents, err := h.contents.Recent(IsStaff(r))
	if err != nil {
		slog.Error("error listing contents", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, ContentListResponse{Contents: contents})
}

// GET /api/v1/contents/sliders
func (h *ContentHandler) Sliders(w http.ResponseWriter, r *http.Request) {
	contents, err := h.contents.Sliders()
	if err != nil {
		slog.Error("error listing sliders", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, ContentListResponse{Contents: contents})
}

// GET /api/v1/contents/{slug}
func (h *ContentHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	content, err := h.contents.FindBySlug(slug)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Content not found")
		return
	}
	if err != nil {
		slog.Error("error finding content", "error", err, "slug", slug)
		internalError(w)
		return
	}

	if !content.Published() && !IsStaff(r) {
		notFound(w, "Content not found")
		return
	}

	writeJSON(w, http.StatusOK, content)
}

type CreateContentRequest struct {
	Title        string  `json:"title" validate:"required,max=300"`
	Brief        *string `json:"brief" validate:"omitempty,max=400"`
	Article      *string `json:"article"`
	PhotoCaption *string `json:"photoCaption" validate:"omitempty,max=200"`
	Status       int     `json:"status" validate:"oneof=0 1"`
	Categories   *string `json:"categories" validate:"omitempty,max=255"`
}

// POST /api/v1/contents
func (h *ContentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateContentRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	author, err := h.currentUserID(r)
	if err != nil {
		unauthorized(w, "User not found in context")
		return
	}

	content, err := h.contents.Create(db.CreateContentParams{
		Title:        strings.TrimSpace(req.Title),
		Brief:        req.Brief,
		Article:      h.sanitizeArticle(req.Article),
		PhotoCaption: req.PhotoCaption,
		Status:       req.Status,
		Categories:   req.Categories,
		AddedBy:      &author,
	})
	if err != nil {
		slog.Error("error creating content", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, content)
}

type UpdateContentRequest struct {
	Title        *string `json:"title" validate:"omitempty,max=300"`
	Brief        *string `json:"brief" validate:"omitempty,max=400"`
	Article      *string `json:"article"`
	PhotoCaption *string `json:"photoCaption" validate:"omitempty,max=200"`
	Status       *int    `json:"status" validate:"omitempty,oneof=0 1"`
	Categories   *string `json:"categories" validate:"omitempty,max=255"`
}

// PATCH /api/v1/contents/{uid}
func (h *ContentHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req UpdateContentRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	editor, err := h.currentUserID(r)
	if err != nil {
		unauthorized(w, "User not found in context")
		return
	}

	content, err := h.contents.Update(uid, db.UpdateContentParams{
		Title:        req.Title,
		Brief:        req.Brief,
		Article:      h.sanitizeArticle(req.Article),
		PhotoCaption: req.PhotoCaption,
		Status:       req.Status,
		Categories:   req.Categories,
		ModifiedBy:   &editor,
	})
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Content not found")
		return
	}
	if err != nil {
		slog.Error("error updating content", "error", err, "uid", uid)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, content)
}

// DELETE /api/v1/contents/{uid}
func (h *ContentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	err := h.contents.Delete(uid)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Content not found")
		return
	}
	if err != nil {
		slog.Error("error deleting content", "error", err, "uid", uid)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Content deleted"})
}

func (h *ContentHandler) sanitizeArticle(article *string) *string {
	if article == nil {
		return nil
	}
	clean := h.sanitizer.Sanitize(*article)
	return &clean
}

func (h *ContentHandler) currentUserID(r *http.Request) (string, error) {
	uid := GetUserUID(r)
	if uid == "" {
		return "", db.ErrNotFound
	}
	user, err := h.users.FindByUID(uid)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}
