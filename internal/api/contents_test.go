package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"fincapes/internal/db"
	"fincapes/internal/models"
)

type contentTestEnv struct {
	handler  *ContentHandler
	contents *db.ContentRepository
	staffUID string
}

func newContentTestEnv(t *testing.T) *contentTestEnv {
	t.Helper()

	database := openTestDB(t)
	users := db.NewUserRepository(database)
	contents := db.NewContentRepository(database)

	staff, err := users.Create(db.CreateUserParams{
		Email:     "editor@example.com",
		FirstName: "Sari",
		Active:    true,
		Staff:     true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	return &contentTestEnv{
		handler:  NewContentHandler(contents, users),
		contents: contents,
		staffUID: staff.UID,
	}
}

func (env *contentTestEnv) asStaff(req *http.Request) *http.Request {
	ctx := context.WithValue(req.Context(), userUIDKey, env.staffUID)
	ctx = context.WithValue(ctx, staffKey, true)
	return req.WithContext(ctx)
}

func (env *contentTestEnv) create(t *testing.T, body string) *models.Content {
	t.Helper()

	req := env.asStaff(httptest.NewRequest(http.MethodPost, "/api/v1/contents", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	env.handler.Create(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d, body=%q", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var content models.Content
	if err := json.Unmarshal(rr.Body.Bytes(), &content); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	return &content
}

func TestCreateContentDerivesSlugFromTitle(t *testing.T) {
	env := newContentTestEnv(t)

	content := env.create(t, `{"title":"Mangrove Restoration in North Sumatra","status":1}`)

	if content.Slug != "mangrove-restoration-in-north-sumatra" {
		t.Fatalf("slug = %q, want %q", content.Slug, "mangrove-restoration-in-north-sumatra")
	}
	if content.AddedBy == nil {
		t.Fatal("expected added_by to record the author")
	}
}

func TestCreateContentDuplicateTitleGetsSuffixedSlug(t *testing.T) {
	env := newContentTestEnv(t)

	first := env.create(t, `{"title":"Coastal Update","status":1}`)
	second := env.create(t, `{"title":"Coastal Update","status":1}`)

	if first.Slug != "coastal-update" {
		t.Fatalf("first slug = %q, want %q", first.Slug, "coastal-update")
	}
	if second.Slug == first.Slug {
		t.Fatal("second content must not reuse the first slug")
	}
	if !strings.HasPrefix(second.Slug, "coastal-update-") {
		t.Fatalf("second slug = %q, want prefix %q", second.Slug, "coastal-update-")
	}
	if suffix := strings.TrimPrefix(second.Slug, "coastal-update-"); len(suffix) != 6 {
		t.Fatalf("suffix %q length = %d, want 6", suffix, len(suffix))
	}
}

func TestUpdateContentKeepsSlugWhenTitleUnchanged(t *testing.T) {
	env := newContentTestEnv(t)

	content := env.create(t, `{"title":"Coastal Update","status":1}`)

	req := env.asStaff(httptest.NewRequest(http.MethodPatch, "/api/v1/contents/"+content.UID,
		strings.NewReader(`{"title":"Coastal Update","brief":"revised"}`)))
	req = withURLParam(req, "uid", content.UID)
	rr := httptest.NewRecorder()

	env.handler.Update(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	var updated models.Content
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if updated.Slug != content.Slug {
		t.Fatalf("slug changed from %q to %q on a same-title update", content.Slug, updated.Slug)
	}
	if updated.Brief == nil || *updated.Brief != "revised" {
		t.Fatalf("brief = %v, want %q", updated.Brief, "revised")
	}
}

func TestCreateContentSanitizesArticleMarkup(t *testing.T) {
	env := newContentTestEnv(t)

	content := env.create(t,
		`{"title":"Field Notes","status":1,"article":"<p>ok</p><script>alert(1)</script><a href=\"https://example.com\">link</a>"}`)

	if content.Article == nil {
		t.Fatal("expected article to survive sanitization")
	}
	if strings.Contains(*content.Article, "<script>") {
		t.Fatalf("article %q still contains script markup", *content.Article)
	}
	if !strings.Contains(*content.Article, "<p>ok</p>") {
		t.Fatalf("article %q lost benign markup", *content.Article)
	}
}

func TestGetBySlugHidesDraftsFromPublic(t *testing.T) {
	env := newContentTestEnv(t)

	draft := env.create(t, `{"title":"Unpublished Report","status":0}`)

	// Anonymous request.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/contents/"+draft.Slug, nil)
	req = withURLParam(req, "slug", draft.Slug)
	rr := httptest.NewRecorder()
	env.handler.GetBySlug(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("anonymous draft fetch status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	// Staff sees drafts.
	req = env.asStaff(httptest.NewRequest(http.MethodGet, "/api/v1/contents/"+draft.Slug, nil))
	req = withURLParam(req, "slug", draft.Slug)
	rr = httptest.NewRecorder()
	env.handler.GetBySlug(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("staff draft fetch status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}
}

func TestListExcludesDraftsForPublic(t *testing.T) {
	env := newContentTestEnv(t)

	env.create(t, `{"title":"Published Piece","status":1}`)
	env.create(t, `{"title":"Draft Piece","status":0}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contents", nil)
	rr := httptest.NewRecorder()
	env.handler.List(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp ContentListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(resp.Contents) != 1 || resp.Contents[0].Title != "Published Piece" {
		t.Fatalf("public list = %+v, want only the published piece", resp.Contents)
	}

	req = env.asStaff(httptest.NewRequest(http.MethodGet, "/api/v1/contents", nil))
	rr = httptest.NewRecorder()
	env.handler.List(rr, req)

	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(resp.Contents) != 2 {
		t.Fatalf("staff list has %d entries, want 2", len(resp.Contents))
	}
}

func TestSlidersReturnsPublishedSliderContent(t *testing.T) {
	env := newContentTestEnv(t)

	env.create(t, `{"title":"Hero Banner","status":1,"categories":"slider,home"}`)
	env.create(t, `{"title":"Hidden Banner","status":0,"categories":"slider"}`)
	env.create(t, `{"title":"Plain Article","status":1}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contents/sliders", nil)
	rr := httptest.NewRecorder()
	env.handler.Sliders(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("sliders status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp ContentListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(resp.Contents) != 1 || resp.Contents[0].Title != "Hero Banner" {
		t.Fatalf("sliders = %+v, want only the published slider", resp.Contents)
	}
}

func TestDeleteContent(t *testing.T) {
	env := newContentTestEnv(t)

	content := env.create(t, `{"title":"Short Lived","status":1}`)

	req := env.asStaff(httptest.NewRequest(http.MethodDelete, "/api/v1/contents/"+content.UID, nil))
	req = withURLParam(req, "uid", content.UID)
	rr := httptest.NewRecorder()
	env.handler.Delete(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", rr.Code, http.StatusOK)
	}

	if _, err := env.contents.FindByUID(content.UID); err == nil {
		t.Fatal("expected content to be gone after delete")
	}

	// Deleting again reports not found.
	rr = httptest.NewRecorder()
	env.handler.Delete(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSlugCollisionsStayDistinctAcrossMany(t *testing.T) {
	env := newContentTestEnv(t)

	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		content := env.create(t, fmt.Sprintf(`{"title":"Annual Report","status":1,"brief":"edition %d"}`, i))
		if seen[content.Slug] {
			t.Fatalf("slug %q issued twice", content.Slug)
		}
		seen[content.Slug] = true
	}
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
