package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-todo/domain"
	"prism-todo/storage"
	"prism-todo/store"
)

// flakyKV fails every write while fail is set.
type flakyKV struct {
	*storage.Memory
	fail atomic.Bool
}

var errDiskFull = errors.New("quota exceeded")

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if f.fail.Load() {
		return errDiskFull
	}
	return f.Memory.Set(ctx, key, value)
}

func newTestServer(t *testing.T, opts Options) (*echo.Echo, *store.App, *flakyKV) {
	t.Helper()
	kv := &flakyKV{Memory: storage.NewMemory()}
	app, err := store.NewApp(context.Background(), kv, store.Options{})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(app.Close)
	logger, _ := test.NewNullLogger()
	e := echo.New()
	s := Register(e, app, logger, opts)
	t.Cleanup(s.Close)
	return e, app, kv
}

func do(t *testing.T, e *echo.Echo, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestTaskLifecycle(t *testing.T) {
	e, _, _ := newTestServer(t, Options{})

	rec := do(t, e, http.MethodPost, "/api/tasks", `{"title":"Buy milk","categories":["Home"]}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	task := decode[domain.Task](t, rec)
	if task.ID == "" || task.Priority != domain.PriorityMedium || task.Emoji != domain.DefaultEmoji {
		t.Fatalf("created task = %#v", task)
	}

	rec = do(t, e, http.MethodGet, "/api/tasks", "", nil)
	view := decode[viewResponse](t, rec)
	if len(view.Tasks) != 1 || view.SortLabel != "Alphabetical" || view.FilterLabel != "All" {
		t.Fatalf("view = %#v", view)
	}

	rec = do(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/complete", "", nil)
	if got := decode[domain.Task](t, rec); !got.Completed {
		t.Fatalf("complete = %d %#v", rec.Code, got)
	}
	rec = do(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/pin", "", nil)
	if got := decode[domain.Task](t, rec); !got.Pinned {
		t.Fatalf("pin = %d %#v", rec.Code, got)
	}
	rec = do(t, e, http.MethodPatch, "/api/tasks/"+task.ID, `{"title":"Buy oat milk","priority":"high"}`, nil)
	got := decode[domain.Task](t, rec)
	if got.Title != "Buy oat milk" || got.Priority != domain.PriorityHigh || !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("patch = %#v", got)
	}
	rec = do(t, e, http.MethodGet, "/api/tasks/"+task.ID, "", nil)
	if decode[domain.Task](t, rec).Title != "Buy oat milk" {
		t.Fatalf("get after patch = %s", rec.Body.String())
	}

	if rec = do(t, e, http.MethodDelete, "/api/tasks/"+task.ID, "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = do(t, e, http.MethodDelete, "/api/tasks/"+task.ID, "", nil)
	if rec.Code != http.StatusNotFound || decode[errorResponse](t, rec).Kind != "not-found" {
		t.Fatalf("second delete = %d %s", rec.Code, rec.Body.String())
	}
	for _, path := range []string{"/complete", "/pin"} {
		if rec = do(t, e, http.MethodPost, "/api/tasks/missing"+path, "", nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s on missing task = %d", path, rec.Code)
		}
	}
}

func TestPostTaskRejectsInvalidDrafts(t *testing.T) {
	e, app, _ := newTestServer(t, Options{})
	tests := map[string]string{
		"empty title":      `{"title":"   "}`,
		"long title":       `{"title":"` + strings.Repeat("x", 41) + `"}`,
		"many categories":  `{"title":"a","categories":["a","b","c","d"]}`,
		"unknown field":    `{"title":"a","owner":"me"}`,
		"malformed":        `{"title":`,
		"end before start": `{"title":"a","startDate":"2024-05-02T00:00:00Z","endDate":"2024-05-01T00:00:00Z"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, e, http.MethodPost, "/api/tasks", body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
			}
		})
	}
	if n := len(app.Tasks.Tasks()); n != 0 {
		t.Fatalf("invalid drafts added %d tasks", n)
	}
}

func TestPatchTaskChecksEdits(t *testing.T) {
	e, app, _ := newTestServer(t, Options{})
	rec := do(t, e, http.MethodPost, "/api/tasks", `{"title":"a","priority":"high","startDate":"2024-05-02T00:00:00Z"}`, nil)
	task := decode[domain.Task](t, rec)

	tests := map[string]string{
		"long title":          `{"title":"` + strings.Repeat("x", 60) + `"}`,
		"blank title":         `{"title":"  "}`,
		"long description":    `{"description":"` + strings.Repeat("d", 351) + `"}`,
		"end before start":    `{"endDate":"2024-05-01T00:00:00Z"}`,
		"too many categories": `{"categories":["a","b","c","d"]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, e, http.MethodPatch, "/api/tasks/"+task.ID, body, nil)
			if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Kind != "validation" {
				t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
			}
		})
	}
	if got, _ := app.Tasks.Get(task.ID); got.Title != "a" || got.Priority != domain.PriorityHigh || got.EndDate != nil {
		t.Fatalf("rejected patches changed the task: %#v", got)
	}

	rec = do(t, e, http.MethodPatch, "/api/tasks/"+task.ID, `{"priority":"urgent"}`, nil)
	if got := decode[domain.Task](t, rec); rec.Code != http.StatusOK || got.Priority != domain.PriorityMedium {
		t.Fatalf("unknown priority = %d %#v", rec.Code, got)
	}
	if rec = do(t, e, http.MethodPatch, "/api/tasks/missing", `{"title":"b"}`, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("patch missing task = %d", rec.Code)
	}
}

func TestTaskCategories(t *testing.T) {
	e, _, _ := newTestServer(t, Options{})
	rec := do(t, e, http.MethodPost, "/api/tasks", `{"title":"a","categories":["Work","Home","Coding"]}`, nil)
	task := decode[domain.Task](t, rec)

	rec = do(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/categories", `{"value":"Health"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("fourth category = %d", rec.Code)
	}
	rec = do(t, e, http.MethodDelete, "/api/tasks/"+task.ID+"/categories/Work", "", nil)
	if got := decode[domain.Task](t, rec); len(got.Categories) != 2 || got.HasCategory("Work") {
		t.Fatalf("remove = %#v", got.Categories)
	}
	rec = do(t, e, http.MethodPost, "/api/tasks/"+task.ID+"/categories", `{"value":"Health"}`, nil)
	if got := decode[domain.Task](t, rec); !got.HasCategory("Health") {
		t.Fatalf("add = %d %#v", rec.Code, got.Categories)
	}
	rec = do(t, e, http.MethodPatch, "/api/tasks/"+task.ID, `{"categories":["a","b","c","d"]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("patch with four categories = %d", rec.Code)
	}
}

func TestViewAndPreferences(t *testing.T) {
	e, app, kv := newTestServer(t, Options{})
	do(t, e, http.MethodPost, "/api/tasks", `{"title":"Walk","completed":true}`, nil)
	do(t, e, http.MethodPost, "/api/tasks", `{"title":"Cook"}`, nil)

	rec := do(t, e, http.MethodPut, "/api/view", `{"filter":"completed","sort":"bogus","query":"WAL"}`, nil)
	view := decode[viewResponse](t, rec)
	if view.Filter != domain.FilterCompleted || view.Sort != domain.SortCustom || view.Query != "WAL" {
		t.Fatalf("view inputs = %q %q %q", view.Filter, view.Sort, view.Query)
	}
	if len(view.Tasks) != 1 || view.Tasks[0].Title != "Walk" {
		t.Fatalf("view tasks = %#v", view.Tasks)
	}

	rec = do(t, e, http.MethodDelete, "/api/view/search", "", nil)
	if decode[viewResponse](t, rec).Query != "" {
		t.Fatalf("search not cleared")
	}

	rec = do(t, e, http.MethodPut, "/api/preferences", `{"filter":"Pinned","sort":"Low"}`, nil)
	prefs := decode[storage.Preferences](t, rec)
	if prefs.FilterLabel != "Pinned" || prefs.SortLabel != "Low" {
		t.Fatalf("prefs = %#v", prefs)
	}
	if v, _, _ := kv.Get(context.Background(), storage.KeySelectedSort); v != "Low" {
		t.Fatalf("stored sort label = %q", v)
	}
	if v := app.Tasks.View(); v.Filter != domain.FilterPinned || v.Sort != domain.SortLowPriority {
		t.Fatalf("modes = %q %q", v.Filter, v.Sort)
	}
	if rec = do(t, e, http.MethodPut, "/api/preferences", `{"filter":"Overdue"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown label = %d", rec.Code)
	}
}

func TestSearchIsDebounced(t *testing.T) {
	var applied atomic.Int32
	e, app, _ := newTestServer(t, Options{SearchDebounce: 20 * time.Millisecond})
	views, cancel := app.Tasks.Subscribe(16)
	defer cancel()
	go func() {
		for v := range views {
			if v.Query != "" {
				applied.Add(1)
			}
		}
	}()

	for _, q := range []string{"m", "mi", "milk"} {
		if rec := do(t, e, http.MethodPut, "/api/view/search", `{"query":"`+q+`"}`, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("search = %d", rec.Code)
		}
	}
	deadline := time.Now().Add(time.Second)
	for app.Tasks.View().Query != "milk" {
		if time.Now().After(deadline) {
			t.Fatalf("query never applied, got %q", app.Tasks.View().Query)
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := applied.Load(); n != 1 {
		t.Fatalf("expected one applied query, got %d", n)
	}
}

func TestCategoriesEndpoints(t *testing.T) {
	e, _, _ := newTestServer(t, Options{})

	cats := decode[categoriesResponse](t, do(t, e, http.MethodGet, "/api/categories", "", nil))
	if len(cats.Categories) != 6 || len(cats.Favorites) != 0 {
		t.Fatalf("seed categories = %d favorites = %d", len(cats.Categories), len(cats.Favorites))
	}
	if rec := do(t, e, http.MethodPost, "/api/categories", `{"value":"Work"}`, nil); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d", rec.Code)
	}
	rec := do(t, e, http.MethodPost, "/api/categories", `{"value":"Garden","label":"🌱"}`, nil)
	garden := decode[domain.Category](t, rec)
	if rec.Code != http.StatusCreated || garden.ID == "" || garden.Color != domain.DefaultCategoryColor {
		t.Fatalf("create = %d %#v", rec.Code, garden)
	}

	rec = do(t, e, http.MethodPost, "/api/categories/"+garden.ID+"/favorite", "", nil)
	if !decode[domain.Category](t, rec).IsFavorite {
		t.Fatalf("favorite not toggled")
	}
	rec = do(t, e, http.MethodPatch, "/api/categories/"+garden.ID, `{"color":"#00ff00"}`, nil)
	if decode[domain.Category](t, rec).Color != "#00ff00" {
		t.Fatalf("edit = %s", rec.Body.String())
	}
	cats = decode[categoriesResponse](t, do(t, e, http.MethodGet, "/api/categories", "", nil))
	if len(cats.Favorites) != 1 || cats.Favorites[0].ID != garden.ID {
		t.Fatalf("favorites = %#v", cats.Favorites)
	}

	do(t, e, http.MethodPost, "/api/tasks", `{"title":"Plant","categories":["Garden"],"completed":true}`, nil)
	stats := decode[[]store.CategoryStats](t, do(t, e, http.MethodGet, "/api/categories/stats", "", nil))
	var found bool
	for _, s := range stats {
		if s.Value == "Garden" {
			found = true
			if s.Progress.Total != 1 || s.Percent != 100 {
				t.Fatalf("garden stats = %#v", s)
			}
		}
	}
	if !found {
		t.Fatalf("no stats for Garden")
	}

	if rec = do(t, e, http.MethodDelete, "/api/categories/"+garden.ID, "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec = do(t, e, http.MethodGet, "/api/categories/"+garden.ID, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", rec.Code)
	}
	cats = decode[categoriesResponse](t, do(t, e, http.MethodPost, "/api/categories/reset", "", nil))
	if len(cats.Categories) != 6 {
		t.Fatalf("reset = %d categories", len(cats.Categories))
	}
}

func TestUsernameAndDraft(t *testing.T) {
	e, _, _ := newTestServer(t, Options{})

	rec := do(t, e, http.MethodPut, "/api/username", `{"username":"  Ada  "}`, nil)
	if decode[usernameBody](t, rec).Username != "Ada" {
		t.Fatalf("username = %s", rec.Body.String())
	}
	if decode[usernameBody](t, do(t, e, http.MethodGet, "/api/username", "", nil)).Username != "Ada" {
		t.Fatalf("username not stored")
	}

	if d := decode[draftResponse](t, do(t, e, http.MethodGet, "/api/draft", "", nil)); d.Saved {
		t.Fatalf("unexpected saved draft")
	}
	rec = do(t, e, http.MethodPut, "/api/draft", `{"form":{"title":"Read"},"emoji":"📖","color":"#123456"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save draft = %d %s", rec.Code, rec.Body.String())
	}
	d := decode[draftResponse](t, do(t, e, http.MethodGet, "/api/draft", "", nil))
	if !d.Saved || d.Form.Title != "Read" || d.Emoji != "📖" {
		t.Fatalf("draft = %#v", d)
	}

	rec = do(t, e, http.MethodPost, "/api/draft/submit", "", nil)
	task := decode[domain.Task](t, rec)
	if rec.Code != http.StatusCreated || task.Title != "Read" || task.Emoji != "📖" || task.Color != "#123456" {
		t.Fatalf("submit = %d %#v", rec.Code, task)
	}
	if d := decode[draftResponse](t, do(t, e, http.MethodGet, "/api/draft", "", nil)); d.Saved {
		t.Fatalf("draft not cleared after submit")
	}
	if rec = do(t, e, http.MethodPost, "/api/draft/submit", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty draft submit = %d", rec.Code)
	}
}

func TestPersistFailureIsReported(t *testing.T) {
	e, app, kv := newTestServer(t, Options{})
	kv.fail.Store(true)

	rec := do(t, e, http.MethodPost, "/api/tasks", `{"title":"a"}`, nil)
	if rec.Code != http.StatusInternalServerError || decode[errorResponse](t, rec).Kind != "persistence" {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	if n := len(app.Tasks.Tasks()); n != 1 {
		t.Fatalf("mutation should stay applied, got %d tasks", n)
	}
}

func TestPostTaskIsIdempotent(t *testing.T) {
	e, app, _ := newTestServer(t, Options{Deduper: NewMemoryDeduper(time.Minute)})
	h := http.Header{IdempotencyHeader: []string{"retry-1"}}

	first := do(t, e, http.MethodPost, "/api/tasks", `{"title":"once"}`, h)
	second := do(t, e, http.MethodPost, "/api/tasks", `{"title":"once"}`, h)
	if first.Code != http.StatusCreated || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d %d", first.Code, second.Code)
	}
	if decode[domain.Task](t, first).ID != decode[domain.Task](t, second).ID {
		t.Fatalf("retry returned a different task")
	}
	do(t, e, http.MethodPost, "/api/tasks", `{"title":"twice"}`, nil)
	if n := len(app.Tasks.Tasks()); n != 2 {
		t.Fatalf("tasks = %d", n)
	}
}

func TestGzipRequestMiddleware(t *testing.T) {
	e, _, _ := newTestServer(t, Options{})

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"title":"zipped"}`))
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated || decode[domain.Task](t, rec).Title != "zipped" {
		t.Fatalf("gzip create = %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "identity, gzip")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad gzip = %d", rec.Code)
	}
}

func TestHasGzipEncoding(t *testing.T) {
	tests := map[string]bool{"": false, "gzip": true, "GZIP": true, "br, gzip": true, "deflate": false}
	for header, want := range tests {
		if got := hasGzipEncoding(header); got != want {
			t.Fatalf("hasGzipEncoding(%q) = %v", header, got)
		}
	}
}

func TestUnknownAPIPathsFallThrough(t *testing.T) {
	e, _, _ := newTestServer(t, Options{})
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusTeapot, "worker")
	})

	for _, path := range []string{"/api/notifications", "/api/sync/queue", "/index.html"} {
		if rec := do(t, e, http.MethodGet, path, "", nil); rec.Code != http.StatusTeapot {
			t.Fatalf("GET %s = %d, want the catch-all", path, rec.Code)
		}
	}
	if rec := do(t, e, http.MethodGet, "/api/tasks", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("local route shadowed: %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	e, _, _ := newTestServer(t, Options{})
	if rec := do(t, e, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}
