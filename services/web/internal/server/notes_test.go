package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"lighthousenotes/pkg/domain"
	"lighthousenotes/pkg/storage"
	"lighthousenotes/services/web/internal/apiclient"
	"lighthousenotes/services/web/internal/settings"
)

func serveCase(f *fixture, caseID string) {
	f.api.HandleFunc("GET /case/"+caseID, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Case{ID: caseID, DisplayName: "Operation Lantern"})
	})
}

func serveNotes(f *fixture, prefix string, index []domain.NoteIndex, bodies map[string]string) {
	f.api.HandleFunc("GET "+prefix+"/contemporaneous-notes", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(index)
	})
	f.api.HandleFunc("GET "+prefix+"/contemporaneous-note/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	})
}

func TestNotesPageShowsDisplayForm(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	serveCase(f, "c1")
	serveNotes(f, "/case/c1", []domain.NoteIndex{
		{ID: "n1", Created: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "n2", Created: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)},
	}, map[string]string{
		"n1": `<p>first <img src=".path/a.png"></p>`,
		"n2": `<p>second <img src=".path/broken.png"></p>`,
	})
	f.api.HandleFunc("GET /case/c1/contemporaneous-note/image/{file}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("file") == "broken.png" {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"title": apiclient.TitleImageHashMissing, "status": 500})
			return
		}
		_, _ = io.WriteString(w, `"https://s3.example.com/lighthouse/a.png?sig=1"`)
	})

	resp, body := f.get("/case/c1/contemporaneous-notes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `src="https://s3.example.com/lighthouse/a.png?sig=1"`) {
		t.Fatalf("resolved image missing: %s", body)
	}
	if !strings.Contains(body, `src="/img/image-error.jpeg"`) {
		t.Fatalf("placeholder missing: %s", body)
	}
	if strings.Index(body, "second") > strings.Index(body, "first") {
		t.Fatalf("notes must be newest first")
	}
}

func TestNotesPageDateFilter(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	serveCase(f, "c1")
	serveNotes(f, "/case/c1", []domain.NoteIndex{
		{ID: "old", Created: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "new", Created: time.Date(2024, 2, 1, 23, 0, 0, 0, time.UTC)},
	}, map[string]string{"old": "<p>old note</p>", "new": "<p>new note</p>"})

	_, body := f.get("/case/c1/contemporaneous-notes?from=2024-01-15&to=2024-02-01")
	if strings.Contains(body, "old note") || !strings.Contains(body, "new note") {
		t.Fatalf("date filter not applied: %s", body)
	}
	resp, _ := f.get("/case/c1/contemporaneous-notes?from=yesterday&to=2024-02-01")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", resp.StatusCode)
	}
}

func TestSharedNotesSearchByCreator(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	serveCase(f, "c1")
	serveNotes(f, "/case/c1/shared", []domain.NoteIndex{
		{ID: "a", Created: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), Creator: &domain.User{DisplayName: "Alice Smith"}},
		{ID: "b", Created: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), Creator: &domain.User{DisplayName: "Bob Jones"}},
	}, map[string]string{"a": "<p>alice wrote</p>", "b": "<p>bob wrote</p>"})

	_, body := f.get("/case/c1/shared/contemporaneous-notes?search=alice")
	if !strings.Contains(body, "alice wrote") || strings.Contains(body, "bob wrote") {
		t.Fatalf("search not applied: %s", body)
	}
}

func TestSaveNoteSendsStorageForm(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	uploaded := make(chan string, 1)
	f.api.HandleFunc("POST /case/c1/shared/contemporaneous-note", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, _ := io.ReadAll(file)
		uploaded <- string(raw)
		w.WriteHeader(http.StatusCreated)
	})

	prefix := "https://s3.example.com/lighthouse/cases/c1/shared/contemporaneous-notes/images/"
	mention := `<span class="mention" data-denotation-char="#" data-__data-json="{&quot;id&quot;:&quot;e1&quot;,&quot;reference&quot;:&quot;EX1&quot;}">#EX1</span>`
	form := url.Values{"content": {`<p>seen <img src="` + prefix + `photo.png?X-Amz-Signature=abc"> ` + mention + `</p>`}}
	resp, _ := f.do(http.MethodPost, "/case/c1/shared/contemporaneous-notes", f.token(time.Now().Add(time.Hour)), form)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/case/c1/shared/contemporaneous-notes" {
		t.Fatalf("unexpected save response %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	got := <-uploaded
	if !strings.Contains(got, `src=".path/photo.png"`) {
		t.Fatalf("image not in storage form: %s", got)
	}
	if !strings.Contains(got, `href="/case/c1/exhibit/e1"`) || strings.Contains(got, `class="mention"`) {
		t.Fatalf("mention not resolved: %s", got)
	}
}

func TestSaveNoteWithoutCachedSettingsStillPosts(t *testing.T) {
	f := newFixture(t, nil)
	uploaded := make(chan string, 1)
	f.api.HandleFunc("POST /case/c1/contemporaneous-note", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, _ := io.ReadAll(file)
		uploaded <- string(raw)
		w.WriteHeader(http.StatusCreated)
	})

	form := url.Values{"content": {"<p>evidence observed at 10:02</p>"}}
	resp, body := f.do(http.MethodPost, "/case/c1/contemporaneous-notes", f.token(time.Now().Add(time.Hour)), form)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/case/c1/contemporaneous-notes" {
		t.Fatalf("expected the note to be saved, got %d %q %s", resp.StatusCode, resp.Header.Get("Location"), body)
	}
	if got := <-uploaded; !strings.Contains(got, "evidence observed at 10:02") {
		t.Fatalf("unexpected upload %q", got)
	}
	var culture string
	for _, c := range resp.Cookies() {
		if c.Name == cultureCookie {
			culture = c.Value
		}
	}
	if culture != "c=en-GB|uic=en-GB" {
		t.Fatalf("expected culture cookie on the save response, got %q", culture)
	}
	if got := f.settingsCalls.Load(); got != 1 {
		t.Fatalf("expected one settings fetch, got %d", got)
	}
	var stored domain.Settings
	if err := f.store.Get(context.Background(), settings.Key, &stored); err != nil || stored.UserID != "user-1" {
		t.Fatalf("refreshed settings not stored: %v %+v", err, stored)
	}
}

func TestSaveNoteRequiresContent(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	resp, body := f.do(http.MethodPost, "/case/c1/contemporaneous-notes", f.token(time.Now().Add(time.Hour)), url.Values{"content": {"  "}})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body, "content is required") {
		t.Fatalf("expected 400, got %d %s", resp.StatusCode, body)
	}
}

func TestTabPageHandlesMissingObject(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	serveCase(f, "c1")
	f.api.HandleFunc("GET /case/c1/tab/t1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Tab{ID: "t1", Name: "Timeline"})
	})
	f.api.HandleFunc("GET /case/c1/tab/t1/content", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"title": apiclient.TitleTabObjectMissing})
	})
	resp, body := f.get("/case/c1/tab/t1")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Timeline") || !strings.Contains(body, "no content yet") {
		t.Fatalf("unexpected tab page %d %s", resp.StatusCode, body)
	}
}

func TestCreateTab(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	created := make(chan string, 1)
	f.api.HandleFunc("POST /case/c1/shared/tab", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		created <- in["name"]
		w.WriteHeader(http.StatusCreated)
	})
	resp, _ := f.do(http.MethodPost, "/case/c1/shared/tab", f.token(time.Now().Add(time.Hour)), url.Values{"name": {" Timeline "}})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/case/c1" {
		t.Fatalf("unexpected create response %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if got := <-created; got != "Timeline" {
		t.Fatalf("unexpected tab name %q", got)
	}
}

// fakeObjects is an object store holding a fixed set of keys.
type fakeObjects struct{ keys map[string]bool }

func (f fakeObjects) Stat(_ context.Context, key string) error {
	if !f.keys[key] {
		return storage.ErrObjectNotFound
	}
	return nil
}

func (f fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key + "?sig=1", nil
}

func TestBucketImagesPresignOrPlaceholder(t *testing.T) {
	objects := fakeObjects{keys: map[string]bool{"cases/c1/user-1/contemporaneous-notes/images/a.png": true}}
	f := newFixture(t, func(cfg *Config) {
		cfg.Bucket = &storage.BucketImages{Store: objects}
	})
	f.ready()
	serveCase(f, "c1")
	serveNotes(f, "/case/c1", []domain.NoteIndex{{ID: "n1", Created: time.Now()}}, map[string]string{
		"n1": `<p><img src=".path/a.png"><img src=".path/gone.png"></p>`,
	})
	resp, body := f.get("/case/c1/contemporaneous-notes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `src="https://bucket.example/cases/c1/user-1/contemporaneous-notes/images/a.png?sig=1"`) {
		t.Fatalf("presigned url missing: %s", body)
	}
	if !strings.Contains(body, `src="/img/image-error.jpeg"`) {
		t.Fatalf("missing object should show the placeholder: %s", body)
	}
}

func TestSearchDropsSupersededRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	firstArrived := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	var once sync.Once
	var calls int
	var mu sync.Mutex
	f.api.HandleFunc("GET /case/c1/shared/contemporaneous-notes", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			once.Do(func() { close(firstArrived) })
			select {
			case <-r.Context().Done():
				return
			case <-release:
			}
		}
		_ = json.NewEncoder(w).Encode([]domain.NoteIndex{})
	})

	browser := &http.Cookie{Name: "lh_browser", Value: "8f14e45f-ceea-467f-a0e6-5ad0c6c2b1c4"}
	token := f.token(time.Now().Add(time.Hour))
	first := make(chan int, 1)
	go func() {
		resp, _ := f.do(http.MethodGet, "/api/case/c1/shared/contemporaneous-notes/search?search=a", token, nil, browser)
		first <- resp.StatusCode
	}()
	<-firstArrived

	resp, body := f.do(http.MethodGet, "/api/case/c1/shared/contemporaneous-notes/search?search=ab", token, nil, browser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("newest search should answer, got %d %s", resp.StatusCode, body)
	}
	var out searchResponse
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	select {
	case status := <-first:
		if status != http.StatusConflict {
			t.Fatalf("superseded search expected 409, got %d", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("superseded search did not finish")
	}
}

func TestSearchRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(http.MethodGet, "/api/case/c1/shared/contemporaneous-notes/search", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCultureRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, func(cfg *Config) {
		cfg.Redis = client
		cfg.RateLimitPerMinute = 1
	})
	resp, _ := f.do(http.MethodGet, "/culture/set?culture=en-GB", "", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("first request expected 302, got %d", resp.StatusCode)
	}
	resp, _ = f.do(http.MethodGet, "/culture/set?culture=en-GB", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestExportRendersAllSections(t *testing.T) {
	f := newFixture(t, nil)
	f.ready()
	f.api.HandleFunc("GET /case/c1/export", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Export{
			DisplayName:                "Operation Lantern",
			LeadInvestigator:           domain.User{DisplayName: "Lead"},
			ContemporaneousNotes:       []domain.NoteExport{{Content: "<p>personal note</p>"}},
			Tabs:                       []domain.TabExport{{Name: "Timeline", Content: "<p>tab body</p>"}},
			SharedContemporaneousNotes: []domain.SharedNoteExport{{Content: "<p>shared note</p>", Creator: domain.User{DisplayName: "Bob"}}},
		})
	})
	resp, body := f.get("/case/c1/export")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, want := range []string{"Operation Lantern", "personal note", "Timeline", "tab body", "shared note", "Bob"} {
		if !strings.Contains(body, want) {
			t.Fatalf("export missing %q: %s", want, body)
		}
	}
}

func TestExportPDFWithoutChrome(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.PDF.ChromePath = "/nonexistent/chromium"
	})
	f.ready()
	f.api.HandleFunc("GET /case/c1/export", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Export{DisplayName: "Operation Lantern"})
	})
	resp, body := f.get("/case/c1/export.pdf")
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(body, "PDF export unavailable") {
		t.Fatalf("expected 503, got %d %s", resp.StatusCode, body)
	}
}

func TestDateRange(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?from=2024-01-01&to=2024-01-31", nil)
	from, to, err := dateRange(r, time.UTC)
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	if !from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", from)
	}
	if !to.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)) {
		t.Fatalf("to should cover the whole day, got %v", to)
	}
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if from, to, err := dateRange(r, time.UTC); err != nil || from != nil || to != nil {
		t.Fatalf("expected no bounds, got %v %v %v", from, to, err)
	}
}
