package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/booklet"
	"github.com/hyperjump/nakama/internal/config"
	"github.com/hyperjump/nakama/internal/ingest"
	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/search"
	"github.com/hyperjump/nakama/internal/storage"
)

type stubClient struct {
	response string
}

func (c stubClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.response, nil
}

type testEnv struct {
	store   *storage.SQLiteStorage
	handler http.Handler
}

func newTestEnv(t *testing.T, withIngest bool) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	deps := Deps{
		Engine:   search.NewEngine(store, nil),
		Booklets: booklet.NewGenerator(nil),
		Storage:  store,
		Config:   cfg,
		Version:  "test",
	}
	if withIngest {
		deps.Ingest = ingest.NewPipeline(store, stubClient{response: `[{"name": "山田", "hobby": ["旅行"]}]`})
	}
	srv := NewServer(deps, &cfg.Server, zap.NewNop())
	return &testEnv{store: store, handler: srv.Handler()}
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	docs := map[string]map[string]any{
		"a": {"name": "山田", "hobby": []any{"旅行", "読書"}, "birthplace": "大阪府"},
		"b": {"name": "佐藤", "hobby": "釣り", "birthplace": "東京都"},
	}
	for _, id := range []string{"a", "b"} {
		if _, err := e.store.ImportDocument(ctx, id, docs[id]); err != nil {
			t.Fatal(err)
		}
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t)

	w := env.do(http.MethodPost, "/search", `{"hobby": "旅行", "birthplace": "関西"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Count != 1 || resp.Users[0].Name != "山田" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Users[0].MatchType != models.MatchHobbyAndBirthplace {
		t.Errorf("match type = %q", resp.Users[0].MatchType)
	}
}

func TestHandleSearch_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"empty terms", `{"hobby": " ", "birthplace": ""}`, http.StatusBadRequest, models.ErrEmptyQuery.Error()},
		{"empty body", ``, http.StatusBadRequest, models.ErrEmptyQuery.Error()},
		{"invalid json", `{"hobby":`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/search", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status: got %d", w.Code)
			}
			var resp models.SearchResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Success || resp.Error != tt.errMsg || resp.Users == nil {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestHandleSearch_StoreFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.Close()

	w := env.do(http.MethodPost, "/search", `{"hobby": "旅行"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), internalErrorMessage) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleGenerateBooklet(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodPost, "/generate-booklet", `{"hobby": "釣り", "birthplace": "大阪府"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	_, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatal(err)
	}
	if want := booklet.FileName("釣り", "大阪府"); params["filename"] != want {
		t.Errorf("filename = %q, want %q", params["filename"], want)
	}
	if w.Header().Get("X-Booklet-Source") != "fallback" {
		t.Errorf("source = %q", w.Header().Get("X-Booklet-Source"))
	}
	if !strings.Contains(w.Body.String(), "釣り") {
		t.Errorf("booklet body does not mention the hobby: %s", w.Body.String())
	}

	w = env.do(http.MethodPost, "/generate-booklet", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty booklet request status: got %d", w.Code)
	}
}

func TestHandleHealthAndRegions(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"healthy"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodGet, "/regions", "")
	var out struct {
		Regions map[string][]string `json:"regions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Regions["関西"]) == 0 {
		t.Errorf("regions = %v", out.Regions)
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t)

	w := env.do(http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["profiles"] != float64(2) || out["version"] != "test" {
		t.Errorf("status = %v", out)
	}
}

func TestProfileCRUD(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodPost, "/profiles", `{"name": "田中", "hobby": "写真、旅行", "birthplace": "京都府"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status: got %d %s", w.Code, w.Body.String())
	}
	var created models.Profile
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || len(created.HobbyKeywords) != 3 {
		t.Errorf("created = %+v", created)
	}

	w = env.do(http.MethodGet, "/profiles/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("get status: got %d", w.Code)
	}

	w = env.do(http.MethodDelete, "/profiles/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("delete status: got %d", w.Code)
	}
	w = env.do(http.MethodGet, "/profiles/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d", w.Code)
	}
	w = env.do(http.MethodDelete, "/profiles/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", w.Code)
	}

	w = env.do(http.MethodPost, "/profiles", `{"hobby": "写真"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("nameless create: got %d", w.Code)
	}
}

func multipartUpload(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHandleIngest(t *testing.T) {
	env := newTestEnv(t, true)

	body, ct := multipartUpload(t, "自己紹介.txt", "山田です。趣味は旅行です。")
	r := httptest.NewRequest(http.MethodPost, "/ingest", body)
	r.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d %s", w.Code, w.Body.String())
	}
	var out ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 || out.Profiles[0].Name != "山田" {
		t.Errorf("ingest response = %+v", out)
	}

	body, ct = multipartUpload(t, "slides.pptx", "x")
	r = httptest.NewRequest(http.MethodPost, "/ingest", body)
	r.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("unsupported upload: got %d", w.Code)
	}
}

func TestHandleIngest_Disabled(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(http.MethodPost, "/ingest", "")
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, false)

	r := httptest.NewRequest(http.MethodOptions, "/search", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status: got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}

	if allowedOrigin("http://evil.example", []string{"http://localhost:3000"}) {
		t.Error("unexpected origin allowed")
	}
}
