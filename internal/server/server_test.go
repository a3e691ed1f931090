package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/generate"
	"github.com/TobiSchelling/postforge/internal/normalize"
	"github.com/TobiSchelling/postforge/internal/runner"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type topicGenerator struct{}

func (topicGenerator) Generate(_ context.Context, b generate.Brief) ([]byte, error) {
	return json.Marshal(map[string]any{
		"title":    b.Topic,
		"lead":     "Lead.",
		"sections": []map[string]string{{"title": "Start", "body": "Some **bold** advice."}},
		"faq":      []map[string]string{{"question": "Why?", "answer": "Because."}},
	})
}

func newOrchestrator(db *database.DB) *generate.Orchestrator {
	n := normalize.New(db, db, normalize.Config{BaseURL: "https://example.com", ArticlePath: "artykuly", DefaultRubric: "Zdrowie i joga"})
	return generate.New(generate.Deps{Store: db, Generator: topicGenerator{}, Normalizer: n, DefaultRubric: "Zdrowie i joga"})
}

func newTestServer(t *testing.T) (*Server, *database.DB) {
	t.Helper()
	db := openTestDB(t)
	orch := newOrchestrator(db)
	r := runner.New(db, orch, runner.Options{PollInterval: 10 * time.Millisecond}, nil)
	t.Cleanup(func() { r.Stop(); r.Wait() })
	return New(Deps{Store: db, Generator: orch, Runner: r}), db
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := do(t, s, "GET", "/healthz", "")
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("unexpected health response %d %v", rec.Code, out)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected JSON content type, got %s", ct)
	}
}

func TestGenerateThenReadPost(t *testing.T) {
	s, _ := newTestServer(t)

	rec, out := do(t, s, "POST", "/api/generate", `{"topic":"Mountain trekking"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", rec.Code, out)
	}
	if out["slug"] != "mountain-trekking" || out["decision"] != "create" {
		t.Errorf("unexpected generate response %v", out)
	}

	rec, out = do(t, s, "GET", "/api/posts/mountain-trekking", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(out["body_html"].(string), "<strong>bold</strong>") {
		t.Errorf("expected rendered body_html, got %v", out["body_html"])
	}
	if out["canonical_url"] != "https://example.com/artykuly/mountain-trekking" {
		t.Errorf("unexpected canonical %v", out["canonical_url"])
	}

	rec, out = do(t, s, "GET", "/api/posts?q=trekking", "")
	if rec.Code != http.StatusOK || out["total_items"].(float64) != 1 {
		t.Fatalf("unexpected listing %d %v", rec.Code, out)
	}
	item := out["items"].([]any)[0].(map[string]any)
	if _, ok := item["body_html"]; ok {
		t.Error("listing should not carry body_html")
	}
}

func TestGetPostNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := do(t, s, "GET", "/api/posts/missing", "")
	if rec.Code != http.StatusNotFound || out["kind"] != "not_found" {
		t.Errorf("expected 404 not_found, got %d %v", rec.Code, out)
	}
}

func TestGenerateValidation(t *testing.T) {
	s, _ := newTestServer(t)
	for _, body := range []string{`{}`, `{"topic":"a","video_url":"https://youtu.be/AAAAAAAAAAA"}`, `not json`, `{"unknown":1}`} {
		rec, out := do(t, s, "POST", "/api/generate", body)
		if rec.Code != http.StatusBadRequest || out["kind"] != "validation" {
			t.Errorf("body %s: expected 400 validation, got %d %v", body, rec.Code, out)
		}
	}
}

func TestQueueAndRunner(t *testing.T) {
	s, db := newTestServer(t)
	ctx := context.Background()

	rec, out := do(t, s, "POST", "/api/queue", `{"topic":"Evening stretch"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %v", rec.Code, out)
	}
	jobID := int64(out["job_id"].(float64))

	rec, out = do(t, s, "GET", "/api/queue?status=pending", "")
	if rec.Code != http.StatusOK || len(out["items"].([]any)) != 1 {
		t.Fatalf("expected one pending job, got %v", out)
	}

	rec, out = do(t, s, "POST", "/api/runner/start", "")
	if rec.Code != http.StatusOK || out["started"] != true || out["running"] != true {
		t.Fatalf("unexpected start response %v", out)
	}
	_, out = do(t, s, "POST", "/api/runner/start", "")
	if out["started"] != false {
		t.Error("expected second start to be a no-op")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		j, _ := db.GetJob(ctx, jobID)
		if j != nil && j.Status == database.JobDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not done in time: %+v", j)
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, out = do(t, s, "GET", "/api/runner/status", "")
	if out["counts"].(map[string]any)["done"].(float64) != 1 {
		t.Errorf("expected one done job, got %v", out["counts"])
	}

	_, out = do(t, s, "POST", "/api/runner/stop", "")
	if out["stopped"] != true {
		t.Errorf("expected stop to report true, got %v", out)
	}
}

func TestRunnerStartConflictsWithLockHolder(t *testing.T) {
	db := openTestDB(t)
	path := filepath.Join(t.TempDir(), "postforge.lock")
	holder := flock.New(path)
	if ok, err := holder.TryLock(); !ok || err != nil {
		t.Fatalf("failed to take lock: %v", err)
	}
	defer holder.Unlock()

	orch := newOrchestrator(db)
	r := runner.New(db, orch, runner.Options{PollInterval: 10 * time.Millisecond, Lock: flock.New(path)}, nil)
	t.Cleanup(func() { r.Stop(); r.Wait() })
	s := New(Deps{Store: db, Generator: orch, Runner: r})

	rec, out := do(t, s, "POST", "/api/runner/start", "")
	if rec.Code != http.StatusConflict || out["kind"] != "conflict" {
		t.Fatalf("expected 409 conflict, got %d %v", rec.Code, out)
	}
	_, out = do(t, s, "GET", "/api/runner/status", "")
	if out["running"] != false {
		t.Errorf("expected runner to stay stopped, got %v", out)
	}
}

func TestQueueRejectsUnknownStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := do(t, s, "GET", "/api/queue?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestUnconfiguredRoutes(t *testing.T) {
	s := New(Deps{Store: openTestDB(t)})
	for _, path := range []string{"/api/runner/status", "/api/runner/start"} {
		method := "GET"
		if strings.HasSuffix(path, "start") {
			method = "POST"
		}
		rec, _ := do(t, s, method, path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, rec.Code)
		}
	}
	rec, _ := do(t, s, "POST", "/api/generate", `{"topic":"x"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for generate, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("DELETE", "/api/posts", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(context.DeadlineExceeded); got != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", got)
	}
	_, err := article.ParseVideoID("not a video")
	if got := statusFor(err); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}
