// Package server exposes posts, generation, the job queue and the runner
// over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/generate"
	"github.com/TobiSchelling/postforge/internal/logger"
	"github.com/TobiSchelling/postforge/internal/runner"
)

const maxBodyBytes = 1 << 20

// Store is the persistence the API reads and queues through.
type Store interface {
	ListPosts(ctx context.Context, f database.PostFilter) (*database.PostPage, error)
	FindPostBySlug(ctx context.Context, slug string) (*database.Post, error)
	EnqueueJob(ctx context.Context, req article.Request) (int64, error)
	ListJobs(ctx context.Context, status database.JobStatus, limit int) ([]database.Job, error)
}

// Generator publishes a request synchronously.
type Generator interface {
	GenerateAndPublish(ctx context.Context, req article.Request) (*generate.Outcome, error)
}

// Runner is the background queue processor.
type Runner interface {
	Start(ctx context.Context) (bool, error)
	Stop() bool
	Status(ctx context.Context) (runner.Status, error)
}

// Deps groups the server's collaborators. Generator and Runner may be nil, in
// which case their routes answer 503.
type Deps struct {
	Store     Store
	Generator Generator
	Runner    Runner
	// Context scopes a runner started through the API. Defaults to Background.
	Context         context.Context
	GenerateTimeout time.Duration
	Log             *logger.Logger
}

// Server is the HTTP API.
type Server struct {
	store     Store
	generator Generator
	runner    Runner
	baseCtx   context.Context
	timeout   time.Duration
	log       *logger.Logger
	mux       *http.ServeMux
}

// New creates a Server.
func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = logger.NewNop()
	}
	ctx := d.Context
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := d.GenerateTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Server{
		store:     d.Store,
		generator: d.Generator,
		runner:    d.Runner,
		baseCtx:   ctx,
		timeout:   timeout,
		log:       log.Component("server"),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/posts", s.handleListPosts)
	s.mux.HandleFunc("GET /api/posts/{slug}", s.handleGetPost)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/queue", s.handleEnqueue)
	s.mux.HandleFunc("GET /api/queue", s.handleListJobs)
	s.mux.HandleFunc("POST /api/runner/start", s.handleRunnerStart)
	s.mux.HandleFunc("POST /api/runner/stop", s.handleRunnerStop)
	s.mux.HandleFunc("GET /api/runner/status", s.handleRunnerStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.store.ListPosts(r.Context(), database.PostFilter{
		Page:    atoiDefault(q.Get("page"), 1),
		PerPage: atoiDefault(q.Get("per_page"), 0),
		Search:  q.Get("q"),
		Section: q.Get("section"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]postView, 0, len(page.Items))
	for _, p := range page.Items {
		items = append(items, newPostView(&p, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"page":        page.Page,
		"per_page":    page.PerPage,
		"total_items": page.TotalItems,
		"total_pages": page.TotalPages,
	})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	p, err := s.store.FindPostBySlug(r.Context(), slug)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, apperr.Wrap(apperr.ErrNotFound, "post %q", slug))
		return
	}
	writeJSON(w, http.StatusOK, newPostView(p, true))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeMessage(w, http.StatusServiceUnavailable, "generation is not configured")
		return
	}
	var req article.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	out, err := s.generator.GenerateAndPublish(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.Decision.Kind == generate.UpdateExisting {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"post_id":  out.PostID,
		"slug":     out.Document.SEO.Slug,
		"decision": out.Decision.Kind.String(),
		"document": out.Document,
	})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req article.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Clean(); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.store.EnqueueJob(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": database.JobPending})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := database.JobStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", database.JobPending, database.JobRunning, database.JobDone, database.JobFailed:
	default:
		s.writeError(w, r, apperr.Wrap(apperr.ErrValidation, "unknown status %q", status))
		return
	}
	jobs, err := s.store.ListJobs(r.Context(), status, atoiDefault(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, newJobView(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRunnerStart(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeMessage(w, http.StatusServiceUnavailable, "runner is not configured")
		return
	}
	started, err := s.runner.Start(s.baseCtx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRunnerStatus(w, r, map[string]any{"started": started})
}

func (s *Server) handleRunnerStop(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeMessage(w, http.StatusServiceUnavailable, "runner is not configured")
		return
	}
	stopped := s.runner.Stop()
	s.writeRunnerStatus(w, r, map[string]any{"stopped": stopped})
}

func (s *Server) handleRunnerStatus(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeMessage(w, http.StatusServiceUnavailable, "runner is not configured")
		return
	}
	s.writeRunnerStatus(w, r, map[string]any{})
}

func (s *Server) writeRunnerStatus(w http.ResponseWriter, r *http.Request, extra map[string]any) {
	st, err := s.runner.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	extra["running"] = st.Running
	extra["session_id"] = st.SessionID
	extra["processed"] = st.Processed
	extra["failed"] = st.Failed
	extra["last_error"] = st.LastError
	extra["counts"] = map[string]int{
		"pending": st.Counts.Pending,
		"running": st.Counts.Running,
		"done":    st.Counts.Done,
		"failed":  st.Counts.Failed,
	}
	writeJSON(w, http.StatusOK, extra)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.WrapErr(apperr.ErrValidation, "invalid request body", err)
	}
	return nil
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrTransport), errors.Is(err, apperr.ErrSchema),
		errors.Is(err, apperr.ErrGeneration), errors.Is(err, apperr.ErrWriter):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", apperr.Kind(err), "error", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": apperr.Kind(err)})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// Serve listens on 127.0.0.1:port until ctx is done, then shuts down.
func Serve(ctx context.Context, handler http.Handler, port int, log *logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}
