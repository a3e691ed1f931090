// Package runner drains the generation job queue in the background.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/generate"
	"github.com/TobiSchelling/postforge/internal/logger"
)

const (
	maxErrorRunes = 500
	recordTimeout = 10 * time.Second
)

// Queue is the job store the runner claims from.
type Queue interface {
	ClaimNextJob(ctx context.Context, claimedBy string) (*database.Job, error)
	CompleteJob(ctx context.Context, id, articleID int64) error
	FailJob(ctx context.Context, id int64, message string) error
	JobCounts(ctx context.Context) (database.JobCounts, error)
}

// Generator publishes one request.
type Generator interface {
	GenerateAndPublish(ctx context.Context, req article.Request) (*generate.Outcome, error)
}

// Locker guards a database against a second runner process. It is
// satisfied by *flock.Flock.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// Options tune the loop.
type Options struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
	// Lock, when set, is held for as long as the loop runs.
	Lock Locker
}

// Status is a snapshot of the runner.
type Status struct {
	Running   bool
	SessionID string
	Processed int
	Failed    int
	LastError string
	Counts    database.JobCounts
}

// Runner processes one job at a time until stopped. Each instance owns its
// state; start, stop and status are safe for concurrent use.
type Runner struct {
	queue     Queue
	generator Generator
	opts      Options
	log       *logger.Logger

	mu        sync.Mutex
	running   bool
	sessionID string
	stop      chan struct{}
	done      chan struct{}
	processed int
	failed    int
	lastErr   string
}

// New creates a stopped runner.
func New(queue Queue, generator Generator, opts Options, log *logger.Logger) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{queue: queue, generator: generator, opts: opts, log: log.Component("runner")}
}

// Start launches the loop and reports whether it was started by this call.
// Starting a running runner is a no-op. A runner that is still finishing a
// stop is waited for and started again. When the lock is held elsewhere Start
// fails with ErrConflict.
func (r *Runner) Start(ctx context.Context) (bool, error) {
	r.mu.Lock()
	for r.running && r.stop == nil {
		done := r.done
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		r.mu.Lock()
	}
	defer r.mu.Unlock()
	if r.running {
		return false, nil
	}

	if l := r.opts.Lock; l != nil {
		ok, err := l.TryLock()
		if err != nil {
			return false, fmt.Errorf("acquiring runner lock: %w", err)
		}
		if !ok {
			return false, apperr.Wrap(apperr.ErrConflict, "another runner holds the queue lock")
		}
	}

	r.running = true
	r.sessionID = uuid.NewString()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(ctx, r.sessionID, r.stop, r.done)
	r.log.Info("runner started", "session", r.sessionID)
	return true, nil
}

// Stop asks the loop to exit after its current job. It reports whether a
// running loop was signalled.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stop == nil {
		return false
	}
	close(r.stop)
	r.stop = nil
	r.log.Info("runner stop requested", "session", r.sessionID)
	return true
}

// Wait blocks until the current loop, if any, has exited.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the running flag, session counters and job counts.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	r.mu.Lock()
	s := Status{
		Running:   r.running,
		SessionID: r.sessionID,
		Processed: r.processed,
		Failed:    r.failed,
		LastError: r.lastErr,
	}
	r.mu.Unlock()

	counts, err := r.queue.JobCounts(ctx)
	if err != nil {
		return s, fmt.Errorf("reading job counts: %w", err)
	}
	s.Counts = counts
	return s, nil
}

func (r *Runner) loop(ctx context.Context, session string, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		if l := r.opts.Lock; l != nil {
			if err := l.Unlock(); err != nil {
				r.log.Warn("releasing runner lock failed", "error", err)
			}
		}
		r.mu.Lock()
		r.running = false
		r.stop = nil
		r.mu.Unlock()
		close(done)
		r.log.Info("runner stopped", "session", session)
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := r.queue.ClaimNextJob(ctx, session)
		if err != nil {
			r.setLastError(err.Error())
			r.log.Error("claiming job failed", "error", err)
			if !r.wait(ctx, stop) {
				return
			}
			continue
		}
		if job == nil {
			if !r.wait(ctx, stop) {
				return
			}
			continue
		}

		r.process(ctx, job)
	}
}

// wait sleeps one poll interval and reports false when the loop should exit.
func (r *Runner) wait(ctx context.Context, stop <-chan struct{}) bool {
	timer := time.NewTimer(r.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) process(ctx context.Context, job *database.Job) {
	log := r.log.With("job_id", job.ID, "source", job.Request.Label())
	log.Info("job claimed")
	started := time.Now()

	outcome, err := r.run(ctx, job)

	// Outcomes are recorded even if ctx was cancelled mid-job.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err != nil {
		msg := truncate(err.Error(), maxErrorRunes)
		if ferr := r.queue.FailJob(recordCtx, job.ID, msg); ferr != nil {
			log.Error("recording job failure failed", "error", ferr)
		}
		r.mu.Lock()
		r.processed++
		r.failed++
		r.lastErr = msg
		r.mu.Unlock()
		log.Warn("job failed", "kind", apperr.Kind(err), "error", err)
		return
	}

	if cerr := r.queue.CompleteJob(recordCtx, job.ID, outcome.PostID); cerr != nil {
		log.Error("recording job completion failed", "error", cerr)
	}
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
	log.Info("job done",
		"post_id", outcome.PostID,
		"slug", outcome.Document.SEO.Slug,
		"decision", outcome.Decision.Kind.String(),
		"secs", time.Since(started).Seconds(),
	)
}

// run executes one job under the job timeout, turning panics into errors.
func (r *Runner) run(ctx context.Context, job *database.Job) (outcome *generate.Outcome, err error) {
	jobCtx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			outcome = nil
			err = fmt.Errorf("panic during generation: %v", p)
		}
	}()
	outcome, err = r.generator.GenerateAndPublish(jobCtx, job.Request)
	if err == nil && outcome == nil {
		err = fmt.Errorf("generator returned no outcome")
	}
	return outcome, err
}

func (r *Runner) setLastError(msg string) {
	r.mu.Lock()
	r.lastErr = msg
	r.mu.Unlock()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
