package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
)

func TestEnqueueAndClaimOldestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	clock := fixedClock(db, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	first, _ := db.EnqueueJob(ctx, article.Request{Topic: "first"})
	*clock = clock.Add(time.Second)
	db.EnqueueJob(ctx, article.Request{Topic: "second"})

	job, err := db.ClaimNextJob(ctx, "runner-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job == nil || job.ID != first {
		t.Fatalf("expected job %d, got %+v", first, job)
	}
	if job.Status != JobRunning || job.ClaimedBy != "runner-a" || job.StartedAt == nil {
		t.Errorf("unexpected claimed job %+v", job)
	}
	if job.Request.Topic != "first" {
		t.Errorf("expected decoded request, got %+v", job.Request)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	db := openTestDB(t)
	job, err := db.ClaimNextJob(context.Background(), "runner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job, got %+v", job)
	}
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	const jobs = 20
	for i := 0; i < jobs; i++ {
		if _, err := db.EnqueueJob(ctx, article.Request{Topic: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = map[int64]string{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		worker := fmt.Sprintf("w%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := db.ClaimNextJob(ctx, worker)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[job.ID]; dup {
					t.Errorf("job %d claimed by %s and %s", job.ID, prev, worker)
				}
				claimed[job.ID] = worker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Errorf("expected %d claimed jobs, got %d", jobs, len(claimed))
	}
}

func TestCompleteAndFailTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	postID, _ := db.InsertPost(ctx, PostFromDocument(testDoc("linked")))
	okID, _ := db.EnqueueJob(ctx, article.Request{Topic: "ok"})
	badID, _ := db.EnqueueJob(ctx, article.Request{Topic: "bad"})

	// pending jobs cannot finish
	if err := db.CompleteJob(ctx, okID, postID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for pending job, got %v", err)
	}

	db.ClaimNextJob(ctx, "r")
	db.ClaimNextJob(ctx, "r")

	if err := db.CompleteJob(ctx, okID, postID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := db.FailJob(ctx, badID, "generator exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	done, _ := db.GetJob(ctx, okID)
	if done.Status != JobDone || done.ArticleID == nil || *done.ArticleID != postID || done.FinishedAt == nil {
		t.Errorf("unexpected done job %+v", done)
	}
	failed, _ := db.GetJob(ctx, badID)
	if failed.Status != JobFailed || failed.Error != "generator exploded" {
		t.Errorf("unexpected failed job %+v", failed)
	}

	// finished jobs are immutable
	if err := db.FailJob(ctx, okID, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for done job, got %v", err)
	}
	if err := db.CompleteJob(ctx, badID, postID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for failed job, got %v", err)
	}
	if err := db.FailJob(ctx, 9999, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJobCountsAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		db.EnqueueJob(ctx, article.Request{Topic: fmt.Sprintf("t%d", i)})
	}
	job, _ := db.ClaimNextJob(ctx, "r")
	db.FailJob(ctx, job.ID, "boom")
	db.ClaimNextJob(ctx, "r")

	counts, err := db.JobCounts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts.Pending != 1 || counts.Running != 1 || counts.Failed != 1 || counts.Total() != 3 {
		t.Errorf("unexpected counts %+v", counts)
	}

	failed, _ := db.ListJobs(ctx, JobFailed, 10)
	if len(failed) != 1 || failed[0].ID != job.ID {
		t.Errorf("unexpected failed list %+v", failed)
	}
	all, _ := db.ListJobs(ctx, "", 10)
	if len(all) != 3 {
		t.Errorf("expected 3 jobs, got %d", len(all))
	}
}
