package enhance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/logger"
)

// Enhancer enhances one post.
type Enhancer interface {
	Enhance(ctx context.Context, post *database.Post) (*database.Post, error)
}

// BatchOptions tune a batch run.
type BatchOptions struct {
	// Limit caps the number of posts selected. Zero means no cap.
	Limit int
	// Workers bounds parallel enhancements. Defaults to 1.
	Workers int
	// DryRun lists candidates without enhancing them.
	DryRun     bool
	StaleAfter time.Duration
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Selected  int
	Enhanced  int
	Unchanged int
	Failed    int
	// Slugs lists the selected posts in selection order.
	Slugs []string
}

// PostLookup reloads a post by id.
type PostLookup interface {
	FindPostByID(ctx context.Context, id int64) (*database.Post, error)
}

// Batch drives stale posts through an Enhancer. A single Batch never runs two
// enhancements of the same post at once, even across concurrent Run calls,
// and each enhancement works on the post as stored when its lock is taken.
type Batch struct {
	selector *Selector
	posts    PostLookup
	enhancer Enhancer
	log      *logger.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewBatch creates a Batch.
func NewBatch(selector *Selector, posts PostLookup, enhancer Enhancer, log *logger.Logger) *Batch {
	if log == nil {
		log = logger.NewNop()
	}
	return &Batch{
		selector: selector,
		posts:    posts,
		enhancer: enhancer,
		log:      log.Component("enhance"),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// Run enhances every post stale at now. Per-post failures are logged and
// counted; only a selection error or cancellation ends the run early.
func (b *Batch) Run(ctx context.Context, now time.Time, opts BatchOptions) (BatchResult, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	cutoff := staleCutoff(now, opts.StaleAfter)

	var (
		res   BatchResult
		resMu sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	var selectErr error
	for post, err := range b.selector.SelectCandidates(gctx, now, opts.StaleAfter) {
		if err != nil {
			selectErr = err
			break
		}
		if opts.Limit > 0 && res.Selected >= opts.Limit {
			break
		}
		resMu.Lock()
		res.Selected++
		res.Slugs = append(res.Slugs, post.Slug)
		resMu.Unlock()
		if opts.DryRun {
			continue
		}

		g.Go(func() error {
			updated, err := b.enhanceOne(gctx, post.ID, cutoff)
			resMu.Lock()
			defer resMu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				b.log.Error("enhancement failed", "slug", post.Slug, "post_id", post.ID, "kind", apperr.Kind(err), "error", err)
			case updated == nil:
				res.Unchanged++
			default:
				res.Enhanced++
			}
			return nil
		})
	}

	_ = g.Wait()
	if selectErr != nil {
		return res, selectErr
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	b.log.Info("enhancement batch done", "selected", res.Selected, "enhanced", res.Enhanced,
		"unchanged", res.Unchanged, "failed", res.Failed, "dry_run", opts.DryRun)
	return res, nil
}

// enhanceOne reloads the post under its lock. A post removed or refreshed
// since selection is left alone and reported unchanged.
func (b *Batch) enhanceOne(ctx context.Context, id int64, cutoff time.Time) (*database.Post, error) {
	lock := b.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	post, err := b.posts.FindPostByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reloading post %d: %w", id, err)
	}
	if post == nil || post.UpdatedAt.After(cutoff) {
		b.log.Debug("post no longer stale, skipping", "post_id", id)
		return nil, nil
	}
	return b.enhancer.Enhance(ctx, post)
}

func (b *Batch) lockFor(id int64) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	return l
}
