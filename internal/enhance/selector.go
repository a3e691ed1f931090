// Package enhance enriches stale posts with fresh research, new sections and
// FAQ entries.
package enhance

import (
	"context"
	"iter"
	"time"

	"github.com/TobiSchelling/postforge/internal/database"
)

// DefaultStaleAfter is the age past which a post becomes a candidate.
const DefaultStaleAfter = 15 * 24 * time.Hour

const selectPageSize = 50

// PostSource pages through posts eligible for enhancement.
type PostSource interface {
	StalePosts(ctx context.Context, cutoff time.Time, after *database.PostCursor, limit int) ([]database.Post, error)
}

// Selector lists stale posts.
type Selector struct {
	store    PostSource
	pageSize int
}

// NewSelector creates a Selector over store.
func NewSelector(store PostSource) *Selector {
	return &Selector{store: store, pageSize: selectPageSize}
}

func staleCutoff(now time.Time, staleAfter time.Duration) time.Time {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return now.Add(-staleAfter)
}

// SelectCandidates yields every post with a payload last updated at or before
// now-staleAfter, oldest first. Pages are fetched lazily; each range starts
// over from the oldest post. A store error is yielded once and ends the
// sequence.
func (s *Selector) SelectCandidates(ctx context.Context, now time.Time, staleAfter time.Duration) iter.Seq2[database.Post, error] {
	cutoff := staleCutoff(now, staleAfter)
	return func(yield func(database.Post, error) bool) {
		var cursor *database.PostCursor
		for {
			page, err := s.store.StalePosts(ctx, cutoff, cursor, s.pageSize)
			if err != nil {
				yield(database.Post{}, err)
				return
			}
			for _, p := range page {
				if !yield(p, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &database.PostCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
		}
	}
}
