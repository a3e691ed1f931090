// Package feed plans generation jobs from YouTube channel feeds and URL lists.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/config"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/logger"
)

const maxPerFeed = 20

// PostLookup reports whether a source was already published.
type PostLookup interface {
	FindPostBySourceKey(ctx context.Context, key string) (*database.Post, error)
}

// Entry is one planned video.
type Entry struct {
	VideoID   string
	Title     string
	Published string
	Channel   string
	Request   article.Request
}

// Planner turns channel feeds into generation requests.
type Planner struct {
	feeds  []config.Feed
	posts  PostLookup
	parser *gofeed.Parser
	log    *logger.Logger
}

// NewPlanner creates a planner over feeds.
func NewPlanner(feeds []config.Feed, posts PostLookup, log *logger.Logger) *Planner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Planner{feeds: feeds, posts: posts, parser: gofeed.NewParser(), log: log.Component("feed")}
}

// Plan lists videos published within daysBack across every feed that have not
// been published yet. daysBack <= 0 disables the window. A feed that fails to
// parse is logged and skipped.
func (p *Planner) Plan(ctx context.Context, now time.Time, daysBack int) ([]Entry, error) {
	var cutoff time.Time
	if daysBack > 0 {
		cutoff = now.AddDate(0, 0, -daysBack)
	}

	var planned []Entry
	seen := make(map[string]struct{})
	for _, fc := range p.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}
		feed, err := p.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return planned, ctx.Err()
			}
			p.log.Warn("feed unavailable", "url", fc.URL, "error", err)
			continue
		}

		count := 0
		for _, item := range feed.Items {
			if count >= maxPerFeed {
				break
			}
			e := parseItem(item, name)
			if e == nil || !isWithinWindow(item, cutoff) {
				continue
			}
			if _, dup := seen[e.VideoID]; dup {
				continue
			}
			seen[e.VideoID] = struct{}{}

			existing, err := p.posts.FindPostBySourceKey(ctx, article.SourceKeyForVideo(e.VideoID))
			if err != nil {
				return planned, fmt.Errorf("checking video %s: %w", e.VideoID, err)
			}
			if existing != nil {
				continue
			}
			e.Request = article.Request{VideoURL: watchURL(e.VideoID), RubricCode: fc.Rubric}
			planned = append(planned, *e)
			count++
		}
		p.log.Info("feed planned", "channel", name, "new_videos", count)
	}
	return planned, nil
}

func parseItem(item *gofeed.Item, channel string) *Entry {
	id := ytVideoID(item)
	if id == "" {
		for _, ref := range []string{item.Link, item.GUID} {
			if v, err := article.ParseVideoID(ref); err == nil {
				id = v
				break
			}
		}
	}
	if id == "" {
		return nil
	}
	e := &Entry{VideoID: id, Title: strings.TrimSpace(item.Title), Channel: channel}
	if t := publishedAt(item); t != nil {
		e.Published = t.Format("2006-01-02")
	}
	return e
}

// ytVideoID reads the yt:videoId element of YouTube Atom feeds.
func ytVideoID(item *gofeed.Item) string {
	yt, ok := item.Extensions["yt"]
	if !ok {
		return ""
	}
	for _, ext := range yt["videoId"] {
		if v := strings.TrimSpace(ext.Value); v != "" {
			if id, err := article.ParseVideoID(v); err == nil {
				return id
			}
		}
	}
	return ""
}

func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

func isWithinWindow(item *gofeed.Item, cutoff time.Time) bool {
	if cutoff.IsZero() {
		return true
	}
	t := publishedAt(item)
	if t == nil {
		return true
	}
	return !t.Before(cutoff)
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// PlanURLs turns a list of video URLs into requests. Blank lines and duplicate
// videos are skipped and http:// is upgraded to https://. Invalid entries are
// reported together while the valid ones are still returned.
func PlanURLs(raw []string, rubric string) ([]article.Request, error) {
	var (
		out  []article.Request
		errs []error
	)
	seen := make(map[string]struct{}, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "http://") {
			line = "https://" + line[len("http://"):]
		}
		id, err := article.ParseVideoID(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, article.Request{VideoURL: line, RubricCode: rubric})
	}
	return out, errors.Join(errs...)
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	if id := u.Query().Get("channel_id"); id != "" {
		return id
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m."} {
		host = strings.TrimPrefix(host, prefix)
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		host = parts[len(parts)-2]
	}
	if host == "" {
		return feedURL
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
