// Package research finds recent sources for an article through a deep
// research service and ranks them for citation.
package research

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/logger"
	"github.com/TobiSchelling/postforge/internal/normalize"
)

// MaxSources is how many ranked sources a step keeps.
const MaxSources = 5

// Query is what the research service is asked about.
type Query struct {
	Title string
	Lead  string
}

// Source is one researched reference.
type Source struct {
	URL         string
	Title       string
	Description string
	PublishedAt string
	Score       *float64
}

// Result is a research summary plus its sources.
type Result struct {
	Summary string
	Sources []Source
}

// Client runs a deep research query. Failures are apperr.ErrTimeout or
// apperr.ErrTransport.
type Client interface {
	Search(ctx context.Context, q Query) (*Result, error)
}

// StepConfig holds the source filters.
type StepConfig struct {
	ExcludedDomains  []string
	LowQualityTokens []string
}

// Step wraps a Client with filtering and ranking.
type Step struct {
	client Client
	cfg    StepConfig
	log    *logger.Logger
}

// NewStep creates a research step.
func NewStep(client Client, cfg StepConfig, log *logger.Logger) *Step {
	if log == nil {
		log = logger.NewNop()
	}
	return &Step{client: client, cfg: cfg, log: log.Component("research")}
}

// Run researches doc and returns at most MaxSources filtered, ranked sources.
func (s *Step) Run(ctx context.Context, doc *article.Document) (*Result, error) {
	title := strings.TrimSpace(doc.SEO.Title)
	if title == "" {
		title = doc.Title
	}
	res, err := s.client.Search(ctx, Query{Title: title, Lead: doc.Lead})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &Result{}, nil
	}
	out := &Result{Summary: strings.TrimSpace(res.Summary), Sources: s.Filter(res.Sources)}
	s.log.Debug("research done", "slug", doc.SEO.Slug, "raw_sources", len(res.Sources), "kept", len(out.Sources))
	return out, nil
}

// Filter keeps http(s) sources outside the excluded domains and low quality
// hosts, deduplicated, ranked newest then highest score, capped at MaxSources.
func (s *Step) Filter(sources []Source) []Source {
	var kept []Source
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		src.URL = strings.TrimSpace(src.URL)
		if !article.IsWebURL(src.URL) {
			continue
		}
		u, err := url.Parse(src.URL)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if normalize.DomainExcluded(host, s.cfg.ExcludedDomains) || lowQuality(host, s.cfg.LowQualityTokens) {
			continue
		}
		key := normalize.CitationKey(src.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, src)
	}

	slices.SortStableFunc(kept, compareSources)
	if len(kept) > MaxSources {
		kept = kept[:MaxSources]
	}
	return kept
}

// compareSources orders by published date descending, then score descending.
// Missing dates and scores sort last.
func compareSources(a, b Source) int {
	da, aok := ParseDate(a.PublishedAt)
	db, bok := ParseDate(b.PublishedAt)
	switch {
	case aok && bok && !da.Equal(db):
		return db.Compare(da)
	case aok != bok:
		if aok {
			return -1
		}
		return 1
	}
	switch {
	case a.Score != nil && b.Score != nil:
		return cmp.Compare(*b.Score, *a.Score)
	case a.Score != nil:
		return -1
	case b.Score != nil:
		return 1
	}
	return 0
}

func lowQuality(host string, tokens []string) bool {
	for _, t := range tokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" && strings.Contains(host, t) {
			return true
		}
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseDate reads the date formats research services return.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Citations converts sources into article citations.
func Citations(sources []Source) []article.Citation {
	out := make([]article.Citation, 0, len(sources))
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = s.Description
		}
		out = append(out, article.Citation{URL: s.URL, Title: title, PublishedAt: s.PublishedAt, Score: s.Score})
	}
	return out
}

func (q Query) prompt() string {
	return fmt.Sprintf(`Collect the most recent, reliable information related to this article: facts, figures, trends and expert commentary.
Prefer major European and US media, academic and medical institutions, WHO, EU, UNESCO and recognised yoga or ayurveda organisations.
Avoid .ru sources and Russian-language sources.
For every source give its title, a short summary, the URL and the publication date when available.

Topic:
%s

Lead:
%s`, strings.TrimSpace(q.Title), strings.TrimSpace(q.Lead))
}
