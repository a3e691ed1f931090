// Package normalize turns draft documents into publication-ready ones.
package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
)

const (
	titleCap       = 60
	descriptionCap = 160
	slugAttempts   = 50
)

// SlugLookup reports whether a slug is already taken by a persisted post.
type SlugLookup interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// RubricLookup resolves a rubric code to its display name.
type RubricLookup interface {
	ResolveRubric(ctx context.Context, code string) (name string, ok bool, err error)
}

// Config holds the site-level settings normalization depends on.
type Config struct {
	BaseURL         string
	ArticlePath     string
	DefaultRubric   string
	ExcludedDomains []string
}

// Options tune a single normalization.
type Options struct {
	// ReuseSlug carries an existing slug forward unchanged. It is never
	// checked against the lookup.
	ReuseSlug         string
	CanonicalOverride string
	RubricCode        string
	// FallbackTitle seeds the slug when the title folds to nothing.
	FallbackTitle string
}

// Normalizer applies slug, SEO, section, FAQ and citation hygiene.
type Normalizer struct {
	slugs   SlugLookup
	rubrics RubricLookup
	cfg     Config
}

// New creates a Normalizer. rubrics may be nil.
func New(slugs SlugLookup, rubrics RubricLookup, cfg Config) *Normalizer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.ArticlePath = strings.Trim(cfg.ArticlePath, "/")
	return &Normalizer{slugs: slugs, rubrics: rubrics, cfg: cfg}
}

// Normalize returns a publication-ready copy of draft. draft is not modified.
func (n *Normalizer) Normalize(ctx context.Context, draft *article.Document, opts Options) (*article.Document, error) {
	if draft == nil {
		return nil, apperr.Wrap(apperr.ErrValidation, "nil draft")
	}
	doc := draft.Clone()
	doc.Version = article.DocumentVersion

	doc.Title = softCap(doc.Title, titleCap)
	doc.Lead = softCap(doc.Lead, titleCap)
	if strings.TrimSpace(doc.SEO.Title) == "" {
		doc.SEO.Title = doc.Title
	}
	doc.SEO.Title = softCap(doc.SEO.Title, titleCap)
	if strings.TrimSpace(doc.SEO.Description) == "" {
		doc.SEO.Description = doc.Lead
	}
	doc.SEO.Description = softCap(doc.SEO.Description, descriptionCap)

	doc.Sections = CleanSections(doc.Sections)
	if len(doc.Sections) == 0 {
		return nil, apperr.Wrap(apperr.ErrValidation, "no non-empty sections after cleanup")
	}
	doc.FAQ = MergeFAQ(nil, doc.FAQ)
	doc.Citations = CleanCitations(doc.Citations, n.cfg.ExcludedDomains)
	doc.Tags = cleanTags(doc.Tags)
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	if err := n.applyRubric(ctx, doc, opts.RubricCode); err != nil {
		return nil, err
	}
	if err := n.assignSlug(ctx, doc, opts); err != nil {
		return nil, err
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Reslug re-runs slug disambiguation on an already normalized document, used
// after an insert lost a race for its slug.
func (n *Normalizer) Reslug(ctx context.Context, doc *article.Document, opts Options) (*article.Document, error) {
	out := doc.Clone()
	opts.ReuseSlug = ""
	if err := n.assignSlug(ctx, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Canonical builds the public URL of slug.
func (n *Normalizer) Canonical(slug string) string {
	if n.cfg.ArticlePath == "" {
		return n.cfg.BaseURL + "/" + slug
	}
	return n.cfg.BaseURL + "/" + n.cfg.ArticlePath + "/" + slug
}

func (n *Normalizer) assignSlug(ctx context.Context, doc *article.Document, opts Options) error {
	slug := strings.TrimSpace(opts.ReuseSlug)
	if slug == "" {
		base := baseSlug(doc.Title, doc.SEO.Slug, opts.FallbackTitle)
		var err error
		slug, err = n.uniqueSlug(ctx, base)
		if err != nil {
			return err
		}
	}
	doc.SEO.Slug = slug

	switch {
	case strings.TrimSpace(opts.CanonicalOverride) != "":
		doc.SEO.Canonical = strings.TrimSpace(opts.CanonicalOverride)
	default:
		doc.SEO.Canonical = n.Canonical(slug)
	}
	return nil
}

func baseSlug(candidates ...string) string {
	for _, c := range candidates {
		if s := Slugify(c); s != "" {
			return s
		}
	}
	return "article"
}

// uniqueSlug tries base, then base-2, base-3 and so on.
func (n *Normalizer) uniqueSlug(ctx context.Context, base string) (string, error) {
	for attempt := 1; attempt <= slugAttempts; attempt++ {
		candidate := base
		if attempt > 1 {
			suffix := fmt.Sprintf("-%d", attempt)
			candidate = truncateSlug(base, maxSlugLen-len(suffix)) + suffix
		}
		if n.slugs == nil {
			return candidate, nil
		}
		taken, err := n.slugs.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("checking slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperr.Wrap(apperr.ErrValidation, "slug %q still taken after %d attempts", base, slugAttempts)
}

func (n *Normalizer) applyRubric(ctx context.Context, doc *article.Document, code string) error {
	doc.Section = strings.TrimSpace(doc.Section)
	if code != "" && n.rubrics != nil {
		name, ok, err := n.rubrics.ResolveRubric(ctx, code)
		if err != nil {
			return fmt.Errorf("resolving rubric %q: %w", code, err)
		}
		if ok {
			doc.Section = name
			return nil
		}
	}
	if doc.Section == "" {
		doc.Section = n.cfg.DefaultRubric
	}
	return nil
}

// softCap shortens s to at most limit runes, cutting at the last word boundary.
// A single word longer than limit is cut hard.
func softCap(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if r[limit] != ' ' {
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, " ,;:-")
}

func cleanTags(tags []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
