package enhance

import (
	"context"
	"errors"
	"fmt"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/logger"
	"github.com/TobiSchelling/postforge/internal/normalize"
	"github.com/TobiSchelling/postforge/internal/research"
)

// Store persists enhanced posts.
type Store interface {
	UpdatePost(ctx context.Context, p *database.Post) error
}

// Researcher finds ranked sources for a document.
type Researcher interface {
	Run(ctx context.Context, doc *article.Document) (*research.Result, error)
}

// Pipeline enhances a single post.
type Pipeline struct {
	store      Store
	research   Researcher
	writer     Writer
	normalizer *normalize.Normalizer
	log        *logger.Logger
}

// PipelineDeps groups the pipeline's collaborators. Research may be nil.
type PipelineDeps struct {
	Store      Store
	Research   Researcher
	Writer     Writer
	Normalizer *normalize.Normalizer
	Log        *logger.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(d PipelineDeps) *Pipeline {
	log := d.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		store:      d.Store,
		research:   d.Research,
		writer:     d.Writer,
		normalizer: d.Normalizer,
		log:        log.Component("enhance"),
	}
}

// Enhance researches post, asks the writer for additions and persists the
// re-normalized result under the same slug. It returns (nil, nil) when there
// is nothing to add. Research failures only degrade the writer's context; a
// writer failure leaves the post untouched.
func (p *Pipeline) Enhance(ctx context.Context, post *database.Post) (*database.Post, error) {
	if post == nil || post.Payload == nil {
		return nil, apperr.Wrap(apperr.ErrValidation, "post has no payload")
	}
	doc := post.Payload.Clone()
	log := p.log.With("slug", post.Slug)

	var summary string
	var researched []article.Citation
	if p.research != nil {
		res, err := p.research.Run(ctx, doc)
		if err != nil {
			log.Warn("research unavailable", "kind", apperr.Kind(err), "error", err)
		} else {
			summary = res.Summary
			researched = research.Citations(res.Sources)
		}
	}

	merge := MergeCitations(doc.Citations, researched)
	add, err := p.writer.Write(ctx, WriterInput{
		Document:      doc,
		Citations:     merge.Citations,
		Supplementary: merge.Supplementary,
		Summary:       summary,
	})
	if err != nil {
		if !errors.Is(err, apperr.ErrWriter) {
			err = apperr.WrapErr(apperr.ErrWriter, "writer", err)
		}
		return nil, err
	}
	if add == nil {
		add = &Additions{}
	}

	faq := normalize.MergeFAQ(doc.FAQ, add.FAQ)
	sectionsAdded := len(add.Sections) > 0
	faqAdded := len(faq) > len(normalize.MergeFAQ(doc.FAQ, nil))
	if !sectionsAdded && !faqAdded && merge.Kind == Keep {
		log.Debug("nothing to add")
		return nil, nil
	}

	if sectionsAdded {
		doc.Sections = append(doc.Sections, add.Sections...)
	}
	doc.FAQ = faq
	if merge.Kind != Keep {
		doc.Citations = merge.Citations
	}

	normalized, err := p.normalizer.Normalize(ctx, doc, normalize.Options{ReuseSlug: post.Slug})
	if err != nil {
		return nil, fmt.Errorf("normalizing %s: %w", post.Slug, err)
	}
	updated := database.PostFromDocument(normalized)
	updated.ID = post.ID
	updated.CreatedAt = post.CreatedAt
	if err := p.store.UpdatePost(ctx, updated); err != nil {
		return nil, fmt.Errorf("updating %s: %w", post.Slug, err)
	}

	log.Info("post enhanced", "post_id", post.ID, "sections_added", len(normalized.Sections)-len(post.Payload.Sections),
		"faq", len(normalized.FAQ), "citations", merge.Kind.String())
	return updated, nil
}
