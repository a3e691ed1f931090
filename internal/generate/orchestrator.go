// Package generate turns generation requests into published posts.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/fetch"
	"github.com/TobiSchelling/postforge/internal/logger"
	"github.com/TobiSchelling/postforge/internal/normalize"
)

// TranscriptProvider fetches the transcript of a video.
type TranscriptProvider interface {
	Fetch(ctx context.Context, videoURL string) (string, error)
}

// ArticleGenerator produces a raw JSON draft from a brief.
type ArticleGenerator interface {
	Generate(ctx context.Context, b Brief) ([]byte, error)
}

// ReferenceFetcher extracts the readable text of a reference page.
type ReferenceFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	normalize.SlugLookup
	normalize.RubricLookup
	FindPostBySourceKey(ctx context.Context, key string) (*database.Post, error)
	InsertPost(ctx context.Context, p *database.Post) (int64, error)
	UpdatePost(ctx context.Context, p *database.Post) error
}

// DecisionKind says whether a generation creates a post or rewrites one.
type DecisionKind int

const (
	CreateNew DecisionKind = iota
	UpdateExisting
)

func (k DecisionKind) String() string {
	if k == UpdateExisting {
		return "update"
	}
	return "create"
}

// Decision is computed once per request from the dedup lookup.
type Decision struct {
	Kind      DecisionKind
	PostID    int64
	Slug      string
	Section   string
	CreatedAt time.Time
}

// Outcome is the result of a successful generation.
type Outcome struct {
	Document *article.Document
	PostID   int64
	Decision Decision
}

// Orchestrator resolves the source, drives the generator, normalizes the
// draft and persists exactly one post.
type Orchestrator struct {
	store       Store
	transcripts TranscriptProvider
	generator   ArticleGenerator
	references  ReferenceFetcher
	normalizer  *normalize.Normalizer
	rubric      string
	log         *logger.Logger
}

// Deps groups the orchestrator's collaborators. References may be nil.
type Deps struct {
	Store         Store
	Transcripts   TranscriptProvider
	Generator     ArticleGenerator
	References    ReferenceFetcher
	Normalizer    *normalize.Normalizer
	DefaultRubric string
	Log           *logger.Logger
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		store:       d.Store,
		transcripts: d.Transcripts,
		generator:   d.Generator,
		references:  d.References,
		normalizer:  d.Normalizer,
		rubric:      d.DefaultRubric,
		log:         log.Component("generate"),
	}
}

// GenerateAndPublish runs one request end to end. Nothing is persisted unless
// every step before the write succeeds. Failures are returned, never retried,
// except for one re-slug after a lost insert race.
func (o *Orchestrator) GenerateAndPublish(ctx context.Context, req article.Request) (*Outcome, error) {
	if err := req.Clean(); err != nil {
		return nil, err
	}
	log := o.log.With("source", req.Label())
	log.Info("generation started", "mode", modeOf(req))

	var transcript, sourceKey, videoID string
	if req.IsVideo() {
		id, err := req.VideoID()
		if err != nil {
			return nil, err
		}
		videoID = id
		if o.transcripts == nil {
			return nil, apperr.Wrap(apperr.ErrTransport, "no transcript provider configured")
		}
		transcript, err = o.transcripts.Fetch(ctx, req.VideoURL)
		if err != nil {
			return nil, fmt.Errorf("fetching transcript: %w", err)
		}
		sourceKey = article.SourceKeyForVideo(videoID)
	}

	decision, err := o.decide(ctx, sourceKey)
	if err != nil {
		return nil, err
	}

	rubric, err := o.rubricName(ctx, req.RubricCode, decision)
	if err != nil {
		return nil, err
	}
	brief := NewBrief(req, rubric, transcript)
	if decision.Kind == UpdateExisting {
		voice := ExtractVoice(transcript)
		brief.Voice = &voice
	}
	if req.ReferenceURL != "" && o.references != nil {
		page, err := o.references.Fetch(ctx, req.ReferenceURL)
		if err != nil {
			log.Warn("reference unavailable", "url", req.ReferenceURL, "kind", apperr.Kind(err), "error", err)
		} else {
			brief.Reference = page
		}
	}

	raw, err := o.generator.Generate(ctx, brief)
	if err != nil {
		return nil, err
	}
	draft, err := article.DecodeDraft(raw)
	if err != nil {
		return nil, err
	}

	draft.SetSourceKey(sourceKey)
	if src := sourceCitation(req, videoID, brief.Reference); src != nil {
		draft.Citations = append(draft.Citations, *src)
	}
	if decision.Kind == UpdateExisting && req.RubricCode == "" && draft.Section == "" {
		draft.Section = decision.Section
	}

	opts := normalize.Options{
		ReuseSlug:     decision.Slug,
		RubricCode:    req.RubricCode,
		FallbackTitle: fallbackTitle(req, videoID),
	}
	doc, err := o.normalizer.Normalize(ctx, draft, opts)
	if err != nil {
		return nil, err
	}

	postID, doc, err := o.persist(ctx, doc, decision, opts)
	if err != nil {
		return nil, err
	}
	log.Info("generation done", "slug", doc.SEO.Slug, "post_id", postID, "decision", decision.Kind.String())
	return &Outcome{Document: doc, PostID: postID, Decision: decision}, nil
}

func (o *Orchestrator) decide(ctx context.Context, sourceKey string) (Decision, error) {
	if sourceKey == "" {
		return Decision{Kind: CreateNew}, nil
	}
	existing, err := o.store.FindPostBySourceKey(ctx, sourceKey)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up %s: %w", sourceKey, err)
	}
	if existing == nil {
		return Decision{Kind: CreateNew}, nil
	}
	return Decision{
		Kind:      UpdateExisting,
		PostID:    existing.ID,
		Slug:      existing.Slug,
		Section:   existing.Section,
		CreatedAt: existing.CreatedAt,
	}, nil
}

func (o *Orchestrator) rubricName(ctx context.Context, code string, d Decision) (string, error) {
	if code != "" {
		name, ok, err := o.store.ResolveRubric(ctx, code)
		if err != nil {
			return "", fmt.Errorf("resolving rubric %q: %w", code, err)
		}
		if ok {
			return name, nil
		}
	}
	if d.Section != "" {
		return d.Section, nil
	}
	return o.rubric, nil
}

func (o *Orchestrator) persist(ctx context.Context, doc *article.Document, d Decision, opts normalize.Options) (int64, *article.Document, error) {
	if d.Kind == UpdateExisting {
		p := database.PostFromDocument(doc)
		p.ID = d.PostID
		if err := o.store.UpdatePost(ctx, p); err != nil {
			return 0, nil, fmt.Errorf("updating post %d: %w", d.PostID, err)
		}
		return d.PostID, doc, nil
	}

	id, err := o.store.InsertPost(ctx, database.PostFromDocument(doc))
	if err == nil {
		return id, doc, nil
	}
	if !errors.Is(err, apperr.ErrConflict) {
		return 0, nil, err
	}

	o.log.Warn("slug conflict, retrying", "slug", doc.SEO.Slug)
	doc, err = o.normalizer.Reslug(ctx, doc, opts)
	if err != nil {
		return 0, nil, err
	}
	id, err = o.store.InsertPost(ctx, database.PostFromDocument(doc))
	if err != nil {
		return 0, nil, err
	}
	return id, doc, nil
}

// sourceCitation is the video page in video mode, else the reference page.
func sourceCitation(req article.Request, videoID string, ref *fetch.Page) *article.Citation {
	switch {
	case videoID != "":
		return &article.Citation{URL: "https://www.youtube.com/watch?v=" + videoID, Title: "YouTube"}
	case req.ReferenceURL != "":
		c := &article.Citation{URL: req.ReferenceURL}
		if ref != nil {
			c.Title = ref.Title
		}
		return c
	}
	return nil
}

func fallbackTitle(req article.Request, videoID string) string {
	if req.Topic != "" {
		return req.Topic
	}
	if videoID != "" {
		return "video-" + videoID
	}
	return ""
}

func modeOf(req article.Request) string {
	if req.IsVideo() {
		return string(ModeTranscript)
	}
	return string(ModeTopic)
}
