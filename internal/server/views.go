package server

import (
	"time"

	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
)

type postView struct {
	ID        int64              `json:"id"`
	Slug      string             `json:"slug"`
	Title     string             `json:"title"`
	Lead      string             `json:"lead"`
	Section   string             `json:"section"`
	Body      string             `json:"body,omitempty"`
	BodyHTML  string             `json:"body_html,omitempty"`
	FAQ       []article.FAQ      `json:"faq"`
	Citations []article.Citation `json:"citations"`
	Tags      []string           `json:"tags"`
	Canonical string             `json:"canonical_url"`
	SourceKey string             `json:"source_key,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func newPostView(p *database.Post, full bool) postView {
	v := postView{
		ID:        p.ID,
		Slug:      p.Slug,
		Title:     p.Title,
		Lead:      p.Lead,
		Section:   p.Section,
		FAQ:       nonNil(p.FAQ),
		Citations: nonNil(p.Citations),
		Tags:      nonNil(p.Tags),
		Canonical: p.Canonical,
		SourceKey: p.SourceKey,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if full {
		v.Body = p.Body
		v.BodyHTML = article.RenderHTML(p.Body)
	}
	return v
}

type jobView struct {
	ID         int64              `json:"id"`
	Status     database.JobStatus `json:"status"`
	Request    article.Request    `json:"request"`
	ArticleID  *int64             `json:"article_id,omitempty"`
	Error      string             `json:"error,omitempty"`
	ClaimedBy  string             `json:"claimed_by,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

func newJobView(j database.Job) jobView {
	return jobView{
		ID:         j.ID,
		Status:     j.Status,
		Request:    j.Request,
		ArticleID:  j.ArticleID,
		Error:      j.Error,
		ClaimedBy:  j.ClaimedBy,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
