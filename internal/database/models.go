package database

import (
	"time"

	"github.com/TobiSchelling/postforge/internal/article"
)

// Post is a persisted article: the structured payload plus its denormalized
// projection (title, lead, rendered body, faq, citations, tags).
type Post struct {
	ID        int64
	Slug      string
	Title     string
	Lead      string
	Section   string
	Body      string
	FAQ       []article.FAQ
	Citations []article.Citation
	Tags      []string
	Payload   *article.Document
	SourceKey string
	Canonical string
	CreatedAt time.Time
	UpdatedAt time.Time
	// DecodeErr is set on listed posts whose stored JSON could not be
	// decoded. Payload is nil when the payload itself is unreadable.
	DecodeErr error
}

// PostFromDocument builds an unsaved post whose projection is derived from doc.
func PostFromDocument(doc *article.Document) *Post {
	p := &Post{Payload: doc}
	p.syncFromPayload()
	return p
}

// syncFromPayload rewrites every projected column from Payload.
func (p *Post) syncFromPayload() {
	if p.Payload == nil {
		return
	}
	d := p.Payload
	p.Slug = d.SEO.Slug
	p.Title = d.Title
	p.Lead = d.Lead
	p.Section = d.Section
	p.Body = article.RenderBody(d.Sections)
	p.FAQ = d.FAQ
	p.Citations = d.Citations
	p.Tags = d.Tags
	p.SourceKey = d.SourceKey()
	p.Canonical = d.SEO.Canonical
}

// PostFilter selects a page of posts.
type PostFilter struct {
	Page    int
	PerPage int
	Search  string
	Section string
}

// PostPage is one page of a post listing.
type PostPage struct {
	Items      []Post
	Page       int
	PerPage    int
	TotalItems int
	TotalPages int
}

// PostCursor marks a keyset position in (updated_at, id) order.
type PostCursor struct {
	UpdatedAt time.Time
	ID        int64
}

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a queued generation request.
type Job struct {
	ID         int64
	Status     JobStatus
	Request    article.Request
	ArticleID  *int64
	Error      string
	ClaimedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// JobCounts holds the number of jobs per status.
type JobCounts struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Total returns the number of jobs in any state.
func (c JobCounts) Total() int {
	return c.Pending + c.Running + c.Done + c.Failed
}

// Rubric is a taxonomy entry posts are filed under.
type Rubric struct {
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalPosts    int
	PostsWithData int
	Rubrics       int
	Jobs          JobCounts
}
