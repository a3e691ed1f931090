// Package article holds the structured article document shared by generation,
// enhancement and storage, together with its validation rules.
package article

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

const (
	// FAQMax is the maximum number of FAQ entries a published document carries.
	FAQMax = 4

	// DocumentVersion is written into every payload produced by this package.
	DocumentVersion = 1

	MetaSourceKey = "source_key"
)

// Section is one titled block of the article body.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// FAQ is a question/answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Citation references an external source. Only URL is required.
type Citation struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	Score       *float64 `json:"score,omitempty"`
}

// SEO carries the public addressing of a document.
type SEO struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Slug        string `json:"slug"`
	Canonical   string `json:"canonical,omitempty"`
}

// Document is the canonical structured representation persisted as a post payload.
type Document struct {
	Version   int               `json:"version"`
	Title     string            `json:"title"`
	Lead      string            `json:"lead,omitempty"`
	Section   string            `json:"section,omitempty"`
	Sections  []Section         `json:"sections"`
	FAQ       []FAQ             `json:"faq"`
	Citations []Citation        `json:"citations"`
	SEO       SEO               `json:"seo"`
	Tags      []string          `json:"tags"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// SourceKey returns the dedup key recorded in meta, if any.
func (d *Document) SourceKey() string {
	if d.Meta == nil {
		return ""
	}
	return d.Meta[MetaSourceKey]
}

// SetSourceKey records key under meta.source_key. An empty key removes it.
func (d *Document) SetSourceKey(key string) {
	if key == "" {
		delete(d.Meta, MetaSourceKey)
		return
	}
	if d.Meta == nil {
		d.Meta = make(map[string]string)
	}
	d.Meta[MetaSourceKey] = key
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Sections = append([]Section(nil), d.Sections...)
	c.FAQ = append([]FAQ(nil), d.FAQ...)
	c.Tags = append([]string(nil), d.Tags...)
	c.Citations = make([]Citation, len(d.Citations))
	for i, cit := range d.Citations {
		c.Citations[i] = cit.clone()
	}
	if d.Meta != nil {
		c.Meta = make(map[string]string, len(d.Meta))
		for k, v := range d.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

func (c Citation) clone() Citation {
	if c.Score != nil {
		s := *c.Score
		c.Score = &s
	}
	return c
}

// Validate checks the invariants of a publication-ready document.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return apperr.Wrap(apperr.ErrValidation, "title is empty")
	}
	if len(d.Sections) == 0 {
		return apperr.Wrap(apperr.ErrValidation, "document has no sections")
	}
	for i, s := range d.Sections {
		if strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.Body) == "" {
			return apperr.Wrap(apperr.ErrValidation, "section %d has an empty title or body", i)
		}
	}
	if len(d.FAQ) > FAQMax {
		return apperr.Wrap(apperr.ErrValidation, "faq has %d entries, max %d", len(d.FAQ), FAQMax)
	}
	for i, f := range d.FAQ {
		if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
			return apperr.Wrap(apperr.ErrValidation, "faq entry %d is incomplete", i)
		}
	}
	for _, c := range d.Citations {
		if !IsWebURL(c.URL) {
			return apperr.Wrap(apperr.ErrValidation, "citation url %q is not http(s)", c.URL)
		}
	}
	if strings.TrimSpace(d.SEO.Slug) == "" {
		return apperr.Wrap(apperr.ErrValidation, "seo slug is empty")
	}
	return nil
}

// IsWebURL reports whether raw is an absolute http or https URL with a host.
func IsWebURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// EncodePayload validates doc and serializes it for storage.
func EncodePayload(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, apperr.Wrap(apperr.ErrValidation, "nil document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if doc.Version == 0 {
		doc.Version = DocumentVersion
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses a stored payload and validates it.
func DecodePayload(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.WrapErr(apperr.ErrSchema, "decoding payload", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
