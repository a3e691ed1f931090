package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/llm"
)

// WriterInput is what the writer knows about the post being enhanced.
type WriterInput struct {
	Document      *article.Document
	Citations     []article.Citation
	Supplementary []article.Citation
	Summary       string
}

// Additions is new content to append to a post.
type Additions struct {
	Sections []article.Section
	FAQ      []article.FAQ
}

// IsEmpty reports whether there is nothing to append.
func (a *Additions) IsEmpty() bool {
	return a == nil || (len(a.Sections) == 0 && len(a.FAQ) == 0)
}

// Writer proposes additions for a post. Failures are apperr.ErrWriter.
type Writer interface {
	Write(ctx context.Context, in WriterInput) (*Additions, error)
}

// LLMWriter asks an LLM for additional sections and FAQ entries.
type LLMWriter struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMWriter creates a writer. maxTokens <= 0 uses 4096.
func NewLLMWriter(provider llm.Provider, maxTokens int) *LLMWriter {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &LLMWriter{provider: provider, maxTokens: maxTokens}
}

const writerPrompt = `You are the editor of a Polish wellbeing and yoga magazine. Write in Polish (pl-PL).
The article below is already published. Propose additions only: one or two new sections that bring in recent facts from the research,
and FAQ entries that are not already answered. Never rewrite, repeat or summarize existing sections. Return empty lists when nothing new is worth adding.

TITLE: %s

LEAD:
%s

EXISTING SECTIONS:
%s
EXISTING FAQ:
%s
CITATIONS:
%s
RESEARCH SUMMARY:
%s

ADDITIONAL SOURCES (context only):
%s
Respond with ONLY this JSON:
{
    "added_sections": [{"title": "Section heading", "body": "Section text in markdown, no headings"}],
    "added_faq": [{"question": "Question?", "answer": "Answer"}]
}`

func (in WriterInput) prompt() string {
	doc := in.Document
	var sections, faq strings.Builder
	for _, s := range doc.Sections {
		fmt.Fprintf(&sections, "## %s\n%s\n\n", s.Title, s.Body)
	}
	for _, f := range doc.FAQ {
		fmt.Fprintf(&faq, "- %s %s\n", f.Question, f.Answer)
	}
	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		summary = "(no research available)"
	}
	return fmt.Sprintf(writerPrompt, doc.Title, doc.Lead, sections.String(), faq.String(),
		citationLines(in.Citations), summary, citationLines(in.Supplementary))
}

func citationLines(cs []article.Citation) string {
	if len(cs) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, c := range cs {
		b.WriteString("- ")
		if c.Title != "" {
			b.WriteString(c.Title + " ")
		}
		b.WriteString(c.URL)
		if c.PublishedAt != "" {
			b.WriteString(" (" + c.PublishedAt + ")")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Write asks the provider for additions to in.Document.
func (w *LLMWriter) Write(ctx context.Context, in WriterInput) (*Additions, error) {
	if w.provider == nil {
		return nil, apperr.Wrap(apperr.ErrWriter, "no LLM provider configured")
	}
	if in.Document == nil {
		return nil, apperr.Wrap(apperr.ErrWriter, "nil document")
	}
	text, err := w.provider.Generate(ctx, in.prompt(), w.maxTokens)
	if err != nil {
		return nil, apperr.WrapErr(apperr.ErrWriter, "writer call", err)
	}
	return ParseAdditions(text)
}

type writerResponse struct {
	AddedSections json.RawMessage `json:"added_sections"`
	AddedSection  json.RawMessage `json:"added_section"`
	AddedFAQ      json.RawMessage `json:"added_faq"`
}

// ParseAdditions reads the writer's JSON. Both the list keys and the older
// single added_section form are accepted; incomplete entries are dropped.
func ParseAdditions(text string) (*Additions, error) {
	var resp writerResponse
	if err := llm.DecodeJSON(text, &resp); err != nil {
		return nil, apperr.WrapErr(apperr.ErrWriter, "malformed writer output", err)
	}

	var sections []article.Section
	for _, raw := range []json.RawMessage{resp.AddedSections, resp.AddedSection} {
		if err := decodeOneOrMany(raw, &sections); err != nil {
			return nil, apperr.WrapErr(apperr.ErrWriter, "added sections", err)
		}
	}
	var faq []article.FAQ
	if err := decodeOneOrMany(resp.AddedFAQ, &faq); err != nil {
		return nil, apperr.WrapErr(apperr.ErrWriter, "added faq", err)
	}

	out := &Additions{}
	for _, s := range sections {
		s.Title, s.Body = strings.TrimSpace(s.Title), strings.TrimSpace(s.Body)
		if s.Title != "" && s.Body != "" {
			out.Sections = append(out.Sections, s)
		}
	}
	for _, f := range faq {
		f.Question, f.Answer = strings.TrimSpace(f.Question), strings.TrimSpace(f.Answer)
		if f.Question != "" && f.Answer != "" {
			out.FAQ = append(out.FAQ, f)
		}
	}
	return out, nil
}

// decodeOneOrMany appends a JSON object or list of objects to dst. null and
// absent values add nothing.
func decodeOneOrMany[T any](raw json.RawMessage, dst *[]T) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		*dst = append(*dst, items...)
		return nil
	}
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return err
	}
	*dst = append(*dst, item)
	return nil
}
