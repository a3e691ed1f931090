package generate

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/fetch"
)

// Mode selects the generator variant.
type Mode string

const (
	ModeTopic      Mode = "topic"
	ModeTranscript Mode = "transcript"
)

// Brief is everything the generator is told about the article to write.
type Brief struct {
	Mode       Mode
	Topic      string
	Rubric     string
	Keywords   []string
	Guidance   string
	Transcript string
	SourceURL  string
	Reference  *fetch.Page
	// Voice is set when a video is regenerated into an existing post.
	Voice *AuthorVoice
}

// NewBrief builds the brief for req. transcript is empty in topic mode.
func NewBrief(req article.Request, rubric, transcript string) Brief {
	b := Brief{
		Mode:     ModeTopic,
		Topic:    req.Topic,
		Rubric:   rubric,
		Keywords: req.Keywords,
		Guidance: req.Guidance,
	}
	if req.IsVideo() {
		b.Mode = ModeTranscript
		b.Transcript = transcript
		b.SourceURL = req.VideoURL
	}
	return b
}

const instructions = `You are the content architect of a Polish wellbeing and yoga magazine. Write in Polish (pl-PL).
Write a long-form, empathetic and expert article with clear paragraphs, examples and advice readers can apply in daily life.
Use at least four sections; each section body must run several paragraphs. Do not summarize, develop the subject.
Keep the title and seo.title on one line, under 60 characters, without colons, containing at least one key term.
Add 2-4 FAQ entries answered from the article content and at least two citation URLs.`

const schema = `Respond with ONLY this JSON:
{
    "title": "Article title",
    "lead": "Opening paragraphs",
    "sections": [{"title": "Section heading", "body": "Section text in markdown, no headings"}],
    "faq": [{"question": "Question?", "answer": "Answer"}],
    "citations": [{"url": "https://...", "title": "Source title"}],
    "tags": ["tag"],
    "seo": {"title": "SEO title", "description": "Meta description up to 160 characters"}
}`

// Prompt renders the brief as a single generator prompt.
func (b Brief) Prompt() string {
	var lines []string
	lines = append(lines, instructions, "")
	if b.Rubric != "" {
		lines = append(lines, fmt.Sprintf("Editorial rubric: %s.", b.Rubric))
	}
	if b.Topic != "" {
		lines = append(lines, fmt.Sprintf("Main topic: %s.", b.Topic))
	}
	if kw := strings.Join(b.Keywords, ", "); kw != "" {
		lines = append(lines, fmt.Sprintf("Weave in these SEO keywords naturally: %s.", kw))
	}
	if b.Guidance != "" {
		lines = append(lines, fmt.Sprintf("Additional editorial guidance: %s.", b.Guidance))
	}
	if b.SourceURL != "" {
		lines = append(lines, fmt.Sprintf("Cite the source URL %s when it supports the piece.", b.SourceURL))
	}
	if b.Voice != nil && !b.Voice.IsEmpty() {
		lines = append(lines, "", "Keep the author's voice. Profile extracted from the recording:")
		lines = append(lines, b.Voice.Lines()...)
	}
	if b.Reference != nil {
		lines = append(lines, "", fmt.Sprintf("REFERENCE MATERIAL (%s):", b.Reference.URL))
		if b.Reference.Title != "" {
			lines = append(lines, b.Reference.Title)
		}
		lines = append(lines, b.Reference.Text)
	}
	if b.Mode == ModeTranscript {
		lines = append(lines, "",
			"Base the article on this transcript; translate it to Polish if needed and expand it into a full article.",
			"TRANSCRIPT:", b.Transcript)
	}
	lines = append(lines, "", schema)
	return strings.Join(lines, "\n")
}
