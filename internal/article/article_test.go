package article

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

func validDoc() *Document {
	score := 0.8
	return &Document{
		Version:   DocumentVersion,
		Title:     "Mountain trekking",
		Lead:      "Where to start",
		Sections:  []Section{{Title: "Gear", Body: "Boots first."}},
		FAQ:       []FAQ{{Question: "Is it hard?", Answer: "Sometimes."}},
		Citations: []Citation{{URL: "https://example.com/a", Score: &score}},
		SEO:       SEO{Slug: "mountain-trekking"},
		Tags:      []string{"outdoor"},
		Meta:      map[string]string{MetaSourceKey: "video:abc"},
	}
}

func TestValidateAcceptsValidDocument(t *testing.T) {
	if err := validDoc().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(d *Document){
		"no sections":    func(d *Document) { d.Sections = nil },
		"blank body":     func(d *Document) { d.Sections[0].Body = "  " },
		"too many faq":   func(d *Document) { d.FAQ = make([]FAQ, FAQMax+1) },
		"ftp citation":   func(d *Document) { d.Citations[0].URL = "ftp://example.com/x" },
		"missing slug":   func(d *Document) { d.SEO.Slug = "" },
		"empty title":    func(d *Document) { d.Title = "" },
		"incomplete faq": func(d *Document) { d.FAQ[0].Answer = "" },
	}
	for name, mutate := range cases {
		d := validDoc()
		mutate(d)
		err := d.Validate()
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := validDoc()
	data, err := EncodePayload(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(doc, back) {
		t.Errorf("expected %+v, got %+v", doc, back)
	}
}

func TestDecodePayloadRejectsInvalidStoredDocument(t *testing.T) {
	_, err := DecodePayload([]byte(`{"title":"x","sections":[],"seo":{"slug":"x"}}`))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	_, err = DecodePayload([]byte(`{"title":`))
	if !errors.Is(err, apperr.ErrSchema) {
		t.Errorf("expected ErrSchema, got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := validDoc()
	c := doc.Clone()
	c.Sections[0].Title = "Changed"
	*c.Citations[0].Score = 0.1
	c.Meta[MetaSourceKey] = "other"

	if doc.Sections[0].Title != "Gear" {
		t.Error("clone shares sections")
	}
	if *doc.Citations[0].Score != 0.8 {
		t.Error("clone shares citation score")
	}
	if doc.SourceKey() != "video:abc" {
		t.Error("clone shares meta")
	}
}

func TestSetSourceKey(t *testing.T) {
	d := &Document{}
	d.SetSourceKey("video:x")
	if d.SourceKey() != "video:x" {
		t.Errorf("expected video:x, got %q", d.SourceKey())
	}
	d.SetSourceKey("")
	if d.SourceKey() != "" {
		t.Errorf("expected key removed, got %q", d.SourceKey())
	}
}

func TestDecodeDraft(t *testing.T) {
	raw := `{
		"title": "Breathing basics",
		"lead": "Short intro",
		"sections": [{"title": "Why", "body": "Because."}],
		"faq": [{"question": "How often?", "answer": "Daily."}],
		"citations": ["https://a.example.com", {"url": "https://b.example.com", "title": "B", "score": 0.5}],
		"tags": ["breath"],
		"seo": {"description": "desc"}
	}`
	doc, err := DecodeDraft([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Breathing basics" {
		t.Errorf("expected title, got %q", doc.Title)
	}
	if len(doc.Citations) != 2 || doc.Citations[1].Score == nil || *doc.Citations[1].Score != 0.5 {
		t.Errorf("unexpected citations %+v", doc.Citations)
	}
	if doc.SEO.Description != "desc" {
		t.Errorf("expected seo description, got %q", doc.SEO.Description)
	}
}

func TestDecodeDraftSchemaErrors(t *testing.T) {
	cases := map[string]string{
		"not json":         `hello`,
		"array":            `[1,2]`,
		"null":             `null`,
		"missing title":    `{"sections": []}`,
		"title not string": `{"title": 5, "sections": []}`,
		"missing sections": `{"title": "x"}`,
		"sections object":  `{"title": "x", "sections": {}}`,
		"section no body":  `{"title": "x", "sections": [{"title": "a"}]}`,
		"faq malformed":    `{"title": "x", "sections": [], "faq": [{"question": 1, "answer": "a"}]}`,
		"citation number":  `{"title": "x", "sections": [], "citations": [3]}`,
		"tags mixed":       `{"title": "x", "sections": [], "tags": ["a", 2]}`,
		"seo string":       `{"title": "x", "sections": [], "seo": "slug"}`,
	}
	for name, raw := range cases {
		_, err := DecodeDraft([]byte(raw))
		if !errors.Is(err, apperr.ErrSchema) {
			t.Errorf("%s: expected ErrSchema, got %v", name, err)
		}
	}
}

func TestRenderBody(t *testing.T) {
	body := RenderBody([]Section{
		{Title: "One", Body: "First."},
		{Title: "  ", Body: "skipped"},
		{Title: "Two", Body: "Second.\n\nMore."},
	})
	want := "## One\n\nFirst.\n\n## Two\n\nSecond.\n\nMore."
	if body != want {
		t.Errorf("expected %q, got %q", want, body)
	}
}

func TestExtractSectionsRoundTrip(t *testing.T) {
	sections := []Section{
		{Title: "Intro **bold**", Body: "Paragraph one.\n\n- item\n- item two"},
		{Title: "Code", Body: "```\n## not a heading\n```"},
		{Title: "Quote", Body: "> ## quoted heading\n\nText"},
		{Title: "Setext", Body: "Line\n---\n\n### Lower heading\n\nTail."},
		{Title: "Zażółć gęślą jaźń", Body: "Polish body."},
	}
	got := ExtractSections(RenderBody(sections))
	if !reflect.DeepEqual(got, sections) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", sections, got)
	}

	// Truncated model output leaves blocks open; balanced bodies keep later
	// sections apart.
	open := []Section{
		{Title: "Fence", Body: "text\n\n```go\nfmt.Println()"},
		{Title: "Tilde", Body: "~~~~\n## inside\n~~~"},
		{Title: "Pre", Body: "<pre>\nraw text"},
		{Title: "Script", Body: "<SCRIPT type=\"x\">\nvar a;"},
		{Title: "Comment", Body: "<!-- note\n## hidden"},
		{Title: "Closed", Body: "<pre>ok</pre>\n\nAfter."},
		{Title: "Tail", Body: "two"},
	}
	balanced := make([]Section, len(open))
	for i, s := range open {
		balanced[i] = Section{Title: s.Title, Body: BalanceBlocks(s.Body)}
	}
	got = ExtractSections(RenderBody(balanced))
	if !reflect.DeepEqual(got, balanced) {
		t.Errorf("balanced round trip mismatch:\nwant %+v\ngot  %+v", balanced, got)
	}
	if html := RenderHTML(RenderBody(balanced)); !strings.Contains(html, "<h2>Tail</h2>") {
		t.Errorf("expected last heading rendered, got %q", html)
	}
}

func TestBalanceBlocks(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"```go\nx", "```go\nx\n```"},
		{"````\n```\nx", "````\n```\nx\n````"},
		{"```\nx\n```", "```\nx\n```"},
		{"``` a`b\nnot a fence", "``` a`b\nnot a fence"},
		{"<pre>\nx", "<pre>\nx\n</pre>"},
		{"<textarea>\nx</textarea>", "<textarea>\nx</textarea>"},
		{"<!-- a", "<!-- a\n-->"},
		{"<!-- a -->", "<!-- a -->"},
		{"<?php echo", "<?php echo\n?>"},
		{"    ```\nindented code", "    ```\nindented code"},
	}
	for _, tt := range tests {
		if got := BalanceBlocks(tt.in); got != tt.want {
			t.Errorf("BalanceBlocks(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBlankHeadingsAreNotRendered(t *testing.T) {
	for _, title := range []string{"#", "# #", "###", " "} {
		if !IsBlankHeading(title) {
			t.Errorf("expected %q to be blank", title)
		}
	}
	if IsBlankHeading("C#") || IsBlankHeading("#1 tip") {
		t.Error("expected titles with text to be kept")
	}
	body := RenderBody([]Section{{Title: "#", Body: "lost"}, {Title: "Kept", Body: "body"}})
	if got := ExtractSections(body); len(got) != 1 || got[0].Title != "Kept" {
		t.Errorf("unexpected sections %+v", got)
	}
}

func TestExtractSectionsIgnoresPreamble(t *testing.T) {
	got := ExtractSections("intro text\n\n## Only\n\nBody")
	if len(got) != 1 || got[0].Title != "Only" || got[0].Body != "Body" {
		t.Errorf("unexpected sections %+v", got)
	}
}

func TestRenderHTML(t *testing.T) {
	html := RenderHTML("## Title\n\nBody")
	if !strings.Contains(html, "<h2>Title</h2>") {
		t.Errorf("expected h2 in %q", html)
	}
}

func TestParseVideoID(t *testing.T) {
	cases := map[string]string{
		"dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                     "dQw4w9WgXcQ",
		"https://youtube.com/shorts/dQw4w9WgXcQ":           "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":        "dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ":        "dQw4w9WgXcQ",
	}
	for in, want := range cases {
		got, err := ParseVideoID(in)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %q, got %q", in, want, got)
		}
	}

	for _, bad := range []string{"", "https://vimeo.com/123", "https://youtube.com/watch?v=short", "not a url"} {
		if _, err := ParseVideoID(bad); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%q: expected ErrValidation, got %v", bad, err)
		}
	}
}

func TestRequestClean(t *testing.T) {
	r := Request{Topic: "  Mountain   trekking ", Keywords: []string{" hills ", "Hills", "", "boots"}}
	if err := r.Clean(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Topic != "Mountain trekking" {
		t.Errorf("expected collapsed topic, got %q", r.Topic)
	}
	if !reflect.DeepEqual(r.Keywords, []string{"hills", "boots"}) {
		t.Errorf("unexpected keywords %v", r.Keywords)
	}
	if r.IsVideo() {
		t.Error("expected topic request")
	}
}

func TestRequestCleanRejections(t *testing.T) {
	cases := map[string]Request{
		"empty":         {},
		"both":          {Topic: "a", VideoURL: "dQw4w9WgXcQ"},
		"bad video":     {VideoURL: "https://vimeo.com/1"},
		"bad rubric":    {Topic: "a", RubricCode: "zdrowie i joga"},
		"many keywords": {Topic: "a", Keywords: []string{"1", "2", "3", "4", "5", "6", "7"}},
		"long keyword":  {Topic: "a", Keywords: []string{strings.Repeat("k", 81)}},
		"bad reference": {Topic: "a", ReferenceURL: "mailto:x@example.com"},
	}
	for name, r := range cases {
		if err := r.Clean(); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}
