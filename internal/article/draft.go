package article

import (
	"encoding/json"
	"strings"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

// DecodeDraft parses raw generator output into a draft document. It checks
// structure only: required fields present and every field of the expected type.
// Content hygiene is left to normalization.
func DecodeDraft(raw []byte) (*Document, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, apperr.WrapErr(apperr.ErrSchema, "draft is not a JSON object", err)
	}
	if obj == nil {
		return nil, apperr.Wrap(apperr.ErrSchema, "draft is null")
	}

	d := &draftReader{obj: obj}
	doc := &Document{Version: DocumentVersion}
	doc.Title = d.requiredString("title")
	doc.Lead = d.optionalString("lead")
	doc.Section = d.optionalString("section")
	doc.Sections = d.sections()
	doc.FAQ = d.faq()
	doc.Citations = d.citations()
	doc.Tags = d.stringList("tags")
	doc.SEO = d.seo()
	doc.Meta = d.meta()
	if d.err != nil {
		return nil, d.err
	}
	return doc, nil
}

// draftReader accumulates the first schema error so field extraction reads linearly.
type draftReader struct {
	obj map[string]any
	err error
}

func (d *draftReader) fail(format string, args ...any) {
	if d.err == nil {
		d.err = apperr.Wrap(apperr.ErrSchema, format, args...)
	}
}

func (d *draftReader) requiredString(key string) string {
	v, ok := d.obj[key]
	if !ok || v == nil {
		d.fail("missing required field %q", key)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail("field %q must be a string", key)
		return ""
	}
	if strings.TrimSpace(s) == "" {
		d.fail("field %q is empty", key)
	}
	return s
}

func (d *draftReader) optionalString(key string) string {
	v, ok := d.obj[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail("field %q must be a string", key)
		return ""
	}
	return s
}

func (d *draftReader) list(key string, required bool) []any {
	v, ok := d.obj[key]
	if !ok || v == nil {
		if required {
			d.fail("missing required field %q", key)
		}
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		d.fail("field %q must be an array", key)
		return nil
	}
	return items
}

func (d *draftReader) sections() []Section {
	items := d.list("sections", true)
	out := make([]Section, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			d.fail("sections[%d] must be an object", i)
			return nil
		}
		title, tok := m["title"].(string)
		body, bok := m["body"].(string)
		if !tok || !bok {
			d.fail("sections[%d] needs string title and body", i)
			return nil
		}
		out = append(out, Section{Title: title, Body: body})
	}
	return out
}

func (d *draftReader) faq() []FAQ {
	items := d.list("faq", false)
	out := make([]FAQ, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			d.fail("faq[%d] must be an object", i)
			return nil
		}
		q, qok := m["question"].(string)
		a, aok := m["answer"].(string)
		if !qok || !aok {
			d.fail("faq[%d] needs string question and answer", i)
			return nil
		}
		out = append(out, FAQ{Question: q, Answer: a})
	}
	return out
}

func (d *draftReader) citations() []Citation {
	items := d.list("citations", false)
	out := make([]Citation, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, Citation{URL: v})
		case map[string]any:
			u, ok := v["url"].(string)
			if !ok {
				d.fail("citations[%d] needs a string url", i)
				return nil
			}
			c := Citation{URL: u}
			c.Title, _ = v["title"].(string)
			c.PublishedAt, _ = v["published_at"].(string)
			if score, ok := v["score"].(float64); ok {
				c.Score = &score
			}
			out = append(out, c)
		default:
			d.fail("citations[%d] must be a string or object", i)
			return nil
		}
	}
	return out
}

func (d *draftReader) stringList(key string) []string {
	items := d.list(key, false)
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			d.fail("%s[%d] must be a string", key, i)
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (d *draftReader) seo() SEO {
	v, ok := d.obj["seo"]
	if !ok || v == nil {
		return SEO{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		d.fail("field \"seo\" must be an object")
		return SEO{}
	}
	var s SEO
	s.Title, _ = m["title"].(string)
	s.Description, _ = m["description"].(string)
	s.Slug, _ = m["slug"].(string)
	s.Canonical, _ = m["canonical"].(string)
	return s
}

func (d *draftReader) meta() map[string]string {
	v, ok := d.obj["meta"]
	if !ok || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		d.fail("field \"meta\" must be an object")
		return nil
	}
	out := make(map[string]string, len(m))
	for k, raw := range m {
		if s, ok := raw.(string); ok {
			out[k] = s
		}
	}
	return out
}
