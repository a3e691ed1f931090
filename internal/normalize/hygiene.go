package normalize

import (
	"net/url"
	"strings"

	"github.com/TobiSchelling/postforge/internal/article"
)

var (
	contextTitles = map[string]struct{}{
		"context":             {},
		"sources":             {},
		"context and sources": {},
		"context & sources":   {},
		"kontekst":            {},
		"źródła":              {},
		"kontekst i źródła":   {},
	}
	faqTitles = map[string]struct{}{
		"frequently asked questions":   {},
		"najczęściej zadawane pytania": {},
		"pytania i odpowiedzi":         {},
	}
)

// IsContextSection reports whether title names a context/sources section.
func IsContextSection(title string) bool {
	_, ok := contextTitles[strings.ToLower(strings.TrimSpace(title))]
	return ok
}

// IsFAQSection reports whether title names an FAQ section.
func IsFAQSection(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if strings.HasPrefix(t, "faq") {
		return true
	}
	_, ok := faqTitles[t]
	return ok
}

// CleanSections trims every section, closes blocks a body leaves open, drops
// sections with an empty body or a title that renders as no heading and, when
// an FAQ section exists, orders context sections right before it with FAQ last.
func CleanSections(sections []article.Section) []article.Section {
	kept := make([]article.Section, 0, len(sections))
	var regular, ctx, faq []article.Section
	for _, s := range sections {
		s.Title = strings.Join(strings.Fields(s.Title), " ")
		s.Body = strings.TrimSpace(s.Body)
		if article.IsBlankHeading(s.Title) || s.Body == "" {
			continue
		}
		s.Body = article.BalanceBlocks(s.Body)
		kept = append(kept, s)
		switch {
		case IsFAQSection(s.Title):
			faq = append(faq, s)
		case IsContextSection(s.Title):
			ctx = append(ctx, s)
		default:
			regular = append(regular, s)
		}
	}
	if len(faq) == 0 {
		return kept
	}

	out := make([]article.Section, 0, len(kept))
	out = append(out, regular...)
	out = append(out, ctx...)
	return append(out, faq...)
}

// MergeFAQ appends added to existing, dropping incomplete entries and
// duplicate questions (case-insensitive, first wins), capped at FAQMax.
func MergeFAQ(existing, added []article.FAQ) []article.FAQ {
	out := make([]article.FAQ, 0, article.FAQMax)
	seen := make(map[string]struct{}, article.FAQMax)
	for _, group := range [][]article.FAQ{existing, added} {
		for _, f := range group {
			if len(out) == article.FAQMax {
				return out
			}
			f.Question = strings.TrimSpace(f.Question)
			f.Answer = strings.TrimSpace(f.Answer)
			if f.Question == "" || f.Answer == "" {
				continue
			}
			key := strings.ToLower(f.Question)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// CleanCitations keeps http(s) citations outside the excluded domains, first
// occurrence per normalized URL.
func CleanCitations(citations []article.Citation, excluded []string) []article.Citation {
	out := make([]article.Citation, 0, len(citations))
	seen := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		c.URL = strings.TrimSpace(c.URL)
		c.Title = strings.TrimSpace(c.Title)
		c.PublishedAt = strings.TrimSpace(c.PublishedAt)
		if !article.IsWebURL(c.URL) {
			continue
		}
		u, _ := url.Parse(c.URL)
		if DomainExcluded(u.Hostname(), excluded) {
			continue
		}
		key := CitationKey(c.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CitationKey normalizes a URL for duplicate detection. The scheme, a leading
// "www.", the fragment and trailing slashes do not take part.
func CitationKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// DomainExcluded matches host against entries. An entry starting with a dot is
// a suffix (".ru"); any other entry matches the domain and its subdomains.
func DomainExcluded(host string, entries []string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, ".") {
			if strings.HasSuffix(host, e) {
				return true
			}
			continue
		}
		if host == e || strings.HasSuffix(host, "."+e) {
			return true
		}
	}
	return false
}
