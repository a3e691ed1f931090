package article

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdown = goldmark.New()

	// atxLevel2 matches a "## title" line with up to three spaces of indentation.
	atxLevel2 = regexp.MustCompile(`^ {0,3}##[ \t]+(.+?)[ \t]*$`)

	fenceOpen = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})(.*)$")

	// htmlBlocks are the HTML block kinds that run until an end marker rather
	// than a blank line. A nil end means the raw-text tags of the first kind.
	htmlBlocks = []struct {
		start  *regexp.Regexp
		end    *regexp.Regexp
		closer string
	}{
		{start: regexp.MustCompile(`(?i)^ {0,3}<(pre|script|style|textarea)(?:[ \t>]|$)`)},
		{regexp.MustCompile(`^ {0,3}<!--`), regexp.MustCompile(`-->`), "-->"},
		{regexp.MustCompile(`^ {0,3}<\?`), regexp.MustCompile(`\?>`), "?>"},
		{regexp.MustCompile(`^ {0,3}<!\[CDATA\[`), regexp.MustCompile(`\]\]>`), "]]>"},
		{regexp.MustCompile(`^ {0,3}<![A-Za-z]`), regexp.MustCompile(`>`), ">"},
	}
	rawTextEnd = regexp.MustCompile(`(?i)</(?:pre|script|style|textarea)>`)
)

// IsBlankHeading reports whether title renders as an empty ATX heading, such
// as "#" or "# #", which markdown treats as a closing sequence.
func IsBlankHeading(title string) bool {
	return strings.TrimFunc(title, func(r rune) bool { return r == '#' || unicode.IsSpace(r) }) == ""
}

// BalanceBlocks closes a fenced code block or an end-marker HTML block left
// open at the end of body, so the block cannot swallow the sections after it.
func BalanceBlocks(body string) string {
	var (
		fence   string
		htmlEnd *regexp.Regexp
		closer  string
	)
	for _, line := range strings.Split(body, "\n") {
		switch {
		case fence != "":
			if closesFence(line, fence) {
				fence = ""
			}
		case htmlEnd != nil:
			if htmlEnd.MatchString(line) {
				htmlEnd = nil
			}
		default:
			if m := fenceOpen.FindStringSubmatch(line); m != nil && !(m[1][0] == '`' && strings.Contains(m[2], "`")) {
				fence = m[1]
				continue
			}
			for _, b := range htmlBlocks {
				m := b.start.FindStringSubmatch(line)
				if m == nil {
					continue
				}
				end, c := b.end, b.closer
				if end == nil {
					end, c = rawTextEnd, "</"+strings.ToLower(m[1])+">"
				}
				if !end.MatchString(line[len(m[0]):]) {
					htmlEnd, closer = end, c
				}
				break
			}
		}
	}
	switch {
	case fence != "":
		return body + "\n" + fence
	case htmlEnd != nil:
		return body + "\n" + closer
	}
	return body
}

// closesFence reports whether line is a closing fence for the opening run.
func closesFence(line, open string) bool {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return false
	}
	run := strings.TrimRight(trimmed, " \t")
	return len(run) >= len(open) && strings.Trim(run, open[:1]) == ""
}

// RenderBody renders sections as "## <title>" blocks separated by blank lines.
func RenderBody(sections []Section) string {
	blocks := make([]string, 0, len(sections))
	for _, s := range sections {
		title := strings.TrimSpace(s.Title)
		body := strings.TrimSpace(s.Body)
		if IsBlankHeading(title) || body == "" {
			continue
		}
		blocks = append(blocks, "## "+title+"\n\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

// ExtractSections is the inverse of RenderBody. Only top-level ATX "## "
// headings delimit sections; headings inside code blocks, quotes or lists and
// setext headings stay part of the enclosing body. Text before the first
// delimiter is discarded.
func ExtractSections(body string) []Section {
	src := []byte(body)
	doc := markdown.Parser().Parse(text.NewReader(src))

	type mark struct {
		title      string
		lineStart  int
		contentEnd int
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start, end := lineStart(src, seg.Start), lineEnd(src, seg.Start)
		m := atxLevel2.FindSubmatch(src[start:end])
		if m == nil {
			continue
		}
		marks = append(marks, mark{
			title:      strings.TrimSpace(string(m[1])),
			lineStart:  start,
			contentEnd: end,
		})
	}

	sections := make([]Section, 0, len(marks))
	for i, m := range marks {
		end := len(src)
		if i+1 < len(marks) {
			end = marks[i+1].lineStart
		}
		sections = append(sections, Section{
			Title: m.title,
			Body:  strings.TrimSpace(string(src[m.contentEnd:end])),
		})
	}
	return sections
}

// RenderHTML converts markdown to HTML. Errors yield an empty string.
func RenderHTML(body string) string {
	var buf strings.Builder
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func lineStart(src []byte, pos int) int {
	for pos > 0 && src[pos-1] != '\n' {
		pos--
	}
	return pos
}

func lineEnd(src []byte, pos int) int {
	for pos < len(src) && src[pos] != '\n' {
		pos++
	}
	return pos
}

