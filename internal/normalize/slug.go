package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 200

// letters that do not decompose into a base letter plus combining marks
var foldReplacer = strings.NewReplacer(
	"ł", "l", "Ł", "l",
	"ß", "ss",
	"æ", "ae", "Æ", "ae",
	"ø", "o", "Ø", "o",
	"đ", "d", "Đ", "d",
	"œ", "oe", "Œ", "oe",
)

// Slugify folds s to lower-case ASCII words joined by single hyphens.
func Slugify(s string) string {
	s = foldReplacer.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return truncateSlug(b.String(), maxSlugLen)
}

// truncateSlug cuts slug to at most n bytes, preferring a hyphen boundary.
func truncateSlug(slug string, n int) string {
	if len(slug) <= n {
		return slug
	}
	cut := slug[:n]
	if i := strings.LastIndexByte(cut, '-'); i > 0 && slug[n] != '-' {
		cut = cut[:i]
	}
	return strings.Trim(cut, "-")
}
