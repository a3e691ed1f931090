package generate

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// AuthorVoice is a compact profile of how a speaker talks, extracted from a
// transcript so a regenerated article keeps the author's tone.
type AuthorVoice struct {
	VoiceMarkers   []string
	KeyTheses      []string
	KeyTerms       []string
	PracticalSteps []string
	Cautions       []string
	ShortQuotes    []string
}

var voiceStopwords = map[string]struct{}{
	"oraz": {}, "jest": {}, "która": {}, "które": {}, "który": {}, "którą": {},
	"gdyż": {}, "przy": {}, "this": {}, "that": {}, "with": {}, "have": {},
	"there": {}, "your": {}, "what": {}, "when": {}, "będzie": {}, "tylko": {},
}

var (
	actionKeywords  = []string{"spróbuj", "możesz", "warto", "zacznij", "zrób", "ćwicz", "praktykuj", "sprawdź", "dodaj"}
	cautionKeywords = []string{"uważaj", "unikaj", "ostrożnie", "nie przesadzaj", "nie łącz", "nie rób", "avoid", "careful"}
)

// ExtractVoice derives an AuthorVoice from transcript text. An empty transcript
// yields an empty profile.
func ExtractVoice(transcript string) AuthorVoice {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return AuthorVoice{}
	}

	paragraphs := splitParagraphs(text)
	sentences := splitSentences(text)

	return AuthorVoice{
		VoiceMarkers:   voiceMarkers(paragraphs, 6),
		KeyTheses:      pickSentences(sentences, 60, 220, 9),
		KeyTerms:       keyTerms(text, 4, 9),
		PracticalSteps: matching(sentences, actionKeywords, 6),
		Cautions:       matching(sentences, cautionKeywords, 5),
		ShortQuotes:    pickSentences(sentences, 20, 160, 7),
	}
}

// IsEmpty reports whether nothing could be extracted.
func (v AuthorVoice) IsEmpty() bool {
	return len(v.VoiceMarkers)+len(v.KeyTheses)+len(v.KeyTerms)+
		len(v.PracticalSteps)+len(v.Cautions)+len(v.ShortQuotes) == 0
}

// Lines renders the profile as brief lines.
func (v AuthorVoice) Lines() []string {
	var lines []string
	add := func(label string, items []string, sep string) {
		if len(items) > 0 {
			lines = append(lines, label+": "+strings.Join(items, sep))
		}
	}
	add("Voice markers", v.VoiceMarkers, " | ")
	add("Key terms", v.KeyTerms, ", ")
	add("Key theses", v.KeyTheses, " | ")
	add("Practical steps", v.PracticalSteps, " | ")
	add("Cautions", v.Cautions, " | ")
	add("Short quotes", v.ShortQuotes, " | ")
	return lines
}

func splitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next < len(text) {
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if !unicode.IsSpace(nr) {
				continue
			}
		}
		if s := strings.TrimSpace(text[start:next]); s != "" {
			out = append(out, s)
		}
		start = next
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func pickSentences(sentences []string, minLen, maxLen, limit int) []string {
	var picked []string
	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if n < minLen || n > maxLen || slices.Contains(picked, s) {
			continue
		}
		picked = append(picked, s)
		if len(picked) >= limit {
			break
		}
	}
	return picked
}

func voiceMarkers(paragraphs []string, limit int) []string {
	var markers []string
	for _, p := range paragraphs {
		first := strings.TrimSpace(strings.SplitN(p, "\n", 2)[0])
		if first == "" {
			continue
		}
		clause := strings.TrimSpace(strings.SplitN(first, ",", 2)[0])
		candidate := clause
		if n := utf8.RuneCountInString(clause); n < 15 || n > 90 {
			candidate = strings.TrimSpace(runePrefix(first, 90))
		}
		if candidate != "" && !slices.Contains(markers, candidate) {
			markers = append(markers, candidate)
		}
		if len(markers) >= limit {
			break
		}
	}
	return markers
}

// keyTerms returns the most frequent words of at least minLen runes, ties
// broken by first appearance.
func keyTerms(text string, minLen, limit int) []string {
	counts := make(map[string]int)
	var order []string
	for _, word := range strings.Fields(text) {
		w := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-'
		}))
		if utf8.RuneCountInString(w) < minLen {
			continue
		}
		if _, stop := voiceStopwords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	slices.SortStableFunc(order, func(a, b string) int { return counts[b] - counts[a] })
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

func matching(sentences, keywords []string, limit int) []string {
	var out []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				out = append(out, s)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

func runePrefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
