package enhance

import (
	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/research"
)

// MergeKind is the outcome of merging researched sources into a post.
type MergeKind int

const (
	// Keep leaves the existing citations untouched.
	Keep MergeKind = iota
	// Adopt takes the researched sources as the citation list.
	Adopt
	// ReplaceOne swaps a single inferior citation for the top researched one.
	ReplaceOne
)

func (k MergeKind) String() string {
	switch k {
	case Adopt:
		return "adopt"
	case ReplaceOne:
		return "replace_one"
	default:
		return "keep"
	}
}

// MergeDecision is the citation list to persist plus the researched sources
// that only inform the writer.
type MergeDecision struct {
	Kind          MergeKind
	Citations     []article.Citation
	Supplementary []article.Citation
}

// MergeCitations decides how researched sources, ranked best first, combine
// with the existing citations. Existing citations are never dropped except
// for a single one judged inferior to the top researched source.
func MergeCitations(existing, researched []article.Citation) MergeDecision {
	switch {
	case len(researched) == 0:
		return MergeDecision{Kind: Keep, Citations: existing}
	case len(existing) == 0:
		return MergeDecision{Kind: Adopt, Citations: append([]article.Citation(nil), researched...)}
	case len(existing) == 1 && inferior(existing[0], researched[0]):
		return MergeDecision{
			Kind:          ReplaceOne,
			Citations:     []article.Citation{researched[0]},
			Supplementary: append([]article.Citation(nil), researched[1:]...),
		}
	}
	return MergeDecision{Kind: Keep, Citations: existing, Supplementary: append([]article.Citation(nil), researched...)}
}

// inferior reports whether c is clearly worse than top. When both dates parse
// the date decides; otherwise a missing or lower score loses to a scored top.
func inferior(c, top article.Citation) bool {
	cd, cok := research.ParseDate(c.PublishedAt)
	td, tok := research.ParseDate(top.PublishedAt)
	if cok && tok {
		return cd.Before(td)
	}
	if top.Score == nil {
		return false
	}
	return c.Score == nil || *c.Score < *top.Score
}
