package generate

import (
	"context"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/llm"
)

// AssistantGenerator turns a brief into a raw JSON draft with an LLM.
type AssistantGenerator struct {
	provider  llm.Provider
	maxTokens int
}

// NewAssistantGenerator creates a generator. maxTokens <= 0 uses 4096.
func NewAssistantGenerator(provider llm.Provider, maxTokens int) *AssistantGenerator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AssistantGenerator{provider: provider, maxTokens: maxTokens}
}

// Generate returns the JSON object produced for b.
func (g *AssistantGenerator) Generate(ctx context.Context, b Brief) ([]byte, error) {
	if g.provider == nil {
		return nil, apperr.Wrap(apperr.ErrGeneration, "no LLM provider configured")
	}
	text, err := g.provider.Generate(ctx, b.Prompt(), g.maxTokens)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.WrapErr(apperr.ErrGeneration, string(b.Mode)+" generation", err)
	}
	raw := llm.ExtractJSON(text)
	if raw == "" {
		return nil, apperr.Wrap(apperr.ErrGeneration, "empty %s generation", b.Mode)
	}
	return []byte(raw), nil
}
