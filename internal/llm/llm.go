package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/config"
	"github.com/TobiSchelling/postforge/internal/logger"
)

const (
	defaultTemperature = 0.4
	defaultTimeout     = 5 * time.Minute
	tagsTimeout        = 5 * time.Second
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func userPrompt(prompt string) []chatMessage {
	return []chatMessage{{Role: "user", Content: prompt}}
}

// OllamaProvider talks to a local Ollama server in JSON mode.
type OllamaProvider struct {
	Model       string
	BaseURL     string
	Temperature float64
	client      *http.Client
	log         *logger.Logger
}

// NewOllamaProvider creates an Ollama provider from the llm config section.
func NewOllamaProvider(cfg config.LLM, log *logger.Logger) *OllamaProvider {
	if log == nil {
		log = logger.NewNop()
	}
	return &OllamaProvider{
		Model:       cfg.Model,
		BaseURL:     strings.TrimRight(cfg.OllamaURL, "/"),
		Temperature: temperature(cfg),
		client:      &http.Client{Timeout: timeout(cfg)},
		log:         log.Component("ollama"),
	}
}

// IsConfigured reports whether Ollama answers and has the model pulled. A
// model without a tag matches any tag of the same name.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), tagsTimeout)
	defer cancel()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := doJSON(ctx, o.client, http.MethodGet, o.BaseURL+"/api/tags", nil, nil, &tags); err != nil {
		o.log.Debug("ollama unreachable", "url", o.BaseURL, "error", err)
		return false
	}

	want := o.Model
	if !strings.Contains(want, ":") {
		want += ":"
	}
	for _, m := range tags.Models {
		if m.Name == o.Model || strings.HasPrefix(m.Name, want) {
			return true
		}
	}
	o.log.Warn("ollama model not found", "model", o.Model)
	return false
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

// Generate sends a prompt to Ollama and returns the message content.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := ollamaRequest{
		Model:    o.Model,
		Messages: userPrompt(prompt),
		Format:   "json",
		Options:  ollamaOptions{NumPredict: maxTokens, Temperature: o.Temperature},
	}
	var result struct {
		Message chatMessage `json:"message"`
	}
	start := time.Now()
	if err := doJSON(ctx, o.client, http.MethodPost, o.BaseURL+"/api/chat", nil, body, &result); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	o.log.Debug("completion done", "model", o.Model, "elapsed", time.Since(start))
	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI-compatible chat completions provider.
type OpenAIProvider struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	client      *http.Client
	log         *logger.Logger
}

// NewOpenAIProvider creates a provider reading its key from cfg.APIKeyEnv.
func NewOpenAIProvider(cfg config.LLM, log *logger.Logger) *OpenAIProvider {
	if log == nil {
		log = logger.NewNop()
	}
	base := cfg.OpenAIURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		Model:       cfg.OpenAIModel,
		APIKey:      os.Getenv(cfg.APIKeyEnv),
		BaseURL:     strings.TrimRight(base, "/"),
		Temperature: temperature(cfg),
		client:      &http.Client{Timeout: timeout(cfg)},
		log:         log.Component("openai"),
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

// Generate requests a JSON-object completion and returns the first choice.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", apperr.Wrap(apperr.ErrTransport, "openai: API key not configured")
	}

	body := openAIRequest{
		Model:          o.Model,
		Messages:       userPrompt(prompt),
		MaxTokens:      maxTokens,
		Temperature:    o.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	var result struct {
		Choices []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}
	if err := doJSON(ctx, o.client, http.MethodPost, o.BaseURL+"/chat/completions", headers, body, &result); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", apperr.Wrap(apperr.ErrGeneration, "openai: response has no choices")
	}
	choice := result.Choices[0]
	if choice.FinishReason == "length" {
		o.log.Warn("completion truncated", "model", o.Model, "max_tokens", maxTokens)
	}
	return choice.Message.Content, nil
}

// doJSON sends body (when non-nil) and decodes a 200 response into out.
// Network failures and non-200 statuses are transport errors.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.WrapErr(apperr.ErrTransport, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return apperr.Wrap(apperr.ErrTransport, "API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.WrapErr(apperr.ErrTransport, "decoding response", err)
	}
	return nil
}

func temperature(cfg config.LLM) float64 {
	if cfg.Temperature <= 0 {
		return defaultTemperature
	}
	return cfg.Temperature
}

func timeout(cfg config.LLM) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

// CreateProvider picks the configured provider. Ollama falls back to OpenAI
// when it is down or lacks the model. It returns nil when neither is usable.
func CreateProvider(cfg config.LLM, log *logger.Logger) Provider {
	if log == nil {
		log = logger.NewNop()
	}
	if strings.EqualFold(cfg.Provider, "ollama") {
		p := NewOllamaProvider(cfg, log)
		if p.IsConfigured() {
			log.Info("using ollama", "model", cfg.Model)
			return p
		}
		log.Warn("ollama not available, trying openai fallback")
	}

	p := NewOpenAIProvider(cfg, log)
	if p.IsConfigured() {
		log.Info("using openai", "model", cfg.OpenAIModel, "base_url", p.BaseURL)
		return p
	}

	log.Error("no LLM provider available", "api_key_env", cfg.APIKeyEnv)
	return nil
}
