package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/config"
	"github.com/TobiSchelling/postforge/internal/logger"
)

// ParallelClient runs deep research as a Parallel task run: submit, poll the
// run status until it completes, then read the result.
type ParallelClient struct {
	BaseURL      string
	APIKey       string
	Processor    string
	Timeout      time.Duration
	PollInterval time.Duration
	client       *http.Client
	log          *logger.Logger
}

// NewParallelClient builds a client from the research config section.
func NewParallelClient(cfg *config.Config, log *logger.Logger) *ParallelClient {
	if log == nil {
		log = logger.NewNop()
	}
	return &ParallelClient{
		BaseURL:      strings.TrimRight(cfg.Research.BaseURL, "/"),
		APIKey:       os.Getenv(cfg.Research.APIKeyEnv),
		Processor:    cfg.Research.Processor,
		Timeout:      cfg.ResearchTimeout(),
		PollInterval: cfg.ResearchPollInterval(),
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          log.Component("parallel"),
	}
}

// IsConfigured reports whether an API key is available.
func (c *ParallelClient) IsConfigured() bool {
	return c.APIKey != ""
}

type taskRun struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Error  any    `json:"error"`
}

// Search submits q and waits for its result, bounded by c.Timeout.
func (c *ParallelClient) Search(ctx context.Context, q Query) (*Result, error) {
	if !c.IsConfigured() {
		return nil, apperr.Wrap(apperr.ErrTransport, "research API key not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var run taskRun
	body := map[string]any{"input": q.prompt(), "processor": c.Processor}
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/runs", body, &run); err != nil {
		return nil, c.classify(ctx, err)
	}
	if run.RunID == "" {
		return nil, apperr.Wrap(apperr.ErrTransport, "task run submitted without run_id")
	}
	c.log.Debug("research submitted", "run_id", run.RunID)

	for {
		switch strings.ToLower(run.Status) {
		case "completed", "succeeded":
			var raw map[string]any
			if err := c.do(ctx, http.MethodGet, "/v1/tasks/runs/"+run.RunID+"/result", nil, &raw); err != nil {
				return nil, c.classify(ctx, err)
			}
			return parseResult(raw), nil
		case "failed", "cancelled", "canceled", "error":
			return nil, apperr.Wrap(apperr.ErrTransport, "task run %s ended %s: %v", run.RunID, run.Status, run.Error)
		}

		timer := time.NewTimer(c.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, c.classify(ctx, ctx.Err())
		case <-timer.C:
		}
		if err := c.do(ctx, http.MethodGet, "/v1/tasks/runs/"+run.RunID, nil, &run); err != nil {
			return nil, c.classify(ctx, err)
		}
	}
}

// classify maps the client's own deadline to ErrTimeout.
func (c *ParallelClient) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.WrapErr(apperr.ErrTimeout, fmt.Sprintf("research exceeded %s", c.Timeout), err)
	}
	return err
}

func (c *ParallelClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.WrapErr(apperr.ErrTransport, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperr.Wrap(apperr.ErrTransport, "%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.WrapErr(apperr.ErrTransport, "decoding "+path, err)
	}
	return nil
}

// parseResult accepts the summary under summary, insights, highlights or
// content, and sources under sources, results, citations or basis, either at
// the top level or nested in output.
func parseResult(raw map[string]any) *Result {
	res := &Result{}
	scopes := []map[string]any{raw}
	if out, ok := raw["output"].(map[string]any); ok {
		scopes = append(scopes, out)
		if content, ok := out["content"].(map[string]any); ok {
			scopes = append(scopes, content)
		}
	}
	for _, scope := range scopes {
		if res.Summary == "" {
			res.Summary = firstText(scope, "summary", "insights", "highlights", "content")
		}
		for _, key := range []string{"sources", "results", "citations", "basis"} {
			if items, ok := scope[key].([]any); ok {
				res.Sources = append(res.Sources, parseSources(items)...)
			}
		}
	}
	return res
}

func parseSources(items []any) []Source {
	var out []Source
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		// basis entries nest their citations
		if nested, ok := m["citations"].([]any); ok && firstText(m, "url", "link") == "" {
			out = append(out, parseSources(nested)...)
			continue
		}
		u := firstText(m, "url", "link")
		if u == "" {
			continue
		}
		out = append(out, Source{
			URL:         u,
			Title:       firstText(m, "title", "name"),
			Description: firstText(m, "description", "snippet", "summary"),
			PublishedAt: firstText(m, "published_at", "date"),
			Score:       firstNumber(m, "score", "relevance"),
		})
	}
	return out
}

// firstText returns the first non-empty string among keys. A list of strings
// is joined by newlines.
func firstText(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []any:
			var parts []string
			for _, p := range v {
				if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return &v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}
