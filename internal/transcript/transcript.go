// Package transcript fetches YouTube transcripts from the Supadata API.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// SupadataClient fetches transcripts, falling back to speech recognition when
// a video has no published transcript.
type SupadataClient struct {
	BaseURL string
	APIKey  string
	Lang    string
	client  *http.Client
	log     *logger.Logger
}

// NewSupadataClient builds a client from the transcripts config section.
func NewSupadataClient(cfg config.Transcripts, timeout time.Duration, log *logger.Logger) *SupadataClient {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &SupadataClient{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:  os.Getenv(cfg.APIKeyEnv),
		Lang:    cfg.Lang,
		client:  &http.Client{Timeout: timeout},
		log:     log.Component("transcript"),
	}
}

// IsConfigured reports whether an API key is available.
func (c *SupadataClient) IsConfigured() bool {
	return c.APIKey != ""
}

// Fetch returns the plain transcript text of the video at videoURL.
// A video without transcript or recognizable speech yields ErrNotFound.
func (c *SupadataClient) Fetch(ctx context.Context, videoURL string) (string, error) {
	if !c.IsConfigured() {
		return "", apperr.Wrap(apperr.ErrTransport, "transcript API key not configured")
	}

	text, err := c.call(ctx, "/youtube/get-transcript", map[string]any{
		"url":    videoURL,
		"format": "text",
		"lang":   c.Lang,
	})
	if err == nil && text != "" {
		return text, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}

	c.log.Info("transcript missing, trying asr", "url", videoURL)
	text, err = c.call(ctx, "/youtube/asr", map[string]any{
		"url":  videoURL,
		"mode": "raw",
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", apperr.Wrap(apperr.ErrNotFound, "no transcript for %s", videoURL)
	}
	return text, nil
}

func (c *SupadataClient) call(ctx context.Context, path string, payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.WrapErr(apperr.ErrTransport, "supadata "+path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", apperr.Wrap(apperr.ErrNotFound, "supadata %s", path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("supadata error status", "path", path, "status", resp.StatusCode)
		return "", apperr.Wrap(apperr.ErrTransport, "supadata %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperr.WrapErr(apperr.ErrTransport, "decoding supadata response", err)
	}
	return body.plainText(), nil
}

type transcriptResponse struct {
	Text     string          `json:"text"`
	Segments json.RawMessage `json:"segments"`
	Results  json.RawMessage `json:"results"`
}

// plainText prefers the text field and otherwise joins segment texts. Segments
// may be objects with a text field or bare strings.
func (r transcriptResponse) plainText() string {
	if text := strings.TrimSpace(r.Text); text != "" {
		return text
	}
	raw := r.Segments
	if len(raw) == 0 || string(raw) == "null" {
		raw = r.Results
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		var seg struct {
			Text string `json:"text"`
		}
		var s string
		switch {
		case json.Unmarshal(item, &seg) == nil && strings.TrimSpace(seg.Text) != "":
			parts = append(parts, strings.TrimSpace(seg.Text))
		case json.Unmarshal(item, &s) == nil && strings.TrimSpace(s) != "":
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, " ")
}
