package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

const (
	maxPageBytes = 5 << 20
	minTextLen   = 100
	// MaxTextRunes bounds how much of a page ends up in a generation brief.
	MaxTextRunes = 6000
)

// Page is the readable content extracted from a reference URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// PageFetcher fetches a page via HTTP and extracts its main text with
// readability.
type PageFetcher struct {
	client *http.Client
}

// NewPageFetcher creates a fetcher with the given per-request timeout.
func NewPageFetcher(timeout time.Duration) *PageFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &PageFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Fetch downloads pageURL and returns its readable text. Pages with too little
// extractable text yield ErrNotFound.
func (f *PageFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
		return nil, apperr.Wrap(apperr.ErrValidation, "invalid reference url %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperr.WrapErr(apperr.ErrValidation, "building request", err)
	}
	req.Header.Set("User-Agent", "postforge/1.0 (reference fetcher)")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.WrapErr(apperr.ErrTransport, "fetching "+pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, apperr.Wrap(apperr.ErrNotFound, "%s returned %d", pageURL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.Wrap(apperr.ErrTransport, "%s returned %d", pageURL, resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, apperr.WrapErr(apperr.ErrTransport, "reading "+pageURL, err)
	}

	article, err := readability.FromReader(bytes.NewReader(bodyBytes), parsedURL)
	if err != nil {
		return nil, apperr.WrapErr(apperr.ErrNotFound, "no readable content at "+pageURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minTextLen {
		return nil, apperr.Wrap(apperr.ErrNotFound, "no extractable content at %s", pageURL)
	}
	if r := []rune(text); len(r) > MaxTextRunes {
		text = string(r[:MaxTextRunes])
	}
	return &Page{URL: pageURL, Title: strings.TrimSpace(article.Title), Text: text}, nil
}
