// Package fetch downloads a web page and reduces it to readable text so
// the reasoner can read an official page that search only summarized.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/sundevil-helper/internal/httpkit"
)

const (
	DefaultTimeout        = 20 * time.Second
	DefaultMaxBytes int64 = 2 << 20
	DefaultMaxChars       = 4000
)

// Page is the extracted content of one URL.
type Page struct {
	URL        string
	Title      string
	Text       string
	Truncated  bool
	StatusCode int
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) { f.client = hc }
}

// WithMaxChars caps the extracted text length in runes.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
		maxChars: DefaultMaxChars,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// normalizeURL accepts bare hosts ("asu.edu/events") and rejects
// anything that is not http(s).
func normalizeURL(raw string) (string, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"'<>`)
	if raw == "" {
		return "", fmt.Errorf("a url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}

// Fetch downloads rawURL and extracts its readable text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		httpkit.Drain(resp.Body)
		return nil, fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	page := &Page{URL: target, StatusCode: resp.StatusCode}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Text = extractHTML(body)
	case strings.HasPrefix(mediaType, "text/") || (mediaType == "" && utf8.Valid(body)):
		page.Text = collapseWhitespace(string(body))
	default:
		return nil, fmt.Errorf("fetch %s: unsupported content type %q", target, mediaType)
	}

	page.Text, page.Truncated = truncateRunes(page.Text, f.maxChars)
	return page, nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
