// Package webfetch downloads a web page and reduces it to readable text,
// falling back to a prerendering proxy for script-heavy pages.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markdave123-py/kbingest/internal/core"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPrerenderURL = "https://r.jina.ai/"
	// MinWords is the smallest page worth indexing.
	MinWords = 50

	MethodDirect    = "direct"
	MethodPrerender = "prerender"

	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes = 10 << 20
)

type Page struct {
	URL       string
	Title     string
	Text      string
	WordCount int
	// Method is MethodDirect or MethodPrerender.
	Method string
}

type Fetcher struct {
	client       *http.Client
	prerenderURL string
	minWords     int
	logger       *slog.Logger
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithPrerenderURL sets the proxy prefix; the target URL is appended verbatim.
// An empty base disables the fallback.
func WithPrerenderURL(base string) Option {
	return func(f *Fetcher) { f.prerenderURL = base }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       &http.Client{Timeout: DefaultTimeout},
		prerenderURL: DefaultPrerenderURL,
		minWords:     MinWords,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the page text. The prerender proxy is consulted when the
// direct fetch yields fewer than MinWords words or when forcePrerender is set;
// the variant with more words wins unless forced, in which case a successful
// proxy result is always used.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, forcePrerender bool) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: not an http(s) url: %q", core.ErrInvalidInput, rawURL)
	}
	target := u.String()
	log := f.logger.With("url", target)

	raw, err := f.get(ctx, target, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	page := &Page{
		URL:    target,
		Title:  ExtractTitle(raw, u.Hostname()),
		Text:   HTMLToText(raw),
		Method: MethodDirect,
	}
	page.WordCount = countWords(page.Text)

	if (page.WordCount < f.minWords || forcePrerender) && f.prerenderURL != "" {
		proxied, err := f.prerender(ctx, target)
		switch {
		case err != nil:
			log.Warn("prerender fallback failed", "error", err)
		case forcePrerender || proxied.WordCount > page.WordCount:
			if proxied.Title == "" {
				proxied.Title = page.Title
			}
			page = proxied
		}
	}

	log.Info("page fetched", "method", page.Method, "words", page.WordCount, "title", page.Title)

	if page.WordCount < f.minWords {
		return nil, &core.InsufficientContentError{WordCount: page.WordCount, Minimum: f.minWords}
	}
	return page, nil
}

func (f *Fetcher) prerender(ctx context.Context, target string) (*Page, error) {
	md, err := f.get(ctx, f.prerenderURL+target, "text/markdown,text/plain")
	if err != nil {
		return nil, err
	}
	title, body := splitProxyHeader(md)
	text := StripMarkdown(body)
	return &Page{
		URL:       target,
		Title:     title,
		Text:      text,
		WordCount: countWords(text),
		Method:    MethodPrerender,
	}, nil
}

func (f *Fetcher) get(ctx context.Context, target, accept string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", core.ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned status %d", core.ErrFetch, target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", core.ErrFetch, err)
	}
	return string(body), nil
}

func countWords(s string) int { return len(strings.Fields(s)) }
