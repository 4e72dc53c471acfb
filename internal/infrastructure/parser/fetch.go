package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const (
	defaultUserAgent = "HeadlineBot/1.0"
	maxBodyBytes     = 5 << 20
	maxSnippetRunes  = 500
)

// fetcher performs GET requests with a shared client and user agent.
type fetcher struct {
	client    *http.Client
	userAgent string
}

func newFetcher(client *http.Client, userAgent string) fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return fetcher{client: client, userAgent: userAgent}
}

// get returns the raw body of pageURL and its Content-Type. The caller closes the body.
func (f fetcher) get(ctx context.Context, pageURL, accept string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request %s: %w", pageURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	return readCloser{Reader: io.LimitReader(resp.Body, maxBodyBytes), Closer: resp.Body}, resp.Header.Get("Content-Type"), nil
}

// document parses an HTML page, converting it to UTF-8 first.
func (f fetcher) document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, contentType, err := f.get(ctx, pageURL, "text/html")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	utf8Body, err := charset.NewReader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// stripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func stripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// snippet trims text to the stored snippet length on a rune boundary.
func snippet(text string) string {
	text = collapseSpace(text)
	if utf8.RuneCountInString(text) <= maxSnippetRunes {
		return text
	}
	return string([]rune(text)[:maxSnippetRunes])
}
