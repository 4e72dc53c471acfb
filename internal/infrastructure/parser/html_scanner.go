package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/scanner"
)

// Site options understood by HTMLScanner. Defaults: item "article", title "h1, h2, h3",
// link "a[href]", snippet "p", date "time" read from its "datetime" attribute, one page.
const (
	optItem       = "item"
	optTitle      = "title"
	optLink       = "link"
	optSnippet    = "snippet"
	optDate       = "date"
	optDateAttr   = "date_attr"
	optDateLayout = "date_layout"
	optPages      = "pages"
	optPageParam  = "page_param"
)

// HTMLScanner extracts items from listing pages using CSS selectors from site options.
type HTMLScanner struct {
	fetcher  fetcher
	maxPages int
}

// NewHTMLScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewHTMLScanner(client *http.Client, userAgent string) *HTMLScanner {
	return &HTMLScanner{fetcher: newFetcher(client, userAgent), maxPages: 10}
}

// Name identifies the strategy inside the registry.
func (h *HTMLScanner) Name() string {
	return "html"
}

// Scan walks the listing pages and returns every entry with a title and link. Paging
// stops at the first page without new entries.
func (h *HTMLScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.IngestedItem, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no listing url provided for site %s", req.SiteName)
	}
	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing url %s: %w", req.URL, err)
	}

	pages, err := strconv.Atoi(req.Option(optPages, "1"))
	if err != nil || pages < 1 {
		return nil, fmt.Errorf("site %s: option %s must be a positive integer", req.SiteName, optPages)
	}
	pages = min(pages, h.maxPages)

	results := make([]domain.IngestedItem, 0)
	seen := map[string]struct{}{}

	for page := 1; page <= pages; page++ {
		pageURL := req.URL
		if page > 1 {
			pageURL, err = buildPageURL(req.URL, req.Option(optPageParam, "page"), page)
			if err != nil {
				return nil, err
			}
		}

		doc, err := h.fetcher.document(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		added := 0
		for _, item := range extractItems(doc, base, req) {
			if _, ok := seen[item.URL]; ok {
				continue
			}
			seen[item.URL] = struct{}{}
			results = append(results, item)
			added++
		}
		if added == 0 {
			break
		}
	}

	return results, nil
}

func extractItems(doc *goquery.Document, base *url.URL, req scanner.Request) []domain.IngestedItem {
	var collected []domain.IngestedItem
	doc.Find(req.Option(optItem, "article")).Each(func(_ int, sel *goquery.Selection) {
		if item, ok := parseEntry(sel, base, req); ok {
			collected = append(collected, item)
		}
	})
	return collected
}

func parseEntry(sel *goquery.Selection, base *url.URL, req scanner.Request) (domain.IngestedItem, bool) {
	title := collapseSpace(sel.Find(req.Option(optTitle, "h1, h2, h3")).First().Text())

	link := sel.Find(req.Option(optLink, "a[href]")).First()
	href, _ := link.Attr("href")
	if href == "" {
		// The item itself may be the anchor.
		href, _ = sel.Attr("href")
	}
	if title == "" {
		title = collapseSpace(link.Text())
	}

	href = strings.TrimSpace(href)
	if title == "" || href == "" {
		return domain.IngestedItem{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return domain.IngestedItem{}, false
	}
	absolute := base.ResolveReference(ref)
	if absolute.Scheme != "http" && absolute.Scheme != "https" {
		return domain.IngestedItem{}, false
	}

	category := req.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	return domain.IngestedItem{
		Title:       title,
		URL:         absolute.String(),
		Source:      req.SiteName,
		PublishedAt: parseEntryDate(sel, req),
		Snippet:     snippet(sel.Find(req.Option(optSnippet, "p")).First().Text()),
		Category:    category,
	}, true
}

func parseEntryDate(sel *goquery.Selection, req scanner.Request) *time.Time {
	node := sel.Find(req.Option(optDate, "time")).First()
	if node.Length() == 0 {
		return nil
	}

	raw, ok := node.Attr(req.Option(optDateAttr, "datetime"))
	if !ok || strings.TrimSpace(raw) == "" {
		raw = node.Text()
	}
	raw = strings.TrimSpace(raw)

	if layout := req.Option(optDateLayout, ""); layout != "" {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
		return nil
	}
	return parseFeedDate(raw)
}

func buildPageURL(base, param string, page int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set(param, strconv.Itoa(page))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
