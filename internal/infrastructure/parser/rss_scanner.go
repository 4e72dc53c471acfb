package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/scanner"
)

var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// feed covers RSS 2.0, RSS 1.0 (RDF) and Atom documents.
type feed struct {
	XMLName  xml.Name
	Items    []feedItem  `xml:"channel>item"`
	RDFItems []feedItem  `xml:"item"`
	Entries  []atomEntry `xml:"entry"`
}

type feedItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"date"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

// RSSScanner reads RSS and Atom feeds.
type RSSScanner struct {
	fetcher fetcher
}

// NewRSSScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewRSSScanner(client *http.Client, userAgent string) *RSSScanner {
	return &RSSScanner{fetcher: newFetcher(client, userAgent)}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

// Scan downloads the feed and maps every entry with a title and link.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.IngestedItem, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("no feed url provided for site %s", req.SiteName)
	}

	body, _, err := s.fetcher.get(ctx, req.URL, "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	decoder := xml.NewDecoder(body)
	decoder.CharsetReader = charset.NewReaderLabel
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity

	var doc feed
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", req.URL, err)
	}

	return parseFeed(doc, req), nil
}

func parseFeed(doc feed, req scanner.Request) []domain.IngestedItem {
	category := req.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	var items []domain.IngestedItem
	add := func(title, link, summary string, dates ...string) {
		title = stripHTML(title)
		link = strings.TrimSpace(link)
		if title == "" || link == "" {
			return
		}
		items = append(items, domain.IngestedItem{
			Title:       title,
			URL:         link,
			Source:      req.SiteName,
			PublishedAt: parseFeedDate(dates...),
			Snippet:     snippet(stripHTML(summary)),
			Category:    category,
		})
	}

	for _, it := range append(doc.Items, doc.RDFItems...) {
		link := it.Link
		if link == "" && strings.HasPrefix(it.GUID, "http") {
			link = it.GUID
		}
		add(it.Title, link, it.Description, it.PubDate, it.Date)
	}
	for _, e := range doc.Entries {
		summary := e.Summary
		if summary == "" {
			summary = e.Content
		}
		add(e.Title, e.link(), summary, e.Published, e.Updated)
	}

	return items
}

// parseFeedDate returns the first candidate any known layout accepts, in UTC.
func parseFeedDate(candidates ...string) *time.Time {
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range feedDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				utc := t.UTC()
				return &utc
			}
		}
	}
	return nil
}
