package domain

import (
	"strings"
	"time"
)

// DefaultCategory is assigned to items whose source does not declare one.
const DefaultCategory = "general"

// IngestedItem is a raw news unit pulled from a source, before scoring.
type IngestedItem struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
	Category    string     `json:"category"`
}

// Text returns the title and snippet joined the way filtering and scoring read them.
func (i IngestedItem) Text() string {
	return strings.TrimSpace(i.Title + " " + i.Snippet)
}

// ScoredItem is an ingested item enriched with a filtering pass. It is never
// persisted on its own.
type ScoredItem struct {
	Item           IngestedItem
	SentimentScore float64
	KeywordMatches []string
	RelevanceScore float64
}

// StoredItem is the persisted form of an ingested item.
type StoredItem struct {
	ID             string       `json:"id"`
	Item           IngestedItem `json:"item"`
	SentimentScore float64      `json:"sentiment_score"`
	IngestedAt     time.Time    `json:"ingested_at"`
	Posted         bool         `json:"posted"`
	PostedAt       *time.Time   `json:"posted_at,omitempty"`
}

// ItemQuery narrows an item listing. A Limit of zero or less means no limit.
type ItemQuery struct {
	Limit        int
	UnpostedOnly bool
}
