// Package filter keeps items about the tracked subject and ranks them by relevance.
package filter

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"HeadlineBot/internal/domain"
)

// DefaultThreshold is the sentiment an item must stay below to count as negative.
const DefaultThreshold = -0.2

const (
	keywordBonusPerMatch = 0.1
	maxKeywordBonus      = 0.3
	trustedSourceBonus   = 0.1
	freshBonus           = 0.2
	recentBonus          = 0.1
	freshAge             = 6 * time.Hour
	recentAge            = 24 * time.Hour
)

// Scorer is the subset of scoring.Scorer the filter relies on.
type Scorer interface {
	Score(ctx context.Context, text string) float64
	KeywordMatches(text string) []string
}

// Options configures the filter.
type Options struct {
	SubjectKeywords []string
	TrustedSources  []string
	Threshold       float64
}

// ContentFilter applies the scorer to a batch and ranks the survivors.
type ContentFilter struct {
	scorer    Scorer
	subject   []string
	trusted   []string
	threshold float64
	clock     clockwork.Clock
	logger    *slog.Logger
}

// New builds a content filter; it never mutates persisted state.
func New(scorer Scorer, opts Options, clock clockwork.Clock, logger *slog.Logger) *ContentFilter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ContentFilter{
		scorer:    scorer,
		subject:   lowerAll(opts.SubjectKeywords),
		trusted:   lowerAll(opts.TrustedSources),
		threshold: opts.Threshold,
		clock:     clock,
		logger:    logger,
	}
}

// Threshold exposes the configured negativity threshold.
func (f *ContentFilter) Threshold() float64 {
	return f.threshold
}

// Filter returns the qualifying items sorted by relevance, ties kept in input order.
func (f *ContentFilter) Filter(ctx context.Context, items []domain.IngestedItem, requireNegative bool) []domain.ScoredItem {
	now := f.clock.Now()
	scored := make([]domain.ScoredItem, 0, len(items))

	for _, item := range items {
		text := item.Text()
		if !f.MentionsSubject(text) {
			continue
		}

		sentiment := f.scorer.Score(ctx, text)
		if requireNegative && sentiment >= f.threshold {
			continue
		}

		matches := f.scorer.KeywordMatches(text)
		scored = append(scored, domain.ScoredItem{
			Item:           item,
			SentimentScore: sentiment,
			KeywordMatches: matches,
			RelevanceScore: f.relevance(sentiment, matches, item, now),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})

	f.logger.Debug("filtered items", "kept", len(scored), "total", len(items))
	return scored
}

// Top returns at most limit of the best ranked negative items.
func (f *ContentFilter) Top(ctx context.Context, items []domain.IngestedItem, limit int) []domain.ScoredItem {
	ranked := f.Filter(ctx, items, true)
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// MentionsSubject reports whether any subject keyword occurs in text.
func (f *ContentFilter) MentionsSubject(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range f.subject {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (f *ContentFilter) relevance(sentiment float64, matches []string, item domain.IngestedItem, now time.Time) float64 {
	relevance := -sentiment
	relevance += min(maxKeywordBonus, keywordBonusPerMatch*float64(len(matches)))

	if f.isTrusted(item.Source) {
		relevance += trustedSourceBonus
	}

	if item.PublishedAt != nil {
		age := now.Sub(*item.PublishedAt)
		switch {
		case age < freshAge:
			relevance += freshBonus
		case age < recentAge:
			relevance += recentBonus
		}
	}

	return relevance
}

func (f *ContentFilter) isTrusted(source string) bool {
	lower := strings.ToLower(source)
	for _, src := range f.trusted {
		if strings.Contains(lower, src) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
