// Package scoring turns raw text into a bounded negativity-adjusted sentiment score.
package scoring

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"HeadlineBot/internal/ports"
)

const (
	boostPerMatch = 0.05
	maxBoost      = 0.3
)

// Scorer combines an external sentiment function with a keyword negativity boost.
type Scorer struct {
	sentiment ports.SentimentFunc
	keywords  []string
	logger    *slog.Logger
	unscored  atomic.Uint64
}

// NewScorer wires the sentiment function; a nil function makes every score neutral.
func NewScorer(sentiment ports.SentimentFunc, boostKeywords []string, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scorer{
		sentiment: sentiment,
		keywords:  lowerAll(boostKeywords),
		logger:    logger,
	}
}

// Score returns compound - boost clamped to [-1, 1], or 0 when the sentiment function is unavailable.
func (s *Scorer) Score(ctx context.Context, text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if s.sentiment == nil {
		s.unscored.Add(1)
		return 0
	}

	compound, err := s.sentiment.Compound(ctx, text)
	if err != nil {
		s.unscored.Add(1)
		s.logger.Debug("sentiment unavailable, scoring neutral", "error", err)
		return 0
	}

	return clamp(clamp(compound) - s.Boost(text))
}

// Unscored counts the scores that fell back to neutral since the scorer was built.
func (s *Scorer) Unscored() uint64 {
	return s.unscored.Load()
}

// Boost is the amount subtracted for boost-keyword substring hits.
func (s *Scorer) Boost(text string) float64 {
	return min(maxBoost, boostPerMatch*float64(len(s.KeywordMatches(text))))
}

// KeywordMatches lists boost keywords found in text, in configured order.
// Matching is plain substring search, so hits inside longer words count.
func (s *Scorer) KeywordMatches(text string) []string {
	if len(s.keywords) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var matches []string
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			matches = append(matches, kw)
		}
	}
	return matches
}

func clamp(v float64) float64 {
	return max(-1, min(1, v))
}

func lowerAll(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
