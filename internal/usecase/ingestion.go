package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/filter"
	"HeadlineBot/internal/metrics"
	"HeadlineBot/internal/ports"
)

// ItemFilter is the subset of filter.ContentFilter the ingestion sweep relies on.
type ItemFilter interface {
	Filter(ctx context.Context, items []domain.IngestedItem, requireNegative bool) []domain.ScoredItem
}

// ScoreHealth counts scores that fell back to neutral because sentiment was unavailable.
type ScoreHealth interface {
	Unscored() uint64
}

// IngestionConfig tunes the ingestion sweep.
type IngestionConfig struct {
	FetchTimeout    time.Duration
	RequireNegative bool
}

// IngestionDeps wires all driven adapters into the ingestion sweep.
type IngestionDeps struct {
	Source ports.ItemSource
	Store  ports.ItemStore
	Filter ItemFilter
	Seen   ports.SeenCache
	Health ScoreHealth
	Clock  clockwork.Clock
	Logger *slog.Logger
	Config IngestionConfig
}

// Ingestion implements the fetch, filter and persist workflow.
type Ingestion struct {
	source ports.ItemSource
	store  ports.ItemStore
	filter ItemFilter
	seen   ports.SeenCache
	health ScoreHealth
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    IngestionConfig
}

// NewIngestion constructs the ingestion sweep.
func NewIngestion(deps IngestionDeps) *Ingestion {
	in := &Ingestion{
		source: deps.Source,
		store:  deps.Store,
		filter: deps.Filter,
		seen:   deps.Seen,
		health: deps.Health,
		clock:  deps.Clock,
		logger: deps.Logger,
		cfg:    deps.Config,
	}
	if in.clock == nil {
		in.clock = clockwork.NewRealClock()
	}
	if in.logger == nil {
		in.logger = slog.New(slog.DiscardHandler)
	}
	return in
}

// Ingest fetches every site, keeps the new negative items and stores them. A failing site
// is recorded and the others go on.
func (in *Ingestion) Ingest(ctx context.Context) (*domain.BatchSummary, error) {
	summary := domain.NewBatchSummary(domain.ActivityIngest, in.clock.Now())
	if in.source == nil {
		return in.finish(summary), nil
	}

	var fetched []domain.IngestedItem
	for _, site := range in.source.Sites() {
		if ctx.Err() != nil {
			summary.Aborted = true
			return in.finish(summary), nil
		}

		items, err := in.fetch(ctx, site)
		if err != nil {
			metrics.SourceFetchesTotal.WithLabelValues("error").Inc()
			in.logger.Warn("source fetch failed", "site", site, "error", err)
			summary.Record(site, domain.OutcomeFailed, err.Error())
			continue
		}
		metrics.SourceFetchesTotal.WithLabelValues("ok").Inc()
		fetched = append(fetched, items...)
	}

	items := filter.Dedupe(fetched)

	fresh, known, err := in.dropKnown(ctx, items, summary)
	if err != nil {
		return nil, err
	}
	// URLs with a final decision. Failed inserts and items an abort never reached stay
	// out of the seen cache so the next sweep retries them.
	decided := known
	if len(fresh) == 0 {
		in.remember(ctx, decided)
		return in.finish(summary), nil
	}

	unscoredBefore := in.unscored()
	scored := in.filter.Filter(context.WithoutCancel(ctx), fresh, in.cfg.RequireNegative)
	in.logger.Debug("filter pass", "fresh", len(fresh), "kept", len(scored))

	if in.unscored() == unscoredBefore {
		decided = append(decided, droppedURLs(fresh, scored)...)
	} else {
		in.logger.Info("sentiment unavailable during filter pass, dropped items will be rescored")
	}

	for _, s := range scored {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}

		inserted, err := in.store.InsertItem(context.WithoutCancel(ctx), domain.StoredItem{
			ID:             uuid.NewString(),
			Item:           s.Item,
			SentimentScore: s.SentimentScore,
			IngestedAt:     in.clock.Now().UTC(),
		})
		switch {
		case err != nil:
			in.logger.Warn("persist item failed", "url", s.Item.URL, "error", err)
			summary.Record(s.Item.URL, domain.OutcomeFailed, err.Error())
			continue
		case !inserted:
			summary.Record(s.Item.URL, domain.OutcomeSkipped, "already known")
		default:
			summary.Record(s.Item.URL, domain.OutcomeSucceeded, fmt.Sprintf("sentiment %.2f", s.SentimentScore))
		}
		decided = append(decided, s.Item.URL)
	}

	in.remember(ctx, decided)
	return in.finish(summary), nil
}

func (in *Ingestion) fetch(ctx context.Context, site string) ([]domain.IngestedItem, error) {
	fetchCtx := context.WithoutCancel(ctx)
	if in.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, in.cfg.FetchTimeout)
		defer cancel()
	}
	return in.source.FetchSite(fetchCtx, site)
}

// dropKnown removes URLs the seen cache or the store already know about, so they are not
// rescored. The URLs found in the store are returned separately.
func (in *Ingestion) dropKnown(ctx context.Context, items []domain.IngestedItem, summary *domain.BatchSummary) ([]domain.IngestedItem, []string, error) {
	if len(items) == 0 {
		return nil, nil, nil
	}

	candidates := items[:0:0]
	for _, item := range items {
		if in.seen != nil {
			seen, err := in.seen.Seen(ctx, item.URL)
			if err != nil {
				in.logger.Debug("seen cache lookup failed", "url", item.URL, "error", err)
			} else if seen {
				metrics.SeenCacheHitsTotal.Inc()
				summary.Record(item.URL, domain.OutcomeSkipped, "recently seen")
				continue
			}
		}
		candidates = append(candidates, item)
	}

	urls := make([]string, len(candidates))
	for i, item := range candidates {
		urls[i] = item.URL
	}

	known := map[string]bool{}
	if len(urls) > 0 {
		var err error
		known, err = in.store.KnownURLs(ctx, urls)
		if err != nil {
			return nil, nil, fmt.Errorf("load known urls: %w", err)
		}
	}

	fresh := make([]domain.IngestedItem, 0, len(candidates))
	var stored []string
	for _, item := range candidates {
		if known[item.URL] {
			summary.Record(item.URL, domain.OutcomeSkipped, "already known")
			stored = append(stored, item.URL)
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh, stored, nil
}

func (in *Ingestion) unscored() uint64 {
	if in.health == nil {
		return 0
	}
	return in.health.Unscored()
}

func (in *Ingestion) remember(ctx context.Context, urls []string) {
	if in.seen == nil {
		return
	}
	rememberCtx := context.WithoutCancel(ctx)
	for _, u := range urls {
		if err := in.seen.Remember(rememberCtx, u); err != nil {
			in.logger.Debug("seen cache write failed", "url", u, "error", err)
			return
		}
	}
}

// droppedURLs lists the fresh URLs the filter rejected.
func droppedURLs(fresh []domain.IngestedItem, kept []domain.ScoredItem) []string {
	keep := make(map[string]struct{}, len(kept))
	for _, s := range kept {
		keep[s.Item.URL] = struct{}{}
	}
	var out []string
	for _, item := range fresh {
		if _, ok := keep[item.URL]; !ok {
			out = append(out, item.URL)
		}
	}
	return out
}

func (in *Ingestion) finish(summary *domain.BatchSummary) *domain.BatchSummary {
	summary.FinishedAt = in.clock.Now()
	observeSweep(in.logger, summary)
	return summary
}
