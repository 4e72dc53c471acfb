package parser

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"HeadlineBot/internal/config"
	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/ports"
	"HeadlineBot/internal/scanner"
)

// StrategySource implements ItemSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	byName   map[string]config.SiteConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ ports.ItemSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites. A nil limiter
// fetches without pacing.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, limiter *rate.Limiter, log *slog.Logger) *StrategySource {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	byName := make(map[string]config.SiteConfig, len(sites))
	for _, site := range sites {
		byName[site.Name] = site
	}
	return &StrategySource{
		registry: reg,
		sites:    sites,
		byName:   byName,
		limiter:  limiter,
		logger:   log,
	}
}

// NewLimiter paces fetches to perSecond with the given burst; perSecond <= 0 disables pacing.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

// Sites lists configured site names in config order.
func (s *StrategySource) Sites() []string {
	names := make([]string, 0, len(s.sites))
	for _, site := range s.sites {
		names = append(names, site.Name)
	}
	return names
}

// FetchSite runs the site's scanner. Errors stay scoped to that site.
func (s *StrategySource) FetchSite(ctx context.Context, name string) ([]domain.IngestedItem, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	site, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("site %s is not configured", name)
	}

	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("site %s: wait for fetch slot: %w", site.Name, err)
		}
	}

	s.logger.Debug("process site", "site", site.Name, "scanner", site.Scanner)
	results, err := strategy.Scan(ctx, scanner.Request{
		SiteName: site.Name,
		URL:      site.URL,
		Category: site.Category,
		Options:  site.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("scan site %s: %w", site.Name, err)
	}

	for i := range results {
		if results[i].Source == "" {
			results[i].Source = site.Name
		}
		if results[i].Category == "" {
			results[i].Category = domain.DefaultCategory
		}
	}
	s.logger.Debug("site produced items", "site", site.Name, "count", len(results))
	return results, nil
}
