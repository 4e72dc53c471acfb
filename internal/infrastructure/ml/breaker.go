package ml

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"HeadlineBot/internal/metrics"
	"HeadlineBot/internal/ports"
)

// BreakerSettings controls when the sentiment breaker trips and how long it stays open.
type BreakerSettings struct {
	// Component labels log lines and the breaker state gauge.
	Component string
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before letting a probe through.
	Cooldown time.Duration
}

// Breaker guards a sentiment function with a circuit breaker. While open, Compound fails fast
// with gobreaker.ErrOpenState and the scorer treats the text as neutral.
type Breaker struct {
	next ports.SentimentFunc
	cb   *gobreaker.CircuitBreaker
}

var _ ports.SentimentFunc = (*Breaker)(nil)

// NewBreaker wraps next. Zero settings fall back to 5 failures and a one minute cooldown.
func NewBreaker(next ports.SentimentFunc, settings BreakerSettings, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if settings.Component == "" {
		settings.Component = "sentiment"
	}
	if settings.Failures == 0 {
		settings.Failures = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = time.Minute
	}

	component := settings.Component
	metrics.CircuitBreakerState.WithLabelValues(component).Set(stateToFloat(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        component,
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.Failures
		},
		// A caller giving up is not a sign the service is unhealthy.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Breaker{next: next, cb: cb}
}

// Compound forwards to the wrapped function unless the breaker is open.
func (b *Breaker) Compound(ctx context.Context, text string) (float64, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Compound(ctx, text)
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
