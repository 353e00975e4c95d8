package resilience

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"fxsim/internal/broker"
	"fxsim/internal/config"
	"fxsim/internal/logging"
	"fxsim/internal/models"
)

// GuardedSource wraps a bar source with one circuit breaker per symbol.
type GuardedSource struct {
	source broker.BarSource
	config CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	logger   zerolog.Logger
}

// NewGuardedSource guards source using the feed breaker settings.
func NewGuardedSource(source broker.BarSource, cfg config.FeedConfig, logger zerolog.Logger) *GuardedSource {
	return &GuardedSource{
		source: source,
		config: CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
		},
		breakers: make(map[string]*CircuitBreaker),
		logger:   logging.WithComponent(logger, "feed_guard"),
	}
}

// LatestBar fetches through the symbol's breaker. Context cancellation is
// not counted as a feed failure.
func (g *GuardedSource) LatestBar(ctx context.Context, symbol string) (models.Bar, error) {
	cb := g.Breaker(symbol)
	if err := cb.Allow(); err != nil {
		return models.Bar{}, err
	}

	bar, err := g.source.LatestBar(ctx, symbol)
	if err != nil && ctx.Err() != nil {
		cb.Record(nil)
		return bar, err
	}

	before := cb.State()
	cb.Record(err)
	if after := cb.State(); after != before {
		event := g.logger.Info()
		if after == CircuitOpen {
			event = g.logger.Warn().Err(err)
		}
		event.Str("symbol", symbol).Str("state", string(after)).Msg("Feed circuit changed state")
	}
	return bar, err
}

// Breaker returns the breaker of symbol, creating it on first use.
func (g *GuardedSource) Breaker(symbol string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[symbol]
	if !ok {
		cb = NewCircuitBreaker(symbol, g.config)
		g.breakers[symbol] = cb
	}
	return cb
}

// Stats returns the breaker statistics of every symbol seen so far.
func (g *GuardedSource) Stats() []CircuitBreakerStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CircuitBreakerStats, 0, len(g.breakers))
	for _, cb := range g.breakers {
		out = append(out, cb.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
