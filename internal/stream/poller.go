package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/broker"
	"fxsim/internal/logging"
	"fxsim/internal/models"
	"fxsim/pkg/utils"
)

// Poller fetches the latest bar of one symbol at a fixed interval and pushes
// bars newer than the last one seen into the synchronizer.
type Poller struct {
	symbol   string
	source   broker.BarSource
	sync     *Synchronizer
	interval time.Duration
	retry    utils.RetryConfig

	last    time.Time
	pushed  atomic.Uint64
	idle    atomic.Bool
	stopped *atomic.Bool

	logger zerolog.Logger
}

// NewPoller creates a poller for symbol.
func NewPoller(symbol string, source broker.BarSource, barrier *Synchronizer, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		symbol:   symbol,
		source:   source,
		sync:     barrier,
		interval: interval,
		retry:    utils.DefaultRetryConfig(),
		stopped:  &barrier.stopped,
		logger:   logging.WithSymbol(logging.WithComponent(logger, "poller"), symbol),
	}
}

// Poll fetches once and pushes the bar if it is new. It reports whether a
// bar was pushed.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	bar, err := utils.RetryWithResult(ctx, p.retry, func() (models.Bar, error) {
		return p.source.LatestBar(ctx, p.symbol)
	})
	if err != nil {
		return false, err
	}
	if !bar.Timestamp.After(p.last) {
		p.idle.Store(true)
		return false, nil
	}
	if err := p.sync.Push(p.symbol, bar); err != nil {
		return false, err
	}
	p.last = bar.Timestamp
	p.idle.Store(false)
	p.pushed.Add(1)
	p.logger.Debug().Time("bar", bar.Timestamp).Float64("close", bar.Close).Msg("Bar queued")
	return true, nil
}

// Run polls until ctx is done or the synchronizer is stopped, checking both
// once per iteration. Fetch failures are logged and retried next interval.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if p.stopped.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn().Err(err).Msg("Bar fetch failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// Idle reports whether the last poll returned no new bar.
func (p *Poller) Idle() bool {
	return p.idle.Load()
}

// Pushed returns the number of bars queued so far.
func (p *Poller) Pushed() uint64 {
	return p.pushed.Load()
}
