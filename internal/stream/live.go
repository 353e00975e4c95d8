package stream

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fxsim/internal/broker"
	"fxsim/internal/config"
	"fxsim/internal/logging"
)

// LiveRunner runs one poller per symbol and a single consumer that steps the
// simulation each time the barrier releases.
type LiveRunner struct {
	sync    *Synchronizer
	pollers []*Poller
	step    StepFunc
	done    func() bool
	check   time.Duration
	logger  zerolog.Logger
}

// NewLiveRunner wires pollers over source for every feed symbol.
func NewLiveRunner(source broker.BarSource, cfg config.FeedConfig, step StepFunc, logger zerolog.Logger) *LiveRunner {
	sc := SyncConfig{PollInterval: cfg.BarrierPollInterval, GapWarnAfter: cfg.GapWarnAfter}
	barrier := NewSynchronizer(cfg.Symbols, sc, logger)

	r := &LiveRunner{
		sync:   barrier,
		step:   step,
		check:  cfg.BarrierPollInterval,
		logger: logging.WithComponent(logger, "live"),
	}
	for _, sym := range barrier.Symbols() {
		r.pollers = append(r.pollers, NewPoller(sym, source, barrier, cfg.PollInterval, logger))
	}
	if r.check <= 0 {
		r.check = DefaultSyncConfig().PollInterval
	}
	return r
}

// StopWhen registers a condition checked periodically. Once it holds and every
// poller has seen no new bar, the barrier is finished: bars that can never be
// matched are reported as feed gaps and dropped, and the runner stops when
// every queue is drained.
func (r *LiveRunner) StopWhen(done func() bool) {
	r.done = done
}

// Synchronizer returns the runner's barrier.
func (r *LiveRunner) Synchronizer() *Synchronizer {
	return r.sync
}

// Run blocks until ctx is canceled, Stop is called, or a step fails.
// Cancellation and Stop are clean shutdowns and return nil.
func (r *LiveRunner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range r.pollers {
		p := p
		g.Go(func() error { return p.Run(gctx) })
	}
	g.Go(func() error {
		err := r.sync.Run(gctx, r.step)
		r.sync.Stop()
		return err
	})
	if r.done != nil {
		g.Go(func() error { return r.watch(gctx) })
	}

	r.logger.Info().Strs("symbols", r.sync.Symbols()).Msg("Live runner started")
	err := g.Wait()
	steps, waits := r.sync.Stats()
	r.logger.Info().Uint64("steps", steps).Uint64("waits", waits).Msg("Live runner stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *LiveRunner) watch(ctx context.Context) error {
	for {
		if r.sync.Stopped() {
			return nil
		}
		if !r.sync.Finished() && r.done() && r.idle() {
			r.logger.Debug().Msg("Feeds finished, flushing barrier")
			r.sync.Finish()
		}
		if r.sync.Finished() && r.drained() {
			if n := r.sync.Dropped(); n > 0 {
				r.logger.Warn().Uint64("dropped", n).Msg("Replay ended with unmatched bars")
			}
			r.sync.Stop()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.check):
		}
	}
}

func (r *LiveRunner) idle() bool {
	for _, p := range r.pollers {
		if !p.Idle() {
			return false
		}
	}
	return true
}

func (r *LiveRunner) drained() bool {
	for _, sym := range r.sync.Symbols() {
		if r.sync.Pending(sym) > 0 {
			return false
		}
	}
	return true
}

// Stop asks every loop to return at its next iteration.
func (r *LiveRunner) Stop() {
	r.sync.Stop()
}
