// Package stream provides the multi-feed bar synchronizer and the bar pollers
// that feed it in live and replay mode.
package stream

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/errors"
	"fxsim/internal/logging"
	"fxsim/internal/models"
)

// SyncConfig holds configuration for the Synchronizer.
type SyncConfig struct {
	// PollInterval is how long the consumer sleeps while the barrier is closed.
	PollInterval time.Duration
	// GapWarnAfter is the number of consecutive waits between feed gap reports.
	// Zero disables reporting.
	GapWarnAfter int
}

// DefaultSyncConfig returns the default synchronizer configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PollInterval: 250 * time.Millisecond,
		GapWarnAfter: 40,
	}
}

// StepFunc runs one simulation step over a synchronized bar set.
type StepFunc func(ctx context.Context, bars models.BarSet) error

// barQueue is a FIFO of bars for one symbol with its own lock.
type barQueue struct {
	mu   sync.Mutex
	bars []models.Bar
}

func (q *barQueue) push(bar models.Bar) {
	q.mu.Lock()
	q.bars = append(q.bars, bar)
	q.mu.Unlock()
}

func (q *barQueue) peek() (models.Bar, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bars) == 0 {
		return models.Bar{}, false
	}
	return q.bars[0], true
}

func (q *barQueue) pop() models.Bar {
	q.mu.Lock()
	defer q.mu.Unlock()
	bar := q.bars[0]
	q.bars = q.bars[1:]
	return bar
}

func (q *barQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bars)
}

// Synchronizer is a barrier over one bar queue per tracked symbol. A step is
// released only when every queue has a head bar and all heads share the same
// timestamp. Producers push concurrently; a single consumer calls TryStep or Run.
type Synchronizer struct {
	config  SyncConfig
	symbols []string
	queues  map[string]*barQueue

	waits    int
	onGap    func(*errors.FeedGapError)
	stopped  atomic.Bool
	finished atomic.Bool

	steps      atomic.Uint64
	totalWaits atomic.Uint64
	dropped    atomic.Uint64

	logger zerolog.Logger
}

// NewSynchronizer creates a synchronizer tracking symbols.
func NewSynchronizer(symbols []string, config SyncConfig, logger zerolog.Logger) *Synchronizer {
	s := &Synchronizer{
		config: config,
		queues: make(map[string]*barQueue, len(symbols)),
		logger: logging.WithComponent(logger, "synchronizer"),
	}
	for _, sym := range symbols {
		if _, dup := s.queues[sym]; dup {
			continue
		}
		s.queues[sym] = &barQueue{}
		s.symbols = append(s.symbols, sym)
	}
	sort.Strings(s.symbols)
	return s
}

// OnGap registers a callback for feed gap reports. It must be set before Run.
func (s *Synchronizer) OnGap(fn func(*errors.FeedGapError)) {
	s.onGap = fn
}

// Symbols returns the tracked symbols in sorted order.
func (s *Synchronizer) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Push appends a bar to the symbol's queue.
func (s *Synchronizer) Push(symbol string, bar models.Bar) error {
	q, ok := s.queues[symbol]
	if !ok {
		return errors.Wrapf(errors.ErrUnknownSymbol, "push %s", symbol)
	}
	q.push(bar)
	return nil
}

// Pending returns the number of queued bars for symbol.
func (s *Synchronizer) Pending(symbol string) int {
	q, ok := s.queues[symbol]
	if !ok {
		return 0
	}
	return q.len()
}

// TryStep checks the barrier once. When every head is present with the same
// timestamp it dequeues all heads and returns them; otherwise nothing is
// consumed and ok is false.
//
// After Finish, bars that can no longer be matched are dropped and reported
// as feed gaps instead of held: a head earlier than another feed's head, and
// every bar still queued once some feed's queue is empty.
func (s *Synchronizer) TryStep() (models.BarSet, bool) {
	if len(s.symbols) == 0 {
		return nil, false
	}

	for {
		heads := make(map[string]models.Bar, len(s.symbols))
		for _, sym := range s.symbols {
			head, ok := s.queues[sym].peek()
			if !ok {
				if s.finished.Load() {
					s.discard()
					return nil, false
				}
				s.wait(sym, time.Time{})
				return nil, false
			}
			heads[sym] = head
		}

		lag := s.laggard(heads)
		latest := heads[lag].Timestamp
		aligned := true
		for _, sym := range s.symbols {
			if !heads[sym].Timestamp.Equal(latest) {
				aligned = false
				break
			}
		}
		if !aligned {
			if !s.finished.Load() {
				s.wait(lag, latest)
				return nil, false
			}
			// Feeds deliver in timestamp order, so a head before latest has no partner left.
			for _, sym := range s.symbols {
				if heads[sym].Timestamp.Before(latest) {
					dropped := s.queues[sym].pop()
					s.dropped.Add(1)
					s.report(sym, dropped.Timestamp, s.waits, "Dropped unmatched bar")
				}
			}
			continue
		}

		// Only the consumer pops, so the peeked heads are still in place.
		set := make(models.BarSet, len(s.symbols))
		for _, sym := range s.symbols {
			set[sym] = s.queues[sym].pop()
		}
		s.waits = 0
		s.steps.Add(1)
		return set, true
	}
}

// Finish marks the producers as done. Later TryStep calls flush bars that
// cannot be released instead of waiting on them.
func (s *Synchronizer) Finish() {
	s.finished.Store(true)
}

// Finished reports whether Finish has been called.
func (s *Synchronizer) Finished() bool {
	return s.finished.Load()
}

func (s *Synchronizer) discard() {
	for _, sym := range s.symbols {
		q := s.queues[sym]
		n := q.len()
		if n == 0 {
			continue
		}
		head, _ := q.peek()
		for i := 0; i < n; i++ {
			q.pop()
		}
		s.dropped.Add(uint64(n))
		s.report(sym, head.Timestamp, n, "Discarded bars with no partner feed")
	}
}

// laggard returns the symbol whose head is latest: the other feeds are
// missing that bar.
func (s *Synchronizer) laggard(heads map[string]models.Bar) string {
	latest := s.symbols[0]
	for _, sym := range s.symbols[1:] {
		if heads[sym].Timestamp.After(heads[latest].Timestamp) {
			latest = sym
		}
	}
	return latest
}

func (s *Synchronizer) wait(symbol string, head time.Time) {
	s.waits++
	s.totalWaits.Add(1)
	if s.config.GapWarnAfter <= 0 || s.waits%s.config.GapWarnAfter != 0 {
		return
	}
	s.report(symbol, head, s.waits, "Barrier waiting on feed")
}

func (s *Synchronizer) report(symbol string, head time.Time, waiting int, msg string) {
	gap := errors.NewFeedGapError(symbol, head, waiting)
	s.logger.Warn().Err(gap).Str("symbol", symbol).Int("waits", waiting).Msg(msg)
	if s.onGap != nil {
		s.onGap(gap)
	}
}

// Run is the consumer loop. It checks ctx and the stop flag once per
// iteration, runs step for every released bar set, and sleeps between
// barrier checks. A step error ends the loop.
func (s *Synchronizer) Run(ctx context.Context, step StepFunc) error {
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = DefaultSyncConfig().PollInterval
	}

	for {
		if s.stopped.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if set, ok := s.TryStep(); ok {
			if err := step(ctx, set); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Stop asks Run to return at its next iteration.
func (s *Synchronizer) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (s *Synchronizer) Stopped() bool {
	return s.stopped.Load()
}

// Dropped returns the number of bars discarded after Finish.
func (s *Synchronizer) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats returns the number of released steps and barrier waits so far.
func (s *Synchronizer) Stats() (steps, waits uint64) {
	return s.steps.Load(), s.totalWaits.Load()
}
