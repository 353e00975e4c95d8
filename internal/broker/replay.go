package broker

import (
	"context"
	"sync"

	"fxsim/internal/errors"
	"fxsim/internal/models"
)

// ReplaySource serves recorded bars as if they were arriving live. Each call
// to LatestBar advances the symbol's cursor by one bar; once exhausted the
// last bar is returned again.
type ReplaySource struct {
	bars   map[string][]models.Bar
	cursor map[string]int

	mu sync.Mutex
}

// NewReplaySource creates a replay source over bars keyed by symbol. Each
// series must be in timestamp order.
func NewReplaySource(bars map[string][]models.Bar) *ReplaySource {
	src := &ReplaySource{
		bars:   make(map[string][]models.Bar, len(bars)),
		cursor: make(map[string]int, len(bars)),
	}
	for sym, series := range bars {
		cp := make([]models.Bar, len(series))
		copy(cp, series)
		src.bars[sym] = cp
	}
	return src
}

// LatestBar returns the next recorded bar of symbol.
func (r *ReplaySource) LatestBar(ctx context.Context, symbol string) (models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return models.Bar{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	series, ok := r.bars[symbol]
	if !ok || len(series) == 0 {
		return models.Bar{}, errors.NewDataError("bars", symbol, "no recorded bars", errors.ErrDataNotFound)
	}
	i := r.cursor[symbol]
	if i >= len(series) {
		return series[len(series)-1], nil
	}
	r.cursor[symbol] = i + 1
	return series[i], nil
}

// Exhausted reports whether every series has been fully served.
func (r *ReplaySource) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sym, series := range r.bars {
		if r.cursor[sym] < len(series) {
			return false
		}
	}
	return true
}
