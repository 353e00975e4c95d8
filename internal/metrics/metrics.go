// Package metrics exposes Prometheus collectors fed by the simulation engine.
//
// Exposed series:
//   - fxsim_fills_total{kind,side}        fills by order kind and side
//   - fxsim_slippage_price_total          summed slippage in price units
//   - fxsim_trades_closed_total{state}    terminal trades by state
//   - fxsim_realized_pnl                  cumulative realized pnl
//   - fxsim_rejections_total{reason}      rejected proposals (validation|sizing|other)
//   - fxsim_equity, fxsim_cash            latest account snapshot
//   - fxsim_open_positions                open positions after the last step
//   - fxsim_steps_total                   simulation steps
//   - fxsim_feed_gaps_total{symbol}       barrier feed gap reports
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fxsim/internal/errors"
	"fxsim/internal/models"
)

// Recorder owns a private registry so several engines can run in one process.
type Recorder struct {
	registry *prometheus.Registry

	fills         *prometheus.CounterVec
	slippage      prometheus.Counter
	tradesClosed  *prometheus.CounterVec
	realizedPnL   prometheus.Gauge
	rejections    *prometheus.CounterVec
	equity        prometheus.Gauge
	cash          prometheus.Gauge
	openPositions prometheus.Gauge
	steps         prometheus.Counter
	feedGaps      *prometheus.CounterVec

	shutdownTimeout time.Duration
}

// NewRecorder creates and registers all collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry:        prometheus.NewRegistry(),
		shutdownTimeout: 5 * time.Second,
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxsim_fills_total", Help: "Order fills"},
			[]string{"kind", "side"},
		),
		slippage: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "fxsim_slippage_price_total", Help: "Slippage applied, in price units"},
		),
		tradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxsim_trades_closed_total", Help: "Terminal bracket trades by state"},
			[]string{"state"},
		),
		realizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fxsim_realized_pnl", Help: "Cumulative realized pnl"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxsim_rejections_total", Help: "Rejected trade proposals"},
			[]string{"reason"},
		),
		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fxsim_equity", Help: "Account equity"},
		),
		cash: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fxsim_cash", Help: "Account cash"},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fxsim_open_positions", Help: "Open positions"},
		),
		steps: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "fxsim_steps_total", Help: "Simulation steps"},
		),
		feedGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxsim_feed_gaps_total", Help: "Feed gap reports from the bar barrier"},
			[]string{"symbol"},
		),
	}

	r.registry.MustRegister(r.fills, r.slippage, r.tradesClosed, r.realizedPnL, r.rejections)
	r.registry.MustRegister(r.equity, r.cash, r.openPositions, r.steps, r.feedGaps)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordTrade counts a terminal trade.
func (r *Recorder) RecordTrade(ctx context.Context, rec models.LedgerRecord) error {
	r.tradesClosed.WithLabelValues(string(rec.State)).Inc()
	if rec.PnL != nil {
		r.realizedPnL.Add(*rec.PnL)
	}
	return nil
}

// RecordExecution counts a fill.
func (r *Recorder) RecordExecution(ctx context.Context, e models.ExecutionLogEntry) error {
	r.fills.WithLabelValues(string(e.OrderKind), string(e.Side)).Inc()
	if e.SlippageApplied > 0 {
		r.slippage.Add(e.SlippageApplied)
	}
	return nil
}

// OnAccount records the account snapshot taken after a step.
func (r *Recorder) OnAccount(snap models.AccountSnapshot) {
	r.steps.Inc()
	r.equity.Set(snap.Equity)
	r.cash.Set(snap.Cash)
	r.openPositions.Set(float64(snap.OpenPositions))
}

// OnRejection counts a rejected proposal by error class.
func (r *Recorder) OnRejection(p models.TradeProposal, err error) {
	reason := "other"
	switch {
	case errors.Is(err, errors.ErrInvalidProposal):
		reason = "validation"
	case errors.Is(err, errors.ErrSizing):
		reason = "sizing"
	}
	r.rejections.WithLabelValues(reason).Inc()
}

// OnFeedGap counts a barrier feed gap report.
func (r *Recorder) OnFeedGap(gap *errors.FeedGapError) {
	r.feedGaps.WithLabelValues(gap.Symbol).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. A shutdown that cannot
// drain open connections in time is returned as an error.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return r.serve(ctx, ln)
}

func (r *Recorder) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
