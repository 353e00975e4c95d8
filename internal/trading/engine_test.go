package trading

import (
	"context"
	"reflect"
	"testing"

	"fxsim/internal/broker"
	"fxsim/internal/models"
)

type accountRecorder struct {
	snaps []models.AccountSnapshot
}

func (r *accountRecorder) OnAccount(s models.AccountSnapshot) { r.snaps = append(r.snaps, s) }
func (r *accountRecorder) OnRejection(models.TradeProposal, error) {}

func TestEngineStepNotifiesObservers(t *testing.T) {
	rec := &accountRecorder{}
	e := newTestEngine(t, WithObserver(rec))

	if e.BarIndex() != -1 {
		t.Fatalf("bar index = %d before first step", e.BarIndex())
	}
	mustStep(t, e, 0, barQuiet)
	mustStep(t, e, 1, barQuiet)

	if len(rec.snaps) != 2 || e.BarIndex() != 1 {
		t.Fatalf("snapshots = %d, bar index = %d", len(rec.snaps), e.BarIndex())
	}
	if !rec.snaps[1].Timestamp.Equal(step(1, barQuiet).Timestamp()) {
		t.Errorf("snapshot time = %v", rec.snaps[1].Timestamp)
	}
}

func TestEngineCancelUnknownTrade(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Cancel(context.Background(), "T-000042"); err == nil {
		t.Error("expected error for unknown trade")
	}
}

// A fill reported by the gateway must leave the ledger exactly as the
// equivalent simulated fill does.
func TestGatewayFillMatchesSimulatedFill(t *testing.T) {
	ctx := context.Background()

	sim := newTestEngine(t)
	mustPropose(t, sim, buyProposal())
	mustStep(t, sim, 0, barQuiet)
	mustStep(t, sim, 1, barEntry)
	mustStep(t, sim, 2, barTP)
	simExecs := sim.Ledger().Executions()
	if len(simExecs) != 2 {
		t.Fatalf("simulated executions = %d, want 2", len(simExecs))
	}

	router := broker.NewPaperRouter()
	gw := newTestEngine(t, WithRouter(router), WithGatewayFills())
	id := mustPropose(t, gw, buyProposal())
	tr, _ := gw.Trade(id)
	if _, ok := router.Get(tr.EntryOrderID); !ok {
		t.Fatal("entry order not routed to gateway")
	}

	mustStep(t, gw, 0, barQuiet)
	mustStep(t, gw, 1, barEntry)
	if tr, _ = gw.Trade(id); tr.State != models.TradePending {
		t.Fatalf("gateway engine filled on its own: %s", tr.State)
	}

	report, err := router.Fill(tr.EntryOrderID, simExecs[0].ExecutedPrice, simExecs[0].Timestamp)
	if err != nil {
		t.Fatalf("router fill: %v", err)
	}
	if err := gw.ApplyGatewayFill(ctx, report); err != nil {
		t.Fatalf("ApplyGatewayFill entry: %v", err)
	}
	if _, ok := router.Get(tr.TPOrderID); !ok {
		t.Fatal("take profit not routed after entry fill")
	}

	mustStep(t, gw, 2, barTP)
	report, err = router.Fill(tr.TPOrderID, simExecs[1].ExecutedPrice, simExecs[1].Timestamp)
	if err != nil {
		t.Fatalf("router fill: %v", err)
	}
	if err := gw.ApplyGatewayFill(ctx, report); err != nil {
		t.Fatalf("ApplyGatewayFill tp: %v", err)
	}

	if !reflect.DeepEqual(sim.Ledger().Records(), gw.Ledger().Records()) {
		t.Errorf("ledger mismatch:\nsim %+v\ngw  %+v", sim.Ledger().Records(), gw.Ledger().Records())
	}
	if sim.Account().Cash != gw.Account().Cash {
		t.Errorf("cash mismatch: sim %v gw %v", sim.Account().Cash, gw.Account().Cash)
	}
	if canceled := router.Canceled(); len(canceled) != 1 || canceled[0] != tr.SLOrderID {
		t.Errorf("gateway cancels = %v, want the stop loss", canceled)
	}
	if err := gw.ApplyGatewayFill(ctx, report); err == nil {
		t.Error("expected error applying a fill twice")
	}
}

func TestSimulatedFillsClearPaperRouter(t *testing.T) {
	router := broker.NewPaperRouter()
	e := newTestEngine(t, WithRouter(router))
	id := mustPropose(t, e, buyProposal())
	tr, _ := e.Trade(id)

	mustStep(t, e, 0, barQuiet)
	mustStep(t, e, 1, barEntry)
	if _, ok := router.Get(tr.EntryOrderID); ok {
		t.Error("filled entry still resting at the gateway")
	}
	if _, ok := router.Get(tr.SLOrderID); !ok {
		t.Fatal("stop loss not routed after entry fill")
	}

	mustStep(t, e, 2, barTP)
	if tr, _ = e.Trade(id); tr.State != models.TradeTPHit {
		t.Fatalf("trade state = %s, want TP_HIT", tr.State)
	}
	if open := router.Open(); len(open) != 0 {
		t.Errorf("resting orders after close = %+v", open)
	}
	if filled := router.Filled(); !reflect.DeepEqual(filled, []string{tr.EntryOrderID, tr.TPOrderID}) {
		t.Errorf("gateway fills = %v", filled)
	}
	if canceled := router.Canceled(); len(canceled) != 1 || canceled[0] != tr.SLOrderID {
		t.Errorf("gateway cancels = %v, want the stop loss", canceled)
	}
}
