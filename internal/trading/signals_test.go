package trading

import (
	"strings"
	"testing"
	"time"

	"fxsim/internal/models"
)

const signalCSV = `timestamp,action,symbol,side,kind,entry,sl,tp,risk,anchor,new_level,trade_id
2024-01-01T02:00:00Z,propose,EURUSD,buy,limit,1.1,1.098,1.104,0.01,1.0995,0,
2024-01-01T01:00:00Z,INVALIDATE,EURUSD,,,0,0,0,0,1.0995,1.101,
2024-01-01T02:00:00Z,invalidate,,,,0,0,0,0,0,0,T-000001
`

func setAt(hour int) models.BarSet {
	b := bar(0, 1.1, 1.1, 1.1, 1.1)
	b.Timestamp = baseTime.Add(time.Duration(hour) * time.Hour)
	return models.BarSet{"EURUSD": b}
}

func TestParseScheduledSignals(t *testing.T) {
	s, err := ParseScheduledSignals(strings.NewReader(signalCSV))
	if err != nil {
		t.Fatalf("ParseScheduledSignals: %v", err)
	}
	if s.Remaining() != 3 {
		t.Fatalf("remaining = %d", s.Remaining())
	}

	props, invs := s.OnBar(0, setAt(0))
	if len(props) != 0 || len(invs) != 0 {
		t.Errorf("bar 0 emitted %d/%d", len(props), len(invs))
	}

	props, invs = s.OnBar(1, setAt(1))
	if len(props) != 0 || len(invs) != 1 {
		t.Fatalf("bar 1 emitted %d/%d", len(props), len(invs))
	}
	if invs[0].Symbol != "EURUSD" || invs[0].AnchorLevel != 1.0995 || invs[0].NewLevel != 1.101 {
		t.Errorf("invalidation = %+v", invs[0])
	}

	// Signals missed between bars are emitted on the next bar.
	props, invs = s.OnBar(2, setAt(3))
	if len(props) != 1 || len(invs) != 1 {
		t.Fatalf("bar 2 emitted %d/%d", len(props), len(invs))
	}
	p := props[0]
	if p.Side != models.OrderSideBuy || p.EntryKind != models.OrderKindLimit {
		t.Errorf("proposal side/kind = %s/%s", p.Side, p.EntryKind)
	}
	if p.EntryPrice != 1.1 || p.SLPrice != 1.098 || p.TPPrice != 1.104 || p.RiskFraction != 0.01 || p.AnchorLevel != 1.0995 {
		t.Errorf("proposal = %+v", p)
	}
	if invs[0].TradeID != "T-000001" {
		t.Errorf("invalidation trade id = %q", invs[0].TradeID)
	}
	if s.Remaining() != 0 {
		t.Errorf("remaining = %d", s.Remaining())
	}
}

func TestScheduledSignalsRejectBadRows(t *testing.T) {
	if _, err := NewScheduledSignals([]SignalRow{{Timestamp: "yesterday", Action: ActionPropose}}); err == nil {
		t.Error("expected error for bad timestamp")
	}
	if _, err := NewScheduledSignals([]SignalRow{{Timestamp: "2024-01-01T00:00:00Z", Action: "hold"}}); err == nil {
		t.Error("expected error for unknown action")
	}
}
