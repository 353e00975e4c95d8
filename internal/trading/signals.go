package trading

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"fxsim/internal/errors"
	"fxsim/internal/models"
)

// Signal row actions.
const (
	ActionPropose    = "propose"
	ActionInvalidate = "invalidate"
)

// SignalRow is one line of a scheduled signal file.
type SignalRow struct {
	Timestamp    string  `csv:"timestamp"`
	Action       string  `csv:"action"`
	Symbol       string  `csv:"symbol"`
	Side         string  `csv:"side"`
	Kind         string  `csv:"kind"`
	Entry        float64 `csv:"entry"`
	SL           float64 `csv:"sl"`
	TP           float64 `csv:"tp"`
	RiskFraction float64 `csv:"risk"`
	Anchor       float64 `csv:"anchor"`
	NewLevel     float64 `csv:"new_level"`
	TradeID      string  `csv:"trade_id"`
}

type scheduledSignal struct {
	at  time.Time
	row SignalRow
}

// ScheduledSignals replays proposals and invalidations recorded with a
// timestamp. A signal is emitted on the first bar at or after its timestamp.
type ScheduledSignals struct {
	signals []scheduledSignal
	next    int
}

// LoadScheduledSignals reads a scheduled signal CSV file.
func LoadScheduledSignals(path string) (*ScheduledSignals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening signals %s", path)
	}
	defer f.Close()
	return ParseScheduledSignals(f)
}

// ParseScheduledSignals reads scheduled signals in CSV form from r.
func ParseScheduledSignals(r io.Reader) (*ScheduledSignals, error) {
	var rows []SignalRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "parsing signals")
	}
	return NewScheduledSignals(rows)
}

// NewScheduledSignals orders rows by timestamp, keeping file order for ties.
func NewScheduledSignals(rows []SignalRow) (*ScheduledSignals, error) {
	signals := make([]scheduledSignal, 0, len(rows))
	for i, row := range rows {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(row.Timestamp))
		if err != nil {
			return nil, errors.Wrapf(err, "signal row %d", i+1)
		}
		row.Action = strings.ToLower(strings.TrimSpace(row.Action))
		if row.Action != ActionPropose && row.Action != ActionInvalidate {
			return nil, errors.NewValidationError("action", row.Action, "must be propose or invalidate")
		}
		signals = append(signals, scheduledSignal{at: at, row: row})
	}
	sort.SliceStable(signals, func(i, j int) bool { return signals[i].at.Before(signals[j].at) })
	return &ScheduledSignals{signals: signals}, nil
}

// OnBar emits every signal due at the bars' timestamp.
func (s *ScheduledSignals) OnBar(index int, bars models.BarSet) ([]models.TradeProposal, []models.Invalidation) {
	now := bars.Timestamp()
	var proposals []models.TradeProposal
	var invalidations []models.Invalidation

	for s.next < len(s.signals) && !s.signals[s.next].at.After(now) {
		row := s.signals[s.next].row
		s.next++

		switch row.Action {
		case ActionPropose:
			proposals = append(proposals, models.TradeProposal{
				Symbol:       row.Symbol,
				Side:         models.OrderSide(strings.ToUpper(row.Side)),
				EntryKind:    models.OrderKind(strings.ToUpper(row.Kind)),
				EntryPrice:   row.Entry,
				SLPrice:      row.SL,
				TPPrice:      row.TP,
				RiskFraction: row.RiskFraction,
				AnchorLevel:  row.Anchor,
			})
		case ActionInvalidate:
			invalidations = append(invalidations, models.Invalidation{
				TradeID:     row.TradeID,
				Symbol:      row.Symbol,
				AnchorLevel: row.Anchor,
				NewLevel:    row.NewLevel,
			})
		}
	}
	return proposals, invalidations
}

// Remaining returns the number of signals not yet emitted.
func (s *ScheduledSignals) Remaining() int {
	return len(s.signals) - s.next
}
