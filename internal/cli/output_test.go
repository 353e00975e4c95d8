package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"

	"fxsim/internal/models"
)

func plainOutput(buf *bytes.Buffer) *Output {
	return &Output{writer: buf}
}

func TestTableAlignment(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(plainOutput(&buf), "Symbol", "Price").AlignRight(1)
	table.AddRow("EURUSD", "1.10010")
	table.AddRow("USDJPY", "151.230")
	table.AddRow("XAUUSD", "2034.1000", "dropped")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != "Symbol      Price" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "──────  ─────────" {
		t.Errorf("rule = %q", lines[1])
	}
	if lines[2] != "EURUSD    1.10010" || lines[4] != "XAUUSD  2034.1000" {
		t.Errorf("rows = %q", lines[2:])
	}
}

func TestStyledWidthIgnoresEscapes(t *testing.T) {
	o := &Output{color: true}
	styled := o.State(models.TradeTPHit)
	if styled == string(models.TradeTPHit) {
		t.Fatalf("expected styling")
	}
	if visibleWidth(styled) != len("TP_HIT") {
		t.Errorf("visibleWidth = %d", visibleWidth(styled))
	}
}

func TestBoxPlain(t *testing.T) {
	var buf bytes.Buffer
	plainOutput(&buf).Box("Run", []string{"Trades: 3"})
	want := "+-----------+\n| Run       |\n+-----------+\n| Trades: 3 |\n+-----------+\n"
	if buf.String() != want {
		t.Errorf("box =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteLedgerCSV(t *testing.T) {
	pnl := 12.5
	opened := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	records := []models.LedgerRecord{
		{TradeID: "T-000001", Symbol: "EURUSD", Side: models.OrderSideBuy, State: models.TradeTPHit,
			Size: 1000, OpenedAt: opened, ClosedAt: opened.Add(time.Hour), PnL: &pnl},
		{TradeID: "T-000002", Symbol: "EURUSD", Side: models.OrderSideSell, State: models.TradeCanceled, CloseReason: "invalidated"},
	}

	var buf bytes.Buffer
	if err := WriteLedgerCSV(&buf, records); err != nil {
		t.Fatalf("WriteLedgerCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "trade_id,symbol,side,state,") {
		t.Errorf("header = %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}

	var rows []LedgerCSVRow
	if err := gocsv.Unmarshal(&buf, &rows); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].PnL != "12.5" || rows[0].ClosedAt != "2024-01-02T11:00:00Z" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].PnL != "" || rows[1].OpenedAt != "" || rows[1].CloseReason != "invalidated" {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestReadBarsCSV(t *testing.T) {
	in := `symbol,timestamp,open,high,low,close,volume
gbpusd,2024-01-02T10:00:00Z,1.27,1.28,1.26,1.275,10
EURUSD,2024-01-02T10:00:00Z,1.1,1.2,1.0,1.15,5
EURUSD,2024-01-02T09:00:00Z,1.1,1.2,1.0,1.15,5
`
	bars, err := ReadBarsCSV(strings.NewReader(in), nil)
	if err != nil {
		t.Fatalf("ReadBarsCSV: %v", err)
	}
	if len(bars["GBPUSD"]) != 1 || len(bars["EURUSD"]) != 2 {
		t.Fatalf("bars = %v", bars)
	}
	if bars["EURUSD"][0].Timestamp.Hour() != 9 {
		t.Errorf("series not sorted: %v", bars["EURUSD"])
	}

	only, err := ReadBarsCSV(strings.NewReader(in), []string{"eurusd"})
	if err != nil || len(only) != 1 {
		t.Errorf("filtered = %v, %v", only, err)
	}

	bad := "symbol,timestamp,open,high,low,close,volume\nEURUSD,2024-01-02T10:00:00Z,1.1,1.0,1.2,1.1,1\n"
	if _, err := ReadBarsCSV(strings.NewReader(bad), nil); err == nil {
		t.Error("expected error for high below low")
	}
}
