// Package integration runs the simulator end to end through its command line.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"fxsim/internal/cli"
	"fxsim/internal/models"
	"fxsim/internal/store"
)

const testConfig = `mode = "backtest"

[feed]
symbols = ["EURUSD"]
timeframe = "1h"

[log]
level = "error"
`

// One BUY LIMIT bracket: the entry fills on the second bar at 1.1001 and
// the take profit on the third at 1.1039.
const barsCSV = `symbol,timestamp,open,high,low,close,volume
EURUSD,2024-01-02T09:00:00Z,1.1000,1.1002,1.0998,1.1000,100
EURUSD,2024-01-02T10:00:00Z,1.1005,1.1008,1.0995,1.1002,100
EURUSD,2024-01-02T11:00:00Z,1.1020,1.1045,1.1015,1.1040,100
`

const signalsCSV = `timestamp,action,symbol,side,kind,entry,sl,tp,risk,anchor,new_level,trade_id
2024-01-02T09:00:00Z,propose,EURUSD,buy,limit,1.1000,1.0980,1.1040,0.01,1.0995,0,
`

type workspace struct {
	dir     string
	bars    string
	signals string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:     dir,
		bars:    filepath.Join(dir, "bars.csv"),
		signals: filepath.Join(dir, "signals.csv"),
	}
	for path, content := range map[string]string{
		filepath.Join(dir, "config.toml"): testConfig,
		ws.bars:                           barsCSV,
		ws.signals:                        signalsCSV,
	} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	return ws
}

// run executes one fxsim command against the workspace config.
func (ws workspace) run(t *testing.T, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := cli.NewRootCmd(zerolog.Nop())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", ws.dir}, args...))
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("fxsim %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

type backtestOutput struct {
	RunID  string `json:"run_id"`
	Result struct {
		Bars        int                   `json:"bars"`
		FinalEquity float64               `json:"final_equity"`
		TotalTrades int                   `json:"total_trades"`
		Rejections  int                   `json:"rejections"`
		Records     []models.LedgerRecord `json:"records"`
	} `json:"result"`
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func checkTakeProfit(t *testing.T, rec models.LedgerRecord) {
	t.Helper()
	if rec.TradeID != "T-000001" || rec.State != models.TradeTPHit {
		t.Fatalf("record = %+v", rec)
	}
	if !near(rec.ExecutedEntryPrice, 1.1001) || !near(rec.ExitPrice, 1.1039) {
		t.Errorf("entry/exit = %v/%v, want 1.1001/1.1039", rec.ExecutedEntryPrice, rec.ExitPrice)
	}
	if rec.Size <= 0 || rec.PnL == nil {
		t.Fatalf("size %d pnl %v", rec.Size, rec.PnL)
	}
	want := (rec.ExitPrice - rec.ExecutedEntryPrice) * float64(rec.Size)
	if math.Abs(*rec.PnL-want) > 1e-6 {
		t.Errorf("pnl = %v, want %v", *rec.PnL, want)
	}
}

func TestBacktestFromStoreThroughExport(t *testing.T) {
	ws := newWorkspace(t)

	ws.run(t, "data", "import", ws.bars)

	var bt backtestOutput
	out := ws.run(t, "backtest", "--signals", ws.signals, "--json")
	if err := json.Unmarshal([]byte(out), &bt); err != nil {
		t.Fatalf("decoding backtest output: %v\n%s", err, out)
	}
	if bt.RunID == "" || bt.Result.Bars != 3 || bt.Result.Rejections != 0 {
		t.Fatalf("backtest = %+v", bt)
	}
	if len(bt.Result.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(bt.Result.Records))
	}
	checkTakeProfit(t, bt.Result.Records[0])
	if !near(bt.Result.FinalEquity, 100000+*bt.Result.Records[0].PnL) {
		t.Errorf("final equity = %v", bt.Result.FinalEquity)
	}

	var runs []store.Run
	if err := json.Unmarshal([]byte(ws.run(t, "ledger", "runs", "--json")), &runs); err != nil {
		t.Fatalf("decoding runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != bt.RunID || runs[0].Mode != "backtest" || runs[0].Trades != 1 {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].FinalEquity == nil || !near(*runs[0].FinalEquity, bt.Result.FinalEquity) {
		t.Errorf("stored final equity = %v", runs[0].FinalEquity)
	}

	var stored []models.LedgerRecord
	if err := json.Unmarshal([]byte(ws.run(t, "ledger", "show", bt.RunID, "--json")), &stored); err != nil {
		t.Fatalf("decoding ledger: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored records = %d", len(stored))
	}
	checkTakeProfit(t, stored[0])

	exportPath := filepath.Join(ws.dir, "trades.csv")
	ws.run(t, "ledger", "export", bt.RunID, "--out", exportPath)
	f, err := os.Open(exportPath)
	if err != nil {
		t.Fatalf("opening export: %v", err)
	}
	defer f.Close()
	var rows []cli.LedgerCSVRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if len(rows) != 1 || rows[0].TradeID != "T-000001" || rows[0].State != string(models.TradeTPHit) {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].PnL == "" || rows[0].ClosedAt != "2024-01-02T11:00:00Z" {
		t.Errorf("row = %+v", rows[0])
	}

	var stats models.ExecutionStats
	if err := json.Unmarshal([]byte(ws.run(t, "stats", bt.RunID, "--json")), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalExecutions != 2 || stats.SpreadPips != 2 || stats.SlippagePips != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLiveReplayMatchesBacktest(t *testing.T) {
	ws := newWorkspace(t)

	var bt backtestOutput
	if err := json.Unmarshal([]byte(ws.run(t, "backtest", "--bars", ws.bars, "--signals", ws.signals, "--no-save", "--json")), &bt); err != nil {
		t.Fatalf("decoding backtest: %v", err)
	}

	var live struct {
		Steps   int                    `json:"steps"`
		Account models.AccountSnapshot `json:"account"`
		Records []models.LedgerRecord  `json:"records"`
	}
	out := ws.run(t, "live", "--bars", ws.bars, "--signals", ws.signals, "--poll-interval", "1ms", "--no-save", "--json")
	if err := json.Unmarshal([]byte(out), &live); err != nil {
		t.Fatalf("decoding live output: %v\n%s", err, out)
	}

	if live.Steps != 3 {
		t.Errorf("steps = %d, want 3", live.Steps)
	}
	if len(live.Records) != 1 || len(bt.Result.Records) != 1 {
		t.Fatalf("records live %d backtest %d", len(live.Records), len(bt.Result.Records))
	}
	checkTakeProfit(t, live.Records[0])
	if *live.Records[0].PnL != *bt.Result.Records[0].PnL || live.Records[0].Size != bt.Result.Records[0].Size {
		t.Errorf("live %+v != backtest %+v", live.Records[0], bt.Result.Records[0])
	}
	if !near(live.Account.Equity, bt.Result.FinalEquity) {
		t.Errorf("live equity %v, backtest %v", live.Account.Equity, bt.Result.FinalEquity)
	}
}

func TestConfigPathCommand(t *testing.T) {
	ws := newWorkspace(t)
	out := ws.run(t, "config", "path")
	if !strings.Contains(out, ws.dir) {
		t.Errorf("config path output %q", out)
	}
}
