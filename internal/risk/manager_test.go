package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/perpx/engine/internal/types"
)

type fakeExecutor struct {
	paused   bool
	resumed  bool
	closed   bool
	reduced  []string
}

func (f *fakeExecutor) PauseAll(reason string)         { f.paused = true }
func (f *fakeExecutor) ResumeAll()                      { f.resumed = true }
func (f *fakeExecutor) EmergencyCloseAll(reason string) { f.closed = true }
func (f *fakeExecutor) ReducePosition(exchange types.Exchange, symbol types.Symbol, ratio float64, reason string) {
	f.reduced = append(f.reduced, string(symbol))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCheckMarginTriggersEmergencyClose(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(DefaultConfig(), exec, testLogger())
	now := time.Now()

	m.OnUpdate(AccountView{Equity: 20, Notional: 100, Now: now}) // margin ratio 0.2 < 0.35

	if !exec.paused || !exec.closed {
		t.Fatalf("expected pause+emergency close, got paused=%v closed=%v", exec.paused, exec.closed)
	}
}

func TestCheckMarginRespectsCooldown(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(DefaultConfig(), exec, testLogger())
	now := time.Now()

	m.OnUpdate(AccountView{Equity: 20, Notional: 100, Now: now})
	exec.closed = false
	m.OnUpdate(AccountView{Equity: 20, Notional: 100, Now: now.Add(time.Second)})

	if exec.closed {
		t.Fatal("expected the cooldown to suppress a second emergency close")
	}
}

func TestCheckConcentrationWarnsWithoutAction(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(DefaultConfig(), exec, testLogger())
	now := time.Now()

	m.OnUpdate(AccountView{
		Equity: 1000, Notional: 1000, Now: now,
		Positions: []PositionView{{Exchange: types.Binance, Symbol: "ETH-USDT", Notional: 200}},
	})

	if exec.paused || exec.closed {
		t.Fatal("concentration check must only warn, never pause/close")
	}
	alerts := m.Alerts()
	if len(alerts) == 0 || alerts[0].Kind != "position_alert" {
		t.Fatalf("expected a position_alert, got %+v", alerts)
	}
}

func TestCheckBTCCrashReducesAltcoins(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(DefaultConfig(), exec, testLogger())
	now := time.Now()

	view := AccountView{
		Equity: 100000, Notional: 1000, Now: now,
		Positions: []PositionView{
			{Exchange: types.Binance, Symbol: "BTC-USDT", Current: 100000, IsBaseBTC: true},
			{Exchange: types.Binance, Symbol: "ETH-USDT", Current: 3000, Notional: 10},
		},
	}
	m.OnUpdate(view)
	view.Now = now.Add(time.Minute)
	view.Positions[0].Current = 90000 // 10% drop within the crash window
	m.OnUpdate(view)

	if len(exec.reduced) != 1 || exec.reduced[0] != "ETH-USDT" {
		t.Fatalf("expected ETH-USDT to be reduced on BTC crash, got %+v", exec.reduced)
	}
}

func TestCheckDrawdownUsesDailyPeakNotStartEquity(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(DefaultConfig(), exec, testLogger())
	now := time.Now()

	m.OnUpdate(AccountView{Equity: 1000, Notional: 0, Now: now}) // sets dailyStartEquity=dailyPeak=1000
	m.OnUpdate(AccountView{Equity: 1200, Notional: 0, Now: now.Add(time.Minute)}) // dailyPeak rises to 1200
	exec.closed = false

	// 1000/1200 is an 16.7% drawdown off the peak, past the 7% default limit,
	// even though it's still above the 1000 starting equity.
	m.OnUpdate(AccountView{Equity: 1000, Notional: 0, Now: now.Add(2 * time.Minute)})

	if !exec.paused || !exec.closed {
		t.Fatalf("expected drawdown off dailyPeak to trigger pause+emergency close, got paused=%v closed=%v", exec.paused, exec.closed)
	}
}

func TestCanOpenPositionDeniesWhenPaused(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(DefaultConfig(), exec, testLogger())
	now := time.Now()
	m.OnUpdate(AccountView{Equity: 20, Notional: 100, Now: now}) // triggers pause

	if m.CanOpenPosition(AccountView{Equity: 1000, Notional: 100, Now: now}) {
		t.Fatal("expected open-gate to deny while strategies are paused")
	}
}

func TestResetClearsState(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(DefaultConfig(), exec, testLogger())
	m.OnUpdate(AccountView{Equity: 20, Notional: 100, Now: time.Now()})
	m.Reset()

	if m.strategiesPaused {
		t.Fatal("expected Reset to clear strategiesPaused")
	}
}
