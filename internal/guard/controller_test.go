package guard

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/audit"
	"tradepipe-go/internal/portfolio"
	"tradepipe-go/internal/signal"
)

func newController(cfg Config, ledger *portfolio.Ledger, sink audit.Sink) *Controller {
	return NewController(cfg, ledger, sink, zerolog.Nop())
}

func TestDrawdownBreachPausesTrading(t *testing.T) {
	ledger := portfolio.NewLedger(1000, 0, 0, nil)
	ctrl := newController(Config{DrawdownThreshold: 0.10, Cooldown: time.Hour}, ledger, nil)

	ledger.Open("BTCUSDT", signal.Buy, 10, 10)
	ledger.MarkPrice("BTCUSDT", 20) // peak equity 1100
	ledger.MarkPrice("BTCUSDT", 7)  // equity 970, drawdown ~11.8%

	ctrl.Check()
	if ctrl.State() != StatePaused {
		t.Fatalf("expected Paused after 12%% drawdown, got %s", ctrl.State())
	}
	if ctrl.AllowOpen() {
		t.Fatalf("paused controller must suppress opens")
	}

	alerts := ctrl.Alerts(true)
	if len(alerts) != 1 || alerts[0].Severity != SeverityHigh {
		t.Fatalf("expected one high-severity alert, got %+v", alerts)
	}
}

func TestPauseCooldownResumes(t *testing.T) {
	ledger := portfolio.NewLedger(1000, 0, 0, nil)
	ctrl := newController(Config{DrawdownThreshold: 0.10, Cooldown: 10 * time.Millisecond}, ledger, nil)

	ledger.Open("BTCUSDT", signal.Buy, 10, 10)
	ledger.MarkPrice("BTCUSDT", 20)
	ledger.MarkPrice("BTCUSDT", 7)
	ctrl.Check()
	if ctrl.State() != StatePaused {
		t.Fatalf("expected Paused, got %s", ctrl.State())
	}

	time.Sleep(20 * time.Millisecond)
	if ctrl.State() != StateNormal {
		t.Fatalf("expected auto-resume after cooldown, got %s", ctrl.State())
	}
	if !ctrl.AllowOpen() {
		t.Fatalf("resumed controller must allow opens")
	}
}

func TestDailyLossBreachPauses(t *testing.T) {
	ledger := portfolio.NewLedger(1000, 0, 0, nil)
	ctrl := newController(Config{DailyLossLimit: 0.05, Cooldown: time.Hour}, ledger, nil)

	pos, _ := ledger.Open("XRPUSDT", signal.Buy, 100, 1)
	ledger.Close(pos.ID, 0.4) // realized -60, limit is 50

	ctrl.Check()
	if ctrl.State() != StatePaused {
		t.Fatalf("expected Paused on daily loss breach, got %s", ctrl.State())
	}
}

func TestBalanceFloorTriggersEmergencyStop(t *testing.T) {
	sink := audit.NewMemory()
	ledger := portfolio.NewLedger(60, 0, 0, nil)
	ctrl := newController(Config{BalanceFloor: 25, Cooldown: time.Hour}, ledger, sink)

	ledger.Open("XRPUSDT", signal.Buy, 80, 0.5) // balance 20 <= floor
	ctrl.Check()

	if ctrl.State() != StateEmergencyStop {
		t.Fatalf("expected EmergencyStop, got %s", ctrl.State())
	}
	if open := ledger.Snapshot().Open; len(open) != 0 {
		t.Fatalf("emergency stop must liquidate all positions, %d still open", len(open))
	}

	var critical bool
	for _, ev := range sink.ByType(audit.EventRiskAlert) {
		if ev.Detail["severity"] == "critical" {
			critical = true
		}
	}
	if !critical {
		t.Fatalf("expected critical alert in audit stream")
	}

	// Terminal until manual reset, even though balance recovered after liquidation.
	ctrl.Check()
	if ctrl.State() != StateEmergencyStop {
		t.Fatalf("emergency stop must be terminal, got %s", ctrl.State())
	}
	ctrl.Reset()
	if ctrl.State() != StateNormal {
		t.Fatalf("manual reset should restore Normal, got %s", ctrl.State())
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	ledger := portfolio.NewLedger(1000, 0, 0, nil)
	ctrl := newController(Config{DrawdownThreshold: 0.10, Cooldown: time.Hour}, ledger, nil)

	ledger.Open("BTCUSDT", signal.Buy, 10, 10)
	ledger.MarkPrice("BTCUSDT", 20)
	ledger.MarkPrice("BTCUSDT", 7)
	ctrl.Check()

	alerts := ctrl.Alerts(false)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if !ctrl.Acknowledge(alerts[0].ID) {
		t.Fatalf("acknowledge failed for known id")
	}
	if got := ctrl.Alerts(true); len(got) != 0 {
		t.Fatalf("acknowledged alert should drop from active list")
	}
	if got := ctrl.Alerts(false); len(got) != 1 {
		t.Fatalf("alert trail must never be deleted")
	}
	if ctrl.Acknowledge("nope") {
		t.Fatalf("unknown id must not acknowledge")
	}
}
