// Package guard watches portfolio health and halts trading when loss limits
// are breached. It is the only component allowed to force-close positions
// outside a strategy-driven signal.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradepipe-go/internal/audit"
	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/portfolio"
)

// State is the controller's operating mode.
type State string

const (
	// StateNormal permits the full pipeline.
	StateNormal State = "normal"
	// StatePaused suppresses new opens but still allows marks and closes.
	StatePaused State = "paused"
	// StateEmergencyStop is terminal until a manual Reset.
	StateEmergencyStop State = "emergency_stop"
)

// Severity grades a risk alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is an append-only risk notification. Acknowledgement is the only
// permitted mutation; alerts are never deleted.
type Alert struct {
	ID           string
	Category     string
	Severity     Severity
	Message      string
	Ts           time.Time
	Acknowledged bool
}

// Config holds the protective thresholds.
type Config struct {
	DrawdownThreshold float64       // fraction of peak equity
	DailyLossLimit    float64       // fraction of starting cash
	Cooldown          time.Duration // pause duration before auto-resume
	BalanceFloor      float64       // absolute balance triggering emergency stop
	CheckInterval     time.Duration
}

// Controller runs the Normal/Paused/EmergencyStop state machine over fresh
// ledger snapshots.
type Controller struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	pausedUntil time.Time
	alerts      []Alert
	ledger      *portfolio.Ledger
	sink        audit.Sink
	log         zerolog.Logger
}

// NewController builds a controller in the Normal state.
func NewController(cfg Config, ledger *portfolio.Ledger, sink audit.Sink, log zerolog.Logger) *Controller {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Controller{cfg: cfg, state: StateNormal, ledger: ledger, sink: sink, log: log}
}

// State reports the current mode, resuming from an expired pause first.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeResumeLocked()
	return c.state
}

// AllowOpen reports whether new positions may be opened right now.
// Marks and closes stay allowed in every state.
func (c *Controller) AllowOpen() bool {
	return c.State() == StateNormal
}

// Check evaluates a fresh portfolio snapshot against the thresholds. It is
// called after every ledger update and on the periodic timer; the snapshot
// is taken here, never cached, because the execution path mutates the
// ledger concurrently.
func (c *Controller) Check() {
	state := c.ledger.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeResumeLocked()

	if c.state == StateEmergencyStop {
		return
	}

	if state.Balance <= c.cfg.BalanceFloor {
		c.emergencyStopLocked(state)
		return
	}

	if c.state == StatePaused {
		return
	}

	if dd := state.Drawdown(); c.cfg.DrawdownThreshold > 0 && dd > c.cfg.DrawdownThreshold {
		c.pauseLocked(fmt.Sprintf("drawdown %.1f%% exceeds %.1f%% threshold", dd*100, c.cfg.DrawdownThreshold*100))
		return
	}

	if c.cfg.DailyLossLimit > 0 && state.DailyRealized < -c.cfg.DailyLossLimit*state.StartingCash {
		c.pauseLocked(fmt.Sprintf("daily realized loss %.2f exceeds limit", state.DailyRealized))
	}
}

// Watch runs periodic checks until the context is canceled.
func (c *Controller) Watch(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check()
		}
	}
}

// Reset manually clears an emergency stop back to Normal.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEmergencyStop {
		return
	}
	c.setStateLocked(StateNormal)
	c.log.Warn().Msg("emergency stop manually reset")
}

// Alerts returns a copy of the alert trail; activeOnly filters acknowledged ones.
func (c *Controller) Alerts(activeOnly bool) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, 0, len(c.alerts))
	for _, a := range c.alerts {
		if activeOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Acknowledge marks one alert as seen.
func (c *Controller) Acknowledge(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.alerts {
		if c.alerts[i].ID == id {
			c.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

func (c *Controller) maybeResumeLocked() {
	if c.state == StatePaused && !c.pausedUntil.IsZero() && time.Now().After(c.pausedUntil) {
		c.setStateLocked(StateNormal)
		c.log.Info().Msg("cooldown elapsed, trading resumed")
	}
}

func (c *Controller) pauseLocked(reason string) {
	c.setStateLocked(StatePaused)
	c.pausedUntil = time.Now().Add(c.cfg.Cooldown)
	c.emitAlertLocked("loss_limit", SeverityHigh, reason)
	c.log.Warn().Str("reason", reason).Dur("cooldown", c.cfg.Cooldown).Msg("trading paused")
}

func (c *Controller) emergencyStopLocked(state portfolio.State) {
	c.setStateLocked(StateEmergencyStop)
	msg := fmt.Sprintf("balance %.2f at or below floor %.2f", state.Balance, c.cfg.BalanceFloor)
	c.emitAlertLocked("balance_floor", SeverityCritical, msg)
	c.log.Error().Str("reason", msg).Msg("EMERGENCY STOP: liquidating all positions")

	// Close everything at the best available (last marked) price.
	for _, pos := range state.Open {
		price := pos.CurrentPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		if _, err := c.ledger.Close(pos.ID, price); err != nil {
			c.log.Error().Err(err).Str("instrument", pos.Instrument).Msg("emergency close failed")
		}
	}
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	switch s {
	case StateNormal:
		metrics.GuardState.Set(0)
	case StatePaused:
		metrics.GuardState.Set(1)
	case StateEmergencyStop:
		metrics.GuardState.Set(2)
	}
}

func (c *Controller) emitAlertLocked(category string, severity Severity, message string) {
	alert := Alert{
		ID:       uuid.NewString(),
		Category: category,
		Severity: severity,
		Message:  message,
		Ts:       time.Now(),
	}
	c.alerts = append(c.alerts, alert)
	c.sink.Record(audit.Event{
		Type: audit.EventRiskAlert,
		Detail: map[string]any{
			"id":       alert.ID,
			"category": category,
			"severity": string(severity),
			"message":  message,
		},
	})
}
