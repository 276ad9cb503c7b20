// Package portfolio owns position and balance state. The Ledger is the single
// writer: every mutation is linearized through its mutex, everyone else reads
// a consistent snapshot.
package portfolio

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepipe-go/internal/audit"
	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/signal"
)

var (
	// ErrPositionNotFound is returned for unknown or already-closed ids.
	ErrPositionNotFound = errors.New("position not found")
	// ErrPositionClosed is returned when mutating a terminated position.
	ErrPositionClosed = errors.New("position already closed")
	// ErrOpposingPosition is returned when an open would flip an existing
	// position's direction; callers must close first.
	ErrOpposingPosition = errors.New("opposing position already open")
	// ErrInsufficientBalance is returned when an open exceeds free balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Status is a position lifecycle state.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is one instrument exposure. While open its unrealized PnL follows
// every mark; once closed, quantity and unrealized PnL are zero permanently.
type Position struct {
	ID            string
	Instrument    string
	Side          signal.Side
	Quantity      float64
	EntryPrice    float64
	EntryTime     time.Time
	CurrentPrice  float64
	ExitPrice     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Costs         float64
	Status        Status
	ClosedAt      time.Time
}

// State is a consistent read of portfolio aggregates. At most one open
// position exists per instrument.
type State struct {
	Balance       float64
	StartingCash  float64
	Equity        float64
	PeakEquity    float64
	RealizedPnL   float64
	DailyRealized float64
	Open          map[string]Position // keyed by instrument
}

// Drawdown is the fractional decline of equity from its running peak.
func (s State) Drawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	return (s.PeakEquity - s.Equity) / s.PeakEquity
}

// OpenNotional sums entry notional across open positions.
func (s State) OpenNotional() float64 {
	var total float64
	for _, p := range s.Open {
		total += p.Quantity * p.EntryPrice
	}
	return total
}

// Ledger tracks balance, open and closed positions, realized PnL, and the
// running equity peak used for drawdown.
type Ledger struct {
	mu             sync.Mutex
	startingCash   float64
	balance        float64
	realized       float64
	dailyRealized  float64
	dailyReset     time.Time
	peakEquity     float64
	commissionRate float64
	slippageRate   float64
	open           map[string]*Position // keyed by instrument
	byID           map[string]*Position
	closed         []Position
	sink           audit.Sink
	now            func() time.Time // swapped out in tests
}

// NewLedger builds a ledger with starting cash and per-leg cost rates.
func NewLedger(startingCash, commissionRate, slippageRate float64, sink audit.Sink) *Ledger {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Ledger{
		startingCash:   startingCash,
		balance:        startingCash,
		peakEquity:     startingCash,
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
		dailyReset:     time.Now().Truncate(24 * time.Hour),
		open:           make(map[string]*Position),
		byID:           make(map[string]*Position),
		sink:           sink,
		now:            time.Now,
	}
}

// Open creates a position, or increases the existing same-direction one
// (average entry). An opposing open is rejected; at most one open position
// ever exists per instrument.
func (l *Ledger) Open(instrument string, side signal.Side, quantity, price float64) (Position, error) {
	if quantity <= 0 || price <= 0 {
		return Position{}, errors.New("quantity and price must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	notional := quantity * price
	cost := notional * (l.commissionRate + l.slippageRate)
	if notional+cost > l.balance {
		return Position{}, ErrInsufficientBalance
	}

	if existing, ok := l.open[instrument]; ok {
		if existing.Side != side {
			return Position{}, ErrOpposingPosition
		}
		prevNotional := existing.Quantity * existing.EntryPrice
		existing.Quantity += quantity
		existing.EntryPrice = (prevNotional + notional) / existing.Quantity
		existing.Costs += cost
		l.balance -= notional + cost
		l.markLocked(existing, price)
		l.refreshEquityLocked()
		l.emitLocked("increase", *existing)
		return *existing, nil
	}

	pos := &Position{
		ID:           uuid.NewString(),
		Instrument:   instrument,
		Side:         side,
		Quantity:     quantity,
		EntryPrice:   price,
		EntryTime:    l.now(),
		CurrentPrice: price,
		Costs:        cost,
		Status:       StatusOpen,
	}
	l.open[instrument] = pos
	l.byID[pos.ID] = pos
	l.balance -= notional + cost
	l.refreshEquityLocked()
	l.emitLocked("open", *pos)
	return *pos, nil
}

// MarkPrice recomputes unrealized PnL for the open position on the
// instrument. Unknown instruments are a no-op.
func (l *Ledger) MarkPrice(instrument string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.open[instrument]
	if !ok {
		return
	}
	l.markLocked(pos, price)
	l.refreshEquityLocked()
}

// Close terminates a position at the exit price and returns realized PnL net
// of entry and exit costs. A closed id can never be reopened; a later Open
// creates a fresh id.
func (l *Ledger) Close(positionID string, exitPrice float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.byID[positionID]
	if !ok {
		return 0, ErrPositionNotFound
	}
	if pos.Status == StatusClosed {
		return 0, ErrPositionClosed
	}
	return l.closeLocked(pos, exitPrice), nil
}

func (l *Ledger) closeLocked(pos *Position, exitPrice float64) float64 {
	entryNotional := pos.Quantity * pos.EntryPrice
	exitNotional := pos.Quantity * exitPrice
	closeCost := exitNotional * (l.commissionRate + l.slippageRate)

	gross := exitNotional - entryNotional
	if pos.Side == signal.Sell {
		gross = entryNotional - exitNotional
	}
	realized := gross - pos.Costs - closeCost

	l.balance += entryNotional + gross - closeCost
	l.realized += realized
	l.addDailyLocked(realized)

	pos.Status = StatusClosed
	pos.ExitPrice = exitPrice
	pos.ClosedAt = l.now()
	pos.RealizedPnL = realized
	pos.Quantity = 0
	pos.UnrealizedPnL = 0
	pos.Costs += closeCost

	delete(l.open, pos.Instrument)
	l.closed = append(l.closed, *pos)
	l.refreshEquityLocked()
	l.emitLocked("close", *pos)
	return realized
}

// Reduce partially closes a position, realizing PnL on the reduced quantity.
func (l *Ledger) Reduce(positionID string, quantity, exitPrice float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.byID[positionID]
	if !ok {
		return 0, ErrPositionNotFound
	}
	if pos.Status == StatusClosed {
		return 0, ErrPositionClosed
	}
	if quantity <= 0 || quantity > pos.Quantity {
		return 0, errors.New("reduce quantity out of range")
	}
	if quantity == pos.Quantity {
		return l.closeLocked(pos, exitPrice), nil
	}

	entryNotional := quantity * pos.EntryPrice
	exitNotional := quantity * exitPrice
	closeCost := exitNotional * (l.commissionRate + l.slippageRate)
	gross := exitNotional - entryNotional
	if pos.Side == signal.Sell {
		gross = entryNotional - exitNotional
	}
	realized := gross - closeCost

	pos.Quantity -= quantity
	pos.RealizedPnL += realized
	l.balance += entryNotional + gross - closeCost
	l.realized += realized
	l.addDailyLocked(realized)
	l.markLocked(pos, exitPrice)
	l.refreshEquityLocked()
	l.emitLocked("reduce", *pos)
	return realized, nil
}

// Snapshot returns a consistent copy of portfolio state for readers. The
// protective controller must call this fresh on every check.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := make(map[string]Position, len(l.open))
	for inst, pos := range l.open {
		open[inst] = *pos
	}
	return State{
		Balance:       l.balance,
		StartingCash:  l.startingCash,
		Equity:        l.equityLocked(),
		PeakEquity:    l.peakEquity,
		RealizedPnL:   l.realized,
		DailyRealized: l.dailyRealized,
		Open:          open,
	}
}

// OpenPositions lists open positions sorted by instrument.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (l *Ledger) markLocked(pos *Position, price float64) {
	pos.CurrentPrice = price
	diff := (price - pos.EntryPrice) * pos.Quantity
	if pos.Side == signal.Sell {
		diff = -diff
	}
	pos.UnrealizedPnL = diff
}

func (l *Ledger) equityLocked() float64 {
	equity := l.balance
	for _, pos := range l.open {
		equity += pos.Quantity*pos.EntryPrice + pos.UnrealizedPnL
	}
	return equity
}

func (l *Ledger) refreshEquityLocked() {
	equity := l.equityLocked()
	if equity > l.peakEquity {
		l.peakEquity = equity
	}
	metrics.Equity.Set(equity)
}

func (l *Ledger) addDailyLocked(realized float64) {
	today := l.now().Truncate(24 * time.Hour)
	if today.After(l.dailyReset) {
		l.dailyRealized = 0
		l.dailyReset = today
	}
	l.dailyRealized += realized
}

func (l *Ledger) emitLocked(op string, pos Position) {
	l.sink.Record(audit.Event{
		Type:       audit.EventLedgerMutation,
		Instrument: pos.Instrument,
		Detail: map[string]any{
			"op":       op,
			"id":       pos.ID,
			"side":     string(pos.Side),
			"qty":      pos.Quantity,
			"entry":    pos.EntryPrice,
			"realized": pos.RealizedPnL,
			"balance":  l.balance,
		},
	})
}
