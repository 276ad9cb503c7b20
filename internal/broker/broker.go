// Package broker handles order lifecycle and interaction with venues.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/signal"
)

// ErrRejected is returned when the venue refuses an order outright.
var ErrRejected = errors.New("broker: order rejected")

// Order represents a placement request the gateway can process.
type Order struct {
	Instrument string
	Side       signal.Side
	Qty        float64
	Price      float64 // 0 for market (avoid in real life)
	Reduce     bool    // closes or shrinks an existing position
}

// Receipt is the venue's acknowledgement of a filled order.
type Receipt struct {
	OrderID   string
	FillPrice float64
	Qty       float64
	Ts        time.Time
}

// Gateway is the seam between the execution pipeline and a venue. SubmitOrder
// must be safe for concurrent use; Balance is a read and may be retried.
type Gateway interface {
	SubmitOrder(ctx context.Context, order Order) (Receipt, error)
	Balance(ctx context.Context) (float64, error)
}

// Paper simulates a venue: every order fills immediately at the requested
// price adjusted by a fixed slippage rate. It tracks a notional cash balance
// so Balance stays coherent across fills.
type Paper struct {
	mu       sync.Mutex
	balance  float64
	slippage float64
	log      zerolog.Logger
}

// NewPaper builds a paper gateway seeded with the starting balance.
func NewPaper(balance, slippage float64, log zerolog.Logger) *Paper {
	return &Paper{balance: balance, slippage: slippage, log: log}
}

// SubmitOrder fills the order at price plus adverse slippage and logs it.
func (p *Paper) SubmitOrder(ctx context.Context, order Order) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if order.Qty <= 0 || order.Price <= 0 {
		return Receipt{}, ErrRejected
	}

	fill := order.Price
	if order.Side == signal.Buy {
		fill *= 1 + p.slippage
	} else {
		fill *= 1 - p.slippage
	}

	p.mu.Lock()
	notional := order.Qty * fill
	if order.Reduce {
		p.balance += notional
	} else {
		p.balance -= notional
	}
	p.mu.Unlock()

	receipt := Receipt{OrderID: uuid.NewString(), FillPrice: fill, Qty: order.Qty, Ts: time.Now()}
	metrics.OrdersTotal.WithLabelValues(order.Instrument, string(order.Side)).Inc()
	p.log.Info().
		Str("sym", order.Instrument).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("px", fill).
		Bool("reduce", order.Reduce).
		Msg("paper fill")
	return receipt, nil
}

// Balance reports the simulated cash balance.
func (p *Paper) Balance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// RetryBalance polls the gateway's balance with a bounded backoff. Only reads
// go through here; order submission is never retried because a timed-out
// submit may still have filled.
func RetryBalance(ctx context.Context, gw Gateway, attempts int, backoff time.Duration) (float64, error) {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		bal, err := gw.Balance(ctx)
		if err == nil {
			return bal, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return 0, lastErr
}
