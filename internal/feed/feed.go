// Package feed hosts market data connectors that push ticks into the pipeline.
package feed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live trades and forced liquidations from Binance websockets.
	ProviderBinance = "binance"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	instruments  []string
	log          zerolog.Logger
	stubInterval time.Duration
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const defaultStubInterval = 500 * time.Millisecond

// WithStubInterval overrides the synthetic tick cadence.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// New constructs a feed backed by the requested provider.
func New(provider string, instruments []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		stubInterval: defaultStubInterval,
	}
	f.setInstruments(instruments)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetInstruments replaces the tracked instrument list (deduplicated, sorted).
func (f *Feed) SetInstruments(instruments []string) {
	f.setInstruments(instruments)
}

func (f *Feed) setInstruments(instruments []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(instruments))
	for _, in := range instruments {
		in = strings.TrimSpace(in)
		if in == "" {
			continue
		}
		unique[in] = struct{}{}
	}
	f.instruments = f.instruments[:0]
	for in := range unique {
		f.instruments = append(f.instruments, in)
	}
	sort.Strings(f.instruments)
}

func (f *Feed) snapshotInstruments() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.instruments))
	copy(out, f.instruments)
	return out
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// runStub walks each instrument along a small deterministic price ramp so
// downstream indicators have something to chew on without a network.
func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	var px float64 = 100.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px += 0.1
			for _, in := range f.snapshotInstruments() {
				tick := signal.Tick{Instrument: in, Kind: signal.KindTrade, Price: px, Volume: 1, Side: 1, Ts: ts}
				select {
				case out <- tick:
					metrics.TicksTotal.WithLabelValues(in).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
