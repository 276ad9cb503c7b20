// Package market maintains a bounded, time-ordered view of recent ticks per instrument.
package market

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"tradepipe-go/internal/signal"
)

// ErrInsufficientData is returned when an instrument has fewer samples than
// the configured minimum window. Evaluators treat it as "no signal".
var ErrInsufficientData = errors.New("insufficient market data")

// ErrUnknownInstrument is returned for instruments the store has never seen.
var ErrUnknownInstrument = errors.New("unknown instrument")

const (
	// DefaultCapacity bounds the per-instrument ring buffer.
	DefaultCapacity = 1000
	// DefaultMinSamples is the smallest window a snapshot will be built from.
	DefaultMinSamples = 20
	// liquidationRetention caps how many liquidation events a snapshot exposes.
	liquidationRetention = 64
)

// Sample is one accepted price/volume observation.
type Sample struct {
	Price  float64
	Volume float64
	Side   int
	Ts     time.Time
}

// Liquidation records a forced close observed on the feed.
type Liquidation struct {
	Price    float64
	Notional float64
	Side     int
	Ts       time.Time
}

// Snapshot is an immutable view of one instrument's recent market state.
// It is rebuilt on every accepted tick and must never be mutated by readers.
type Snapshot struct {
	Instrument   string
	Samples      []Sample
	Liquidations []Liquidation
	LastPrice    float64
	Volatility   float64 // stddev of per-sample returns
	Trend        float64 // +1 rising, -1 falling, 0 flat over the window
	UpdatedAt    time.Time
}

type series struct {
	samples      []Sample
	liquidations []Liquidation
	seen         map[int64]struct{} // accepted trade timestamps (UnixNano)
	seenLiq      map[int64]struct{} // accepted liquidation timestamps (UnixNano)
	snapshot     Snapshot
}

// Store holds per-instrument ring buffers. All ticks for a given instrument
// are serialized through the store mutex so a snapshot is never read mid-update.
type Store struct {
	mu         sync.RWMutex
	capacity   int
	minSamples int
	series     map[string]*series
}

// NewStore builds a store with the supplied ring capacity and minimum window.
func NewStore(capacity, minSamples int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Store{
		capacity:   capacity,
		minSamples: minSamples,
		series:     make(map[string]*series),
	}
}

// Ingest accepts one tick and returns the rebuilt snapshot for its instrument.
// Re-delivery of an already-seen trade (same instrument and timestamp) is a
// no-op; out-of-order trades are inserted in time order; the oldest sample is
// evicted once the ring is full.
func (s *Store) Ingest(tk signal.Tick) (Snapshot, error) {
	if tk.Instrument == "" || tk.Price <= 0 {
		return Snapshot{}, errors.New("malformed tick")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr := s.series[tk.Instrument]
	if sr == nil {
		sr = &series{seen: make(map[int64]struct{}), seenLiq: make(map[int64]struct{})}
		s.series[tk.Instrument] = sr
	}

	switch tk.Kind {
	case signal.KindLiquidation:
		// A reconnect replays liquidation events too; dedup them by timestamp
		// just like trades so a re-delivery never re-arms the rebound evaluators.
		key := tk.Ts.UnixNano()
		if _, dup := sr.seenLiq[key]; dup {
			return sr.snapshot, nil
		}
		sr.seenLiq[key] = struct{}{}
		sr.liquidations = append(sr.liquidations, Liquidation{
			Price:    tk.Price,
			Notional: tk.Price * tk.Volume,
			Side:     tk.Side,
			Ts:       tk.Ts,
		})
		if len(sr.liquidations) > liquidationRetention {
			evicted := sr.liquidations[:len(sr.liquidations)-liquidationRetention]
			for _, liq := range evicted {
				delete(sr.seenLiq, liq.Ts.UnixNano())
			}
			sr.liquidations = sr.liquidations[len(sr.liquidations)-liquidationRetention:]
		}
	default:
		key := tk.Ts.UnixNano()
		if _, dup := sr.seen[key]; dup {
			return sr.snapshot, nil
		}
		sr.seen[key] = struct{}{}
		sr.insert(Sample{Price: tk.Price, Volume: tk.Volume, Side: tk.Side, Ts: tk.Ts})
		if len(sr.samples) > s.capacity {
			evicted := sr.samples[0]
			delete(sr.seen, evicted.Ts.UnixNano())
			sr.samples = sr.samples[1:]
		}
	}

	sr.snapshot = buildSnapshot(tk.Instrument, sr)
	return sr.snapshot, nil
}

// Snapshot returns the current view for the instrument, or ErrInsufficientData
// while the minimum window is still filling.
func (s *Store) Snapshot(instrument string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[instrument]
	if !ok {
		return Snapshot{}, ErrUnknownInstrument
	}
	if len(sr.samples) < s.minSamples {
		return Snapshot{}, ErrInsufficientData
	}
	return sr.snapshot, nil
}

// Instruments lists every instrument with at least the minimum window filled,
// sorted for deterministic iteration.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.series))
	for name, sr := range s.series {
		if len(sr.samples) >= s.minSamples {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (sr *series) insert(smp Sample) {
	n := len(sr.samples)
	if n == 0 || !sr.samples[n-1].Ts.After(smp.Ts) {
		sr.samples = append(sr.samples, smp)
		return
	}
	// Late arrival: find its slot from the back.
	idx := sort.Search(n, func(i int) bool { return sr.samples[i].Ts.After(smp.Ts) })
	sr.samples = append(sr.samples, Sample{})
	copy(sr.samples[idx+1:], sr.samples[idx:])
	sr.samples[idx] = smp
}

func buildSnapshot(instrument string, sr *series) Snapshot {
	samples := make([]Sample, len(sr.samples))
	copy(samples, sr.samples)
	liqs := make([]Liquidation, len(sr.liquidations))
	copy(liqs, sr.liquidations)

	snap := Snapshot{
		Instrument:   instrument,
		Samples:      samples,
		Liquidations: liqs,
	}
	if len(samples) == 0 {
		return snap
	}
	last := samples[len(samples)-1]
	snap.LastPrice = last.Price
	snap.UpdatedAt = last.Ts
	snap.Volatility = returnStddev(samples)
	snap.Trend = trendDirection(samples)
	return snap
}

// Returns returns the per-sample fractional price changes over the window.
func (s Snapshot) Returns() []float64 {
	if len(s.Samples) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s.Samples)-1)
	for i := 1; i < len(s.Samples); i++ {
		prev := s.Samples[i-1].Price
		if prev <= 0 {
			continue
		}
		out = append(out, (s.Samples[i].Price-prev)/prev)
	}
	return out
}

// Prices returns the price column of the sample window.
func (s Snapshot) Prices() []float64 {
	out := make([]float64, len(s.Samples))
	for i, smp := range s.Samples {
		out[i] = smp.Price
	}
	return out
}

func returnStddev(samples []Sample) float64 {
	if len(samples) < 3 {
		return 0
	}
	var rets []float64
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1].Price
		if prev > 0 {
			rets = append(rets, (samples[i].Price-prev)/prev)
		}
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}

func trendDirection(samples []Sample) float64 {
	first := samples[0].Price
	last := samples[len(samples)-1].Price
	if first <= 0 {
		return 0
	}
	change := (last - first) / first
	switch {
	case change > 0.001:
		return 1
	case change < -0.001:
		return -1
	default:
		return 0
	}
}
