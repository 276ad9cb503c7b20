package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradepipe-go/internal/metrics"
	"tradepipe-go/internal/signal"
)

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceTrade struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// binanceForceOrder is the futures liquidation event. The order side reports
// the liquidated trader's exit direction: SELL means longs were flushed.
type binanceForceOrder struct {
	Order struct {
		Symbol    string `json:"s"`
		Side      string `json:"S"`
		Quantity  string `json:"q"`
		AvgPrice  string `json:"ap"`
		TradeTime int64  `json:"T"`
	} `json:"o"`
}

func (f *Feed) runBinance(ctx context.Context, out chan<- signal.Tick) error {
	instruments := f.snapshotInstruments()
	if len(instruments) == 0 {
		return fmt.Errorf("binance feed requires at least one instrument")
	}

	streams := make([]string, 0, len(instruments)*2)
	for _, in := range instruments {
		streams = append(streams, strings.ToLower(in)+"@trade", strings.ToLower(in)+"@forceOrder")
	}

	url := fmt.Sprintf("wss://fstream.binance.com/stream?streams=%s", strings.Join(streams, "/"))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeBinanceStream(ctx, url, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("binance feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, out chan<- signal.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("instruments", f.snapshotInstruments()).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env binanceEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}

		var tick signal.Tick
		var ok bool
		switch {
		case strings.HasSuffix(env.Stream, "@trade"):
			tick, ok = f.decodeTrade(env)
		case strings.HasSuffix(strings.ToLower(env.Stream), "@forceorder"):
			tick, ok = f.decodeForceOrder(env)
		}
		if !ok {
			continue
		}

		select {
		case out <- tick:
			metrics.TicksTotal.WithLabelValues(tick.Instrument).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feed) decodeTrade(env binanceEnvelope) (signal.Tick, bool) {
	var trade binanceTrade
	if err := json.Unmarshal(env.Data, &trade); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode binance trade")
		return signal.Tick{}, false
	}
	px, err := strconv.ParseFloat(trade.Price, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid price from binance")
		return signal.Tick{}, false
	}
	qty, err := strconv.ParseFloat(trade.Quantity, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid quantity from binance")
		return signal.Tick{}, false
	}
	side := 1
	if trade.IsBuyerMaker {
		side = -1
	}
	return signal.Tick{
		Instrument: parseStreamInstrument(env.Stream),
		Kind:       signal.KindTrade,
		Price:      px,
		Volume:     qty,
		Side:       side,
		Ts:         time.UnixMilli(trade.TradeTime),
	}, true
}

func (f *Feed) decodeForceOrder(env binanceEnvelope) (signal.Tick, bool) {
	var fo binanceForceOrder
	if err := json.Unmarshal(env.Data, &fo); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode binance liquidation")
		return signal.Tick{}, false
	}
	px, err := strconv.ParseFloat(fo.Order.AvgPrice, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid liquidation price from binance")
		return signal.Tick{}, false
	}
	qty, err := strconv.ParseFloat(fo.Order.Quantity, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid liquidation quantity from binance")
		return signal.Tick{}, false
	}
	side := 1
	if strings.EqualFold(fo.Order.Side, "SELL") {
		side = -1
	}
	return signal.Tick{
		Instrument: strings.ToUpper(fo.Order.Symbol),
		Kind:       signal.KindLiquidation,
		Price:      px,
		Volume:     qty,
		Side:       side,
		Ts:         time.UnixMilli(fo.Order.TradeTime),
	}, true
}

func parseStreamInstrument(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
