package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"

	"marketspine/pkg/ohlcv"
)

// wsEnvelope is one message from the gateway tick stream. Volume is the
// cumulative session volume for the symbol, differenced before delivery.
type wsEnvelope struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
	TimeMs int64   `json:"ts"`
}

type wsSubscribe struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadDeadline     = 30 * time.Second
	wsWriteDeadline    = 5 * time.Second
	wsPingInterval     = 15 * time.Second
	wsMaxBackoff       = 30 * time.Second
)

func (f *Feed) runWS(ctx context.Context, out chan<- ohlcv.Tick) error {
	if f.url == "" {
		return fmt.Errorf("feed: ws provider requires a url")
	}
	if len(f.snapshotSymbols()) == 0 {
		return fmt.Errorf("feed: ws provider requires at least one symbol")
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeWS(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logx.Errorf("feed: ws disconnected, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(wsMaxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeWS(ctx context.Context, out chan<- ohlcv.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	symbols := f.snapshotSymbols()
	conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	if err := conn.WriteJSON(wsSubscribe{Action: "subscribe", Symbols: symbols}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	logx.Infof("feed: connected ws stream for %d symbols", len(symbols))

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					logx.Errorf("feed: ws ping failed: %v", err)
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

		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			logx.Errorf("feed: failed to decode ws message: %v", err)
			continue
		}
		if env.Symbol == "" || env.Price <= 0 {
			logx.Debugf("feed: skipping malformed ws tick %+v", env)
			continue
		}

		tick := ohlcv.Tick{
			Symbol: env.Symbol,
			Price:  env.Price,
			Volume: f.volumeDelta(env.Symbol, env.Volume),
			Time:   time.UnixMilli(env.TimeMs),
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
