// feed.go pumps a gateway's WebSocket event stream onto the engine bus.
//
// The gateway process pushes JSON envelopes {type, data} for ticks,
// order updates, fills and position snapshots. The feed stamps every
// payload with the configured gateway name, so the engine can route by
// source/target, and reconnects with exponential backoff (1s → 30s max)
// when the stream drops. A read deadline detects silent server
// failures.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"follow-trader/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
)

// Feed is one gateway's inbound event stream.
type Feed struct {
	name   string
	url    string
	bus    Publisher
	logger *slog.Logger
}

// NewFeed creates a feed for one gateway endpoint.
func NewFeed(name, wsURL string, bus Publisher, logger *slog.Logger) *Feed {
	return &Feed{
		name:   name,
		url:    wsURL,
		bus:    bus,
		logger: logger.With("component", "feed", "gateway_name", name),
	}
}

// envelope is the wire frame for one gateway event.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Run connects and pumps events until the context is cancelled,
// reconnecting with exponential backoff on stream errors.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := f.pump(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("stream dropped, reconnecting", "error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// pump runs one connection to exhaustion.
func (f *Feed) pump(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()
	f.logger.Info("stream connected", "url", f.url)

	// close the socket when the context ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			f.logger.Warn("malformed frame dropped", "error", err)
			continue
		}
		f.route(env)
	}
}

// route decodes one envelope and publishes it with the gateway name
// stamped on.
func (f *Feed) route(env envelope) {
	switch env.Type {
	case "tick":
		var tick types.TickData
		if err := json.Unmarshal(env.Data, &tick); err != nil {
			f.logger.Warn("bad tick frame", "error", err)
			return
		}
		tick.GatewayName = f.name
		f.bus.PublishTick(tick)
	case "order":
		var order types.OrderData
		if err := json.Unmarshal(env.Data, &order); err != nil {
			f.logger.Warn("bad order frame", "error", err)
			return
		}
		order.GatewayName = f.name
		f.bus.PublishOrder(order)
	case "trade":
		var trade types.TradeData
		if err := json.Unmarshal(env.Data, &trade); err != nil {
			f.logger.Warn("bad trade frame", "error", err)
			return
		}
		trade.GatewayName = f.name
		f.bus.PublishTrade(trade)
	case "position":
		var pos types.PositionData
		if err := json.Unmarshal(env.Data, &pos); err != nil {
			f.logger.Warn("bad position frame", "error", err)
			return
		}
		pos.GatewayName = f.name
		f.bus.PublishPosition(pos)
	default:
		f.logger.Debug("unknown frame type", "type", env.Type)
	}
}
