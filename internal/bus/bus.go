// Package bus implements the event bus that connects gateways to the
// follower engine.
//
// Gateways push events from their own goroutines via Publish; the engine
// owns a single run loop that pulls events off the inbound channel and
// dispatches them to registered handlers one at a time. All engine state
// is therefore mutated from exactly one goroutine. A built-in ticker
// publishes a timer event roughly once per second, driving the send-queue
// scan, timeout cancellation, and end-of-session bookkeeping.
package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"follow-trader/pkg/types"
)

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventTick     EventType = "tick"
	EventOrder    EventType = "order"
	EventTrade    EventType = "trade"
	EventPosition EventType = "position"
	EventTimer    EventType = "timer"

	// Outbound engine events consumed by the operator surface.
	EventLog      EventType = "follow_log"
	EventPosDelta EventType = "follow_pos_delta"
)

const defaultQueueSize = 1024

// Event pairs a type with its payload. Payload types are defined in
// pkg/types; timer events carry a nil payload.
type Event struct {
	Type EventType
	Data any
}

// Handler processes one event. Handlers run to completion on the bus
// goroutine; they must not block on I/O outside the event mechanism.
type Handler func(Event)

// Bus is a single-consumer event queue with per-type handler registration.
// Publish is safe from any goroutine; Register must happen before Run.
type Bus struct {
	ch       chan Event
	handlers map[EventType][]Handler
	interval time.Duration
	logger   *slog.Logger
}

// New creates a bus with the given inbound queue size (0 = default) and
// timer interval (0 = 1s).
func New(queueSize int, timerInterval time.Duration, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timerInterval <= 0 {
		timerInterval = time.Second
	}
	return &Bus{
		ch:       make(chan Event, queueSize),
		handlers: make(map[EventType][]Handler),
		interval: timerInterval,
		logger:   logger.With("component", "bus"),
	}
}

// Register appends a handler for one event type.
func (b *Bus) Register(t EventType, h Handler) {
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish enqueues an event. Blocks if the queue is full so no gateway
// push is ever silently dropped.
func (b *Bus) Publish(evt Event) {
	b.ch <- evt
}

// TryPublish enqueues an event without blocking. Used for low-value
// outbound events (logs, deltas) where dropping beats stalling a handler.
func (b *Bus) TryPublish(evt Event) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		return false
	}
}

// PublishTick enqueues a market-data event.
func (b *Bus) PublishTick(tick types.TickData) { b.Publish(Event{Type: EventTick, Data: tick}) }

// PublishOrder enqueues an order lifecycle event.
func (b *Bus) PublishOrder(order types.OrderData) { b.Publish(Event{Type: EventOrder, Data: order}) }

// PublishTrade enqueues a fill event.
func (b *Bus) PublishTrade(trade types.TradeData) { b.Publish(Event{Type: EventTrade, Data: trade}) }

// PublishPosition enqueues a position snapshot event.
func (b *Bus) PublishPosition(pos types.PositionData) {
	b.Publish(Event{Type: EventPosition, Data: pos})
}

// Run pulls and dispatches events until ctx is cancelled. Timer events
// are generated internally.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.dispatch(Event{Type: EventTimer})
		case evt := <-b.ch:
			b.dispatch(evt)
		}
	}
}

// dispatch runs every handler registered for the event's type. A panic in
// one handler is logged and contained; remaining handlers still run.
func (b *Bus) dispatch(evt Event) {
	for _, h := range b.handlers[evt.Type] {
		b.safeCall(h, evt)
	}
}

func (b *Bus) safeCall(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic",
				"event", string(evt.Type),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(evt)
}
