package bus

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishDispatchesInOrder(t *testing.T) {
	t.Parallel()

	b := New(16, time.Hour, testLogger())

	var got []int
	done := make(chan struct{})
	b.Register(EventTrade, func(evt Event) {
		got = append(got, evt.Data.(int))
		if len(got) == 3 {
			close(done)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for i := 1; i <= 3; i++ {
		b.Publish(Event{Type: EventTrade, Data: i})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not dispatched")
	}
	for i, v := range got {
		if v != i+1 {
			t.Errorf("event %d = %d, want %d (order must be preserved)", i, v, i+1)
		}
	}
}

func TestTimerEventsFire(t *testing.T) {
	t.Parallel()

	b := New(16, 10*time.Millisecond, testLogger())

	fired := make(chan struct{}, 1)
	b.Register(EventTimer, func(Event) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no timer event")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	b := New(16, time.Hour, testLogger())

	survived := make(chan struct{})
	b.Register(EventOrder, func(Event) { panic("boom") })
	b.Register(EventOrder, func(Event) { close(survived) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(Event{Type: EventOrder})

	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatal("panic in first handler killed dispatch")
	}
}

func TestTryPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New(1, time.Hour, testLogger())
	if !b.TryPublish(Event{Type: EventLog}) {
		t.Fatal("first TryPublish should succeed")
	}
	if b.TryPublish(Event{Type: EventLog}) {
		t.Error("second TryPublish should drop when queue full")
	}
}
