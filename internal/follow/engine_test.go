package follow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"follow-trader/internal/bus"
	"follow-trader/internal/config"
	"follow-trader/internal/store"
	"follow-trader/pkg/types"
)

// fakeGateway records commands and serves canned snapshots.
type fakeGateway struct {
	name       string
	contracts  map[string]types.ContractData
	orders     map[string]types.OrderData
	trades     []types.TradeData
	accounts   []types.AccountData
	sent       []types.OrderRequest
	cancelled  []types.CancelRequest
	subscribed []types.SubscribeRequest
	nextID     int
	failSend   bool
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{
		name:      name,
		contracts: make(map[string]types.ContractData),
		orders:    make(map[string]types.OrderData),
	}
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) Subscribe(req types.SubscribeRequest) error {
	f.subscribed = append(f.subscribed, req)
	return nil
}

func (f *fakeGateway) SendOrder(req types.OrderRequest) (string, error) {
	if f.failSend {
		return "", fmt.Errorf("front end rejected")
	}
	f.nextID++
	f.sent = append(f.sent, req)
	return fmt.Sprintf("%s-%d", f.name, f.nextID), nil
}

func (f *fakeGateway) CancelOrder(req types.CancelRequest) error {
	f.cancelled = append(f.cancelled, req)
	return nil
}

func (f *fakeGateway) GetContract(symbol string) (types.ContractData, error) {
	c, ok := f.contracts[symbol]
	if !ok {
		return types.ContractData{}, fmt.Errorf("unknown contract %s", symbol)
	}
	return c, nil
}

func (f *fakeGateway) GetOrder(orderID string) (types.OrderData, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return types.OrderData{}, fmt.Errorf("unknown order %s", orderID)
	}
	return o, nil
}

func (f *fakeGateway) GetAllActiveOrders(string) ([]types.OrderData, error) { return nil, nil }
func (f *fakeGateway) GetAllTrades() ([]types.TradeData, error)            { return f.trades, nil }
func (f *fakeGateway) GetAllAccounts() ([]types.AccountData, error)        { return f.accounts, nil }

// lastSent returns the most recent order request.
func (f *fakeGateway) lastSent(t *testing.T) types.OrderRequest {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no orders sent")
	}
	return f.sent[len(f.sent)-1]
}

var testNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.Local)

func newTestEngine(t *testing.T) (*Engine, *fakeGateway, *fakeGateway) {
	t.Helper()

	cfg := &config.Config{
		Source:  config.GatewayConfig{Name: "src"},
		Target:  config.GatewayConfig{Name: "tgt"},
		Store:   config.StoreConfig{DataDir: t.TempDir()},
		Session: config.SessionConfig{DaylightEnd: "15:02", NightBegin: "20:45"},
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(64, time.Second, logger)

	source := newFakeGateway("src")
	target := newFakeGateway("tgt")
	for _, gw := range []*fakeGateway{source, target} {
		gw.contracts["rb2410"] = types.ContractData{Symbol: "rb2410", Exchange: "SHFE", PriceTick: 0.02, Size: 10}
		gw.contracts["m2409"] = types.ContractData{Symbol: "m2409", Exchange: "DCE", PriceTick: 1, Size: 10}
	}

	e, err := New(cfg, b, st, source, target, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.now = func() time.Time { return testNow }
	e.settings.TickAdd = 5
	e.settings.MustDoneTickAdd = 5
	return e, source, target
}

func (e *Engine) feedTick(gw, symbol, exchange string, bid, ask, up, down float64) {
	e.handleEvent(bus.Event{Type: bus.EventTick, Data: types.TickData{
		GatewayName: gw, Symbol: symbol, Exchange: exchange,
		BidPrice1: bid, AskPrice1: ask, LimitUp: up, LimitDown: down,
	}})
}

func (e *Engine) feedTrade(gw, tradeID string, symbol, exchange string, dir types.Direction, off types.Offset, volume, price float64) {
	e.handleEvent(bus.Event{Type: bus.EventTrade, Data: types.TradeData{
		GatewayName: gw, TradeID: tradeID, OrderID: "o-" + tradeID,
		Symbol: symbol, Exchange: exchange,
		Direction: dir, Offset: off, Volume: volume, Price: price,
		Time: "10:00:00",
	}})
}

func (e *Engine) feedOrder(order types.OrderData) {
	e.handleEvent(bus.Event{Type: bus.EventOrder, Data: order})
}

func (e *Engine) feedPosition(gw, symbol, exchange string, dir types.Direction, volume, yd float64) {
	e.handleEvent(bus.Event{Type: bus.EventPosition, Data: types.PositionData{
		GatewayName: gw, Symbol: symbol, Exchange: exchange,
		Direction: dir, Volume: volume, YdVolume: yd,
	}})
}

func (e *Engine) tickTimer(n int) {
	for i := 0; i < n; i++ {
		e.handleEvent(bus.Event{Type: bus.EventTimer})
	}
}

func activeChildOrder(orderID string, req types.OrderRequest, traded float64, status types.Status) types.OrderData {
	return types.OrderData{
		GatewayName: "tgt", OrderID: orderID,
		Symbol: req.Symbol, Exchange: req.Exchange,
		Direction: req.Direction, Offset: req.Offset,
		Price: req.Price, Volume: req.Volume, Traded: traded,
		Status: status, Time: "10:00:01",
	}
}

func TestSingleFollowLongOpen(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)

	if len(target.sent) != 1 {
		t.Fatalf("want 1 child order, got %d", len(target.sent))
	}
	req := target.sent[0]
	if req.Direction != types.DirectionLong || req.Offset != types.OffsetOpen || req.Volume != 3 {
		t.Errorf("child = %s %s %v", req.Direction, req.Offset, req.Volume)
	}
	if req.Price != 100.2 {
		t.Errorf("price = %v, want ask 100.1 + 5*0.02 = 100.2", req.Price)
	}
	if children := e.signalOrders["t1"]; len(children) != 1 {
		t.Errorf("signal map children = %v", children)
	}
}

func TestPriceClampedToLimitUp(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 109.99, 110, 110, 90)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 1, 0)

	if got := target.lastSent(t).Price; got != 110 {
		t.Errorf("price = %v, want clamp at limit up 110", got)
	}
}

func TestDuplicateTradeFollowedOnce(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)

	if len(target.sent) != 1 {
		t.Fatalf("duplicate trade id produced %d orders, want 1", len(target.sent))
	}

	// replay after a dedup-set wipe still stops at the signal map
	delete(e.seenTrades, "t1")
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)
	if len(target.sent) != 1 {
		t.Fatalf("already-followed signal produced %d orders, want 1", len(target.sent))
	}
}

func TestInverseFollowSwapsDirection(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.InverseFollow = true
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 2, 100.0)

	req := target.lastSent(t)
	if req.Direction != types.DirectionShort {
		t.Errorf("direction = %s, want short under inverse follow", req.Direction)
	}
	if req.Price != 99.9 {
		t.Errorf("price = %v, want bid 100.0 - 5*0.02 = 99.9", req.Price)
	}
}

func TestMultiplierAndVolumeSplit(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.Multiplier = 2
	e.settings.SingleMaxDict = map[string]float64{"rb": 2}
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 2.5, 100.0)

	// 2.5 x 2 = 5 splits as 2 + 2 + 1
	if len(target.sent) != 3 {
		t.Fatalf("want 3 pieces, got %d", len(target.sent))
	}
	volumes := []float64{target.sent[0].Volume, target.sent[1].Volume, target.sent[2].Volume}
	if volumes[0] != 2 || volumes[1] != 2 || volumes[2] != 1 {
		t.Errorf("piece volumes = %v, want [2 2 1]", volumes)
	}
	if children := e.signalOrders["t1"]; len(children) != 3 {
		t.Errorf("children = %v, want 3 ids", children)
	}
}

func TestIntradayDecomposition(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.IntradayTrading = true
	e.Start()

	key := "rb2410.SHFE"
	e.positions.SetField(key, FieldSourceTradedNet, 2)
	// target carries 5 long from yesterday; the close leg will land on it
	e.feedPosition("tgt", "rb2410", "SHFE", types.DirectionLong, 5, 5)
	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)

	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionShort, types.OffsetClose, 5, 100.0)

	if len(target.sent) != 2 {
		t.Fatalf("want close+open legs, got %d orders", len(target.sent))
	}
	closeLeg, openLeg := target.sent[0], target.sent[1]
	if !closeLeg.Offset.IsClose() || closeLeg.Volume != 2 {
		t.Errorf("close leg = %s %v, want close 2", closeLeg.Offset, closeLeg.Volume)
	}
	if openLeg.Offset != types.OffsetOpen || openLeg.Volume != 3 {
		t.Errorf("open leg = %s %v, want open 3", openLeg.Offset, openLeg.Volume)
	}

	entry, _ := e.positions.Get(key)
	if entry.SourceTradedNet != -3 {
		t.Errorf("source traded net = %v, want -3", entry.SourceTradedNet)
	}
}

func TestLossFollowConsumption(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.IntradayTrading = true
	e.settings.IntradaySymbols = []string{"m"}
	e.Start()

	key := "m2409.DCE"
	e.positions.SetField(key, FieldLostFollowNet, -4)
	e.positions.SetField(key, FieldSourceTradedNet, -6)
	e.feedTick("src", "m2409", "DCE", 3000, 3001, 3300, 2700)

	// opposite-sign fill within |STN| makes a pure closing leg
	e.feedTrade("src", "t1", "m2409", "DCE", types.DirectionLong, types.OffsetClose, 6, 3000)

	if len(target.sent) != 1 {
		t.Fatalf("want 1 order, got %d", len(target.sent))
	}
	if got := target.sent[0].Volume; got != 2 {
		t.Errorf("volume = %v, want |(-4)+6| = 2", got)
	}
	entry, _ := e.positions.Get(key)
	if entry.LostFollowNet != 0 {
		t.Errorf("lost follow net = %v, want 0", entry.LostFollowNet)
	}
}

func TestLossFollowAbsorbsSmallSignal(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.IntradayTrading = true
	e.settings.IntradaySymbols = []string{"m"}
	e.Start()

	key := "m2409.DCE"
	e.positions.SetField(key, FieldLostFollowNet, -4)
	e.positions.SetField(key, FieldSourceTradedNet, -6)
	e.feedTick("src", "m2409", "DCE", 3000, 3001, 3300, 2700)

	e.feedTrade("src", "t1", "m2409", "DCE", types.DirectionLong, types.OffsetClose, 3, 3000)

	if len(target.sent) != 0 {
		t.Fatalf("debt should absorb the signal, got %d orders", len(target.sent))
	}
	entry, _ := e.positions.Get(key)
	if entry.LostFollowNet != -1 {
		t.Errorf("lost follow net = %v, want -4+3 = -1", entry.LostFollowNet)
	}
}

func TestTimeoutCancelAndLossAccounting(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.CancelOrderTimeout = 2
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)

	req := target.lastSent(t)
	e.feedOrder(activeChildOrder("tgt-1", req, 0, types.StatusNotTraded))

	e.tickTimer(3)
	if len(target.cancelled) != 1 || target.cancelled[0].OrderID != "tgt-1" {
		t.Fatalf("cancelled = %v, want [tgt-1]", target.cancelled)
	}

	// cancel completes with 1 of 3 filled: the open-side remainder is lost
	e.feedOrder(activeChildOrder("tgt-1", req, 1, types.StatusCancelled))
	entry, _ := e.positions.Get("rb2410.SHFE")
	if entry.LostFollowNet != 2 {
		t.Errorf("lost follow net = %v, want +2", entry.LostFollowNet)
	}
}

func TestChaseResendAndKeepAfterChase(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.IntradayTrading = true
	e.settings.IntradaySymbols = []string{"m"}
	e.settings.ChaseEnabled = true
	e.settings.ChaseMaxResend = 1
	e.settings.KeepOrderAfterChase = true
	e.settings.CancelOrderTimeout = 2
	e.settings.ChaseOrderTimeout = 1
	e.settings.ChaseTickAdd = 3
	e.Start()

	// a closing leg in intraday mode is must_done and chase-enabled
	e.positions.SetField("m2409.DCE", FieldSourceTradedNet, -6)
	e.feedTick("src", "m2409", "DCE", 3000, 3001, 3300, 2700)
	e.feedTrade("src", "t1", "m2409", "DCE", types.DirectionLong, types.OffsetClose, 6, 3000)

	first := target.lastSent(t)
	if !e.chaseOrders["tgt-1"] {
		t.Fatal("must_done child should be chase-registered")
	}

	e.feedOrder(activeChildOrder("tgt-1", first, 0, types.StatusNotTraded))
	e.tickTimer(3)
	if len(target.cancelled) != 1 {
		t.Fatalf("want 1 cancel after timeout, got %d", len(target.cancelled))
	}

	// cancel completes with 2 of 6 filled: chase resends the remaining 4
	e.feedOrder(activeChildOrder("tgt-1", first, 2, types.StatusCancelled))
	if len(target.sent) != 2 {
		t.Fatalf("want chase resend, got %d orders", len(target.sent))
	}
	chase := target.lastSent(t)
	if chase.Volume != 4 || chase.Tag != types.TagChase {
		t.Errorf("chase = %v %s, want volume 4 tag CHASE", chase.Volume, chase.Tag)
	}
	if chase.Price != 3001+3*1 {
		t.Errorf("chase price = %v, want ask 3001 + 3 ticks", chase.Price)
	}
	if e.chaseResend["tgt-1"] != 1 {
		t.Errorf("resend count = %d, want 1", e.chaseResend["tgt-1"])
	}

	// the resend times out on the chase threshold and is cancelled;
	// resend budget is spent, so one resting replacement goes out
	e.feedOrder(activeChildOrder("tgt-2", chase, 0, types.StatusNotTraded))
	e.tickTimer(2)
	if len(target.cancelled) != 2 {
		t.Fatalf("want 2 cancels, got %d", len(target.cancelled))
	}
	e.feedOrder(activeChildOrder("tgt-2", chase, 0, types.StatusCancelled))

	if len(target.sent) != 3 {
		t.Fatalf("want keep-after-chase replacement, got %d orders", len(target.sent))
	}
	final := target.lastSent(t)
	if final.Tag != types.TagKeepChase || final.Price != chase.Price {
		t.Errorf("replacement = %s @%v, want KEEP_CHASE at %v", final.Tag, final.Price, chase.Price)
	}
	if !e.failChase["tgt-3"] {
		t.Error("replacement should be in the fail-chase set")
	}

	// the replacement never enters the timeout scanner
	e.feedOrder(activeChildOrder("tgt-3", final, 0, types.StatusNotTraded))
	e.tickTimer(5)
	if len(target.cancelled) != 2 {
		t.Errorf("replacement was timeout-cancelled: %v", target.cancelled)
	}
}

func TestManualNetSync(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.Start()

	key := "rb2410.SHFE"
	e.positions.SetField(key, FieldSourceLong, 5)
	e.positions.SetField(key, FieldTargetLong, 2)
	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)

	e.SyncNet(key, false)

	req := target.lastSent(t)
	if req.Direction != types.DirectionLong || req.Volume != 3 {
		t.Errorf("sync order = %s %v, want long 3", req.Direction, req.Volume)
	}
	if req.Tag != types.TagSync {
		t.Errorf("tag = %s, want SYNC", req.Tag)
	}

	found := false
	for signalID := range e.signalOrders {
		if strings.HasPrefix(signalID, types.SyncIDPrefix) {
			found = true
		}
	}
	if !found {
		t.Error("sync signal id missing from signal map")
	}
}

func TestBasicSyncZeroesBaselineAndUsesHardLimit(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.Start()

	key := "rb2410.SHFE"
	e.positions.SetField(key, FieldSourceLong, 5)
	e.positions.SetField(key, FieldBasicDelta, 2)
	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)

	e.SyncNet(key, true)

	req := target.lastSent(t)
	if req.Volume != 3 {
		t.Errorf("volume = %v, want 5-2 = 3", req.Volume)
	}
	if req.Price != 110 {
		t.Errorf("price = %v, want hard limit 110", req.Price)
	}
	entry, _ := e.positions.Get(key)
	if entry.BasicDelta != 0 {
		t.Errorf("basic delta = %v, want 0 after issue", entry.BasicDelta)
	}
}

func TestSyncOpenAndCloseLegs(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.Start()

	key := "rb2410.SHFE"
	e.positions.SetField(key, FieldSourceLong, 4)
	e.positions.SetField(key, FieldSourceShort, 1)
	e.positions.SetField(key, FieldTargetLong, 1)
	e.positions.SetField(key, FieldTargetShort, 3)
	e.feedPosition("tgt", "rb2410", "SHFE", types.DirectionShort, 3, 3)
	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)

	e.SyncOpen(key)
	if len(target.sent) != 1 {
		t.Fatalf("open sync sent %d, want 1 (long leg only)", len(target.sent))
	}
	open := target.sent[0]
	if open.Direction != types.DirectionLong || open.Offset != types.OffsetOpen || open.Volume != 3 {
		t.Errorf("open leg = %s %s %v, want long open 3", open.Direction, open.Offset, open.Volume)
	}

	e.SyncClose(key)
	if len(target.sent) != 2 {
		t.Fatalf("close sync sent %d total, want 2", len(target.sent))
	}
	closeLeg := target.lastSent(t)
	if closeLeg.Direction != types.DirectionLong || !closeLeg.Offset.IsClose() || closeLeg.Volume != 2 {
		t.Errorf("close leg = %s %s %v, want long close 2", closeLeg.Direction, closeLeg.Offset, closeLeg.Volume)
	}
}

func TestUnpricedContractWaitsInQueue(t *testing.T) {
	t.Parallel()

	e, source, target := newTestEngine(t)
	e.Start()

	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 1, 100.0)

	if len(target.sent) != 0 {
		t.Fatal("unpriced contract must not dispatch")
	}
	if len(source.subscribed) == 0 {
		t.Fatal("queueing should fire a subscription")
	}

	e.tickTimer(2)
	if len(target.sent) != 0 {
		t.Fatal("still unpriced after timer")
	}

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e.tickTimer(1)
	if len(target.sent) != 1 {
		t.Fatalf("priced contract should dispatch on timer, got %d", len(target.sent))
	}
}

func TestKeepHangHoldsChildrenInOrderMode(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.FollowBased = types.BaseOrder
	e.settings.CancelOrderTimeout = 1
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)

	src := types.OrderData{
		GatewayName: "src", OrderID: "s1",
		Symbol: "rb2410", Exchange: "SHFE",
		Direction: types.DirectionLong, Offset: types.OffsetOpen,
		Price: 100.0, Volume: 3, Status: types.StatusNotTraded, Time: "10:00:00",
	}
	e.feedOrder(src)

	if len(target.sent) != 1 {
		t.Fatalf("source order should be followed, got %d", len(target.sent))
	}
	child := target.lastSent(t)
	e.feedOrder(activeChildOrder("tgt-1", child, 0, types.StatusNotTraded))

	// held: no cancel no matter how long the source order rests
	e.tickTimer(10)
	if len(target.cancelled) != 0 {
		t.Fatalf("held child was cancelled: %v", target.cancelled)
	}

	// replayed status pushes do not re-follow
	e.feedOrder(src)
	if len(target.sent) != 1 {
		t.Fatal("duplicate source order push produced another child")
	}

	// source order fills: the child timer starts and timeout applies
	filled := src
	filled.Traded = 3
	filled.Status = types.StatusAllTraded
	e.feedOrder(filled)

	e.tickTimer(2)
	if len(target.cancelled) != 1 {
		t.Fatalf("released child should timeout-cancel, got %v", target.cancelled)
	}
}

func TestSourceCancelCancelsChildrenWithoutChase(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.FollowBased = types.BaseOrder
	e.settings.ChaseEnabled = true
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)

	src := types.OrderData{
		GatewayName: "src", OrderID: "s1",
		Symbol: "rb2410", Exchange: "SHFE",
		Direction: types.DirectionLong, Offset: types.OffsetOpen,
		Price: 100.0, Volume: 3, Status: types.StatusNotTraded, Time: "10:00:00",
	}
	e.feedOrder(src)
	child := target.lastSent(t)
	e.feedOrder(activeChildOrder("tgt-1", child, 0, types.StatusNotTraded))

	cancelled := src
	cancelled.Status = types.StatusCancelled
	e.feedOrder(cancelled)

	if len(target.cancelled) != 1 {
		t.Fatalf("child should be cancelled with the source, got %v", target.cancelled)
	}
	if e.chaseOrders["tgt-1"] {
		t.Error("source-cancelled child must not be resendable")
	}

	// terminal push must not trigger a chase resend
	e.feedOrder(activeChildOrder("tgt-1", child, 0, types.StatusCancelled))
	if len(target.sent) != 1 {
		t.Errorf("cancelled child was chased: %d orders", len(target.sent))
	}
}

func TestBlacklistAndTimeoutFilters(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.SkipContracts = []string{"rb"}
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 1, 100.0)
	if len(target.sent) != 0 {
		t.Fatal("blacklisted product was followed")
	}

	e.settings.SkipContracts = nil
	stale := types.TradeData{
		GatewayName: "src", TradeID: "t2", OrderID: "o2",
		Symbol: "rb2410", Exchange: "SHFE",
		Direction: types.DirectionLong, Offset: types.OffsetOpen,
		Volume: 1, Price: 100.0,
		Time: "09:30:00", // half an hour before the fixed test clock
	}
	e.handleEvent(bus.Event{Type: bus.EventTrade, Data: stale})
	if len(target.sent) != 0 {
		t.Fatal("stale signal past follow timeout was followed")
	}
}

func TestTargetTradeUpdatesBook(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	e.Start()

	e.feedTrade("tgt", "tt1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 2, 100.0)
	entry, _ := e.positions.Get("rb2410.SHFE")
	if entry.TargetLong != 2 {
		t.Errorf("target_long = %v, want 2", entry.TargetLong)
	}
	if entry.SourceLong != 0 {
		t.Errorf("target fill leaked into source leg: %+v", entry)
	}
}

func TestRunDataSurvivesRestart(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Source:  config.GatewayConfig{Name: "src"},
		Target:  config.GatewayConfig{Name: "tgt"},
		Store:   config.StoreConfig{DataDir: t.TempDir()},
		Session: config.SessionConfig{DaylightEnd: "15:02", NightBegin: "20:45"},
	}
	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	source := newFakeGateway("src")
	target := newFakeGateway("tgt")
	for _, gw := range []*fakeGateway{source, target} {
		gw.contracts["rb2410"] = types.ContractData{Symbol: "rb2410", Exchange: "SHFE", PriceTick: 0.02}
	}

	e1, err := New(cfg, bus.New(64, time.Second, logger), st, source, target, logger)
	if err != nil {
		t.Fatalf("first engine: %v", err)
	}
	e1.now = func() time.Time { return testNow }
	e1.Start()
	e1.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e1.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)

	// the gateway now reports the fill in its trade snapshot; the second
	// engine seeds its dedup set from it at start, so the replayed push
	// neither follows again nor double-counts the position
	source.trades = append(source.trades, types.TradeData{
		GatewayName: "src", TradeID: "t1", OrderID: "o-t1",
		Symbol: "rb2410", Exchange: "SHFE",
		Direction: types.DirectionLong, Offset: types.OffsetOpen,
		Volume: 3, Price: 100.0, Time: "10:00:00",
	})

	e2, err := New(cfg, bus.New(64, time.Second, logger), st, source, target, logger)
	if err != nil {
		t.Fatalf("second engine: %v", err)
	}
	e2.now = func() time.Time { return testNow }
	e2.Start()

	sent := len(target.sent)
	e2.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	e2.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)
	if len(target.sent) != sent {
		t.Fatalf("replayed signal followed again after restart")
	}

	entry, _ := e2.positions.Get("rb2410.SHFE")
	if entry.SourceLong != 3 {
		t.Errorf("restored source_long = %v, want 3", entry.SourceLong)
	}
}

func TestCloseHedgedIssuesBothLegs(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.Start()

	key := "m2409.DCE"
	e.positions.SetField(key, FieldTargetLong, 4)
	e.positions.SetField(key, FieldTargetShort, 3)
	e.feedPosition("tgt", "m2409", "DCE", types.DirectionLong, 4, 4)
	e.feedPosition("tgt", "m2409", "DCE", types.DirectionShort, 3, 3)
	e.feedTick("src", "m2409", "DCE", 3000, 3001, 3300, 2700)

	e.CloseHedged(key, 5)
	if len(target.sent) != 0 {
		t.Fatal("quantity beyond hedged volume must be rejected")
	}

	e.CloseHedged(key, 2)
	if len(target.sent) != 2 {
		t.Fatalf("want both legs, got %d", len(target.sent))
	}
	if target.sent[0].Direction != types.DirectionShort || target.sent[1].Direction != types.DirectionLong {
		t.Errorf("legs = %s/%s, want short then long", target.sent[0].Direction, target.sent[1].Direction)
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPositionRefreshDrivenByTimer(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)

	var mu sync.Mutex
	deltas := 0
	e.bus.Register(bus.EventPosDelta, func(bus.Event) {
		mu.Lock()
		deltas++
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.bus.Run(ctx)

	e.Start()
	e.feedPosition("src", "rb2410", "SHFE", types.DirectionLong, 2, 0)

	// market ticks alone never re-broadcast the book
	for i := 0; i < 10; i++ {
		e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)
	}
	// five timer ticks refresh it once
	e.tickTimer(5)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deltas >= 2
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if deltas != 2 {
		t.Errorf("pos deltas = %d, want 1 from the snapshot plus 1 timer refresh", deltas)
	}
}

func TestStopClearsEmptyEntries(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	e.Start()

	e.ensureContract("m2409", "DCE")
	e.positions.SetField("rb2410.SHFE", FieldSourceLong, 2)
	e.positions.SetField("m2409.DCE", FieldBasicDelta, 1) // raw counters all zero

	e.Stop() // 10:00, outside the save window
	if _, ok := e.positions.Get("m2409.DCE"); ok {
		t.Error("all-zero entry must be cleared at stop even for a live contract")
	}
	if _, ok := e.positions.Get("rb2410.SHFE"); !ok {
		t.Error("non-empty entry must survive stop")
	}
}

func TestRejectedChaseOrderNotResent(t *testing.T) {
	t.Parallel()

	e, _, target := newTestEngine(t)
	e.settings.IntradayTrading = true
	e.settings.IntradaySymbols = []string{"m"}
	e.settings.ChaseEnabled = true
	e.Start()

	e.positions.SetField("m2409.DCE", FieldSourceTradedNet, -6)
	e.feedTick("src", "m2409", "DCE", 3000, 3001, 3300, 2700)
	e.feedTrade("src", "t1", "m2409", "DCE", types.DirectionLong, types.OffsetClose, 6, 3000)

	first := target.lastSent(t)
	if !e.chaseOrders["tgt-1"] {
		t.Fatal("must_done child should be chase-registered")
	}

	// a gateway reject ends the chase instead of bouncing a resend
	e.feedOrder(activeChildOrder("tgt-1", first, 0, types.StatusRejected))
	if len(target.sent) != 1 {
		t.Fatalf("rejected child was resent: %d orders", len(target.sent))
	}
	if e.chaseOrders["tgt-1"] {
		t.Error("rejected child should leave the chase set")
	}
}

func TestVolumeWhitelistUsesOrderVolume(t *testing.T) {
	t.Parallel()

	e, source, target := newTestEngine(t)
	e.settings.FilterTradeVolume = true
	e.settings.VolumeWhitelist = []float64{5}
	e.Start()

	e.feedTick("src", "rb2410", "SHFE", 100.0, 100.1, 110, 90)

	// a partial fill of a whitelisted 5-lot order is followed at the fill volume
	source.orders["o-t1"] = types.OrderData{OrderID: "o-t1", Volume: 5}
	e.feedTrade("src", "t1", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 2, 100.0)
	if len(target.sent) != 1 || target.sent[0].Volume != 2 {
		t.Fatalf("whitelisted order's fill not followed: %v", target.sent)
	}

	// unknown originating order: the fill volume itself is screened
	e.feedTrade("src", "t2", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 3, 100.0)
	if len(target.sent) != 1 {
		t.Fatal("fill with off-whitelist fallback volume was followed")
	}
	e.feedTrade("src", "t3", "rb2410", "SHFE", types.DirectionLong, types.OffsetOpen, 5, 100.0)
	if len(target.sent) != 2 {
		t.Fatal("whitelisted fallback volume should be followed")
	}
}
