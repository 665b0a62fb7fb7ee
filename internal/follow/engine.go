// Package follow implements the trade-follower engine.
//
// The engine sits between two gateways: it watches the source account's
// order and trade stream, turns accepted signals into target-account
// orders (volume multiplier, direction inversion, intraday open/close
// decomposition, close rewriting, volume splitting) and manages every
// child order it sends (timeout cancellation, price chasing, loss
// accounting). All state is owned by the event-bus goroutine; the
// command surface takes the engine lock, so operator calls interleave
// safely with event handling.
package follow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"follow-trader/internal/bus"
	"follow-trader/internal/config"
	"follow-trader/internal/gateway"
	"follow-trader/internal/market"
	"follow-trader/internal/offset"
	"follow-trader/internal/store"
	"follow-trader/pkg/types"
)

// posDeltaRefreshTicks spaces out the periodic position broadcasts, in
// timer ticks.
const posDeltaRefreshTicks = 5

// PositionDelta is the outbound position notification published after
// every book mutation.
type PositionDelta struct {
	ContractKey string        `json:"contract_key"`
	Entry       PositionEntry `json:"entry"`
	SourceNet   float64       `json:"source_net"`
	TargetNet   float64       `json:"target_net"`
	NetDelta    float64       `json:"net_delta"`
}

// runData is the follow_data.json document.
type runData struct {
	SignalOrders map[string][]string      `json:"tradeid_orderids_dict"`
	Positions    map[string]PositionEntry `json:"positions"`
}

// Engine is the trade follower.
type Engine struct {
	mu     sync.Mutex
	logger *slog.Logger
	bus    *bus.Bus
	store  *store.Store
	cfg    *config.Config

	settings  Settings
	catalog   *market.Catalog
	prices    *market.PriceCache
	positions *PositionBook
	converter *offset.Converter
	source    gateway.Gateway
	target    gateway.Gateway

	active bool

	// signal registry
	signalOrders map[string][]string
	orderSignal  map[string]string
	seenTrades   map[string]bool
	seenOrders   map[string]bool

	// send queue
	sendQueue  []intent
	subscribed map[string]bool

	// tracker tables
	activeOrders   map[string]int
	workingOrders  map[string]types.OrderData
	cancelCounts   map[string]int
	firstOrders    map[string]bool
	openOrders     map[string]bool
	chaseOrders    map[string]bool
	chaseAncestor  map[string]string
	chaseResend    map[string]int
	keepHang       map[string]bool
	failChase      map[string]bool
	intradayOrders map[string]bool

	syncRef      int
	timerCount   int
	sessionSaved bool
	now          func() time.Time
}

// New builds an engine, restores persisted state and registers its
// event handlers on the bus.
func New(cfg *config.Config, b *bus.Bus, st *store.Store, source, target gateway.Gateway, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		logger:    logger.With("component", "follow"),
		bus:       b,
		store:     st,
		cfg:       cfg,
		catalog:   market.NewCatalog(),
		prices:    market.NewPriceCache(),
		positions: NewPositionBook(),
		converter: offset.NewConverter(),
		source:    source,
		target:    target,

		signalOrders:   make(map[string][]string),
		orderSignal:    make(map[string]string),
		seenTrades:     make(map[string]bool),
		seenOrders:     make(map[string]bool),
		subscribed:     make(map[string]bool),
		activeOrders:   make(map[string]int),
		workingOrders:  make(map[string]types.OrderData),
		cancelCounts:   make(map[string]int),
		firstOrders:    make(map[string]bool),
		openOrders:     make(map[string]bool),
		chaseOrders:    make(map[string]bool),
		chaseAncestor:  make(map[string]string),
		chaseResend:    make(map[string]int),
		keepHang:       make(map[string]bool),
		failChase:      make(map[string]bool),
		intradayOrders: make(map[string]bool),

		now: time.Now,
	}

	e.settings = DefaultSettings(cfg.Source.Name, cfg.Target.Name)
	found, err := st.LoadSettings(&e.settings)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !found {
		e.logger.Info("no saved settings, using defaults")
	}

	var doc runData
	if found, err = st.LoadData(&doc); err != nil {
		return nil, fmt.Errorf("load run data: %w", err)
	}
	if found {
		if doc.SignalOrders != nil {
			e.signalOrders = doc.SignalOrders
		}
		e.positions.Restore(doc.Positions)
		for signalID, children := range e.signalOrders {
			for _, orderID := range children {
				e.orderSignal[orderID] = signalID
			}
		}
		e.logger.Info("run data restored",
			"signals", len(e.signalOrders), "contracts", len(doc.Positions))
	}

	b.Register(bus.EventTick, e.handleEvent)
	b.Register(bus.EventOrder, e.handleEvent)
	b.Register(bus.EventTrade, e.handleEvent)
	b.Register(bus.EventPosition, e.handleEvent)
	b.Register(bus.EventTimer, e.handleEvent)
	return e, nil
}

// handleEvent is the single entry point from the bus goroutine.
func (e *Engine) handleEvent(evt bus.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch evt.Type {
	case bus.EventTick:
		if tick, ok := evt.Data.(types.TickData); ok {
			e.onTick(tick)
		}
	case bus.EventOrder:
		if order, ok := evt.Data.(types.OrderData); ok {
			e.onOrder(order)
		}
	case bus.EventTrade:
		if trade, ok := evt.Data.(types.TradeData); ok {
			e.onTrade(trade)
		}
	case bus.EventPosition:
		if pos, ok := evt.Data.(types.PositionData); ok {
			e.onPosition(pos)
		}
	case bus.EventTimer:
		e.onTimer()
	}
}

// logf records an engine log line and mirrors it onto the bus for the
// operator surface. Dropped when the bus is saturated.
func (e *Engine) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.logger.Info(msg)
	e.bus.TryPublish(bus.Event{Type: bus.EventLog, Data: types.LogData{
		Msg:    msg,
		Source: "follow",
		Time:   e.now(),
	}})
}

// publishPosDelta broadcasts the current entry for one contract.
func (e *Engine) publishPosDelta(key string) {
	entry, ok := e.positions.Get(key)
	if !ok {
		return
	}
	e.bus.TryPublish(bus.Event{Type: bus.EventPosDelta, Data: PositionDelta{
		ContractKey: key,
		Entry:       entry,
		SourceNet:   entry.SourceNet(),
		TargetNet:   entry.TargetNet(),
		NetDelta:    entry.NetDelta(e.settings.Multiplier, e.settings.InverseFollow),
	}})
}

// saveRunData persists the signal map and position book. Called after
// every mutation and before every send so a restart recognizes followed
// signals.
func (e *Engine) saveRunData() {
	doc := runData{
		SignalOrders: e.signalOrders,
		Positions:    e.positions.Snapshot(),
	}
	if err := e.store.SaveData(doc); err != nil {
		e.logf("save run data failed: %v", err)
	}
}

// ensureContract fetches catalog metadata for a contract the first time
// it is needed, preferring the target gateway which executes against it.
func (e *Engine) ensureContract(symbol, exchange string) bool {
	key := types.ContractKey(symbol, exchange)
	if e.catalog.Contains(key) {
		return true
	}
	for _, gw := range []gateway.Gateway{e.target, e.source} {
		contract, err := gw.GetContract(symbol)
		if err == nil && contract.PriceTick > 0 {
			e.catalog.Put(contract)
			return true
		}
	}
	e.logf("no contract metadata for %s", key)
	return false
}

// Event handlers. All run under the engine lock.

func (e *Engine) onTick(tick types.TickData) {
	e.prices.ApplyTick(tick)
}

func (e *Engine) onOrder(order types.OrderData) {
	switch order.GatewayName {
	case e.settings.TargetGateway:
		e.onTargetOrder(order)
	case e.settings.SourceGateway:
		if e.active && e.settings.FollowBased == types.BaseOrder {
			e.onSourceOrder(order)
		}
	}
}

// onTargetOrder tracks the lifecycle of our own child orders.
func (e *Engine) onTargetOrder(order types.OrderData) {
	e.converter.UpdateOrder(order)

	if _, ours := e.orderSignal[order.OrderID]; !ours {
		return
	}
	e.workingOrders[order.OrderID] = order

	if order.Status.IsActive() {
		e.trackOrder(order)
		return
	}
	e.onChildTerminal(order)
}

// onSourceOrder is the follow-by-order signal path. A source order is
// followed once, on first acceptance; its children are held without a
// cancel timer while the source order itself is still working.
func (e *Engine) onSourceOrder(order types.OrderData) {
	signalID := order.OrderID

	if e.seenOrders[signalID] {
		switch {
		case order.Status == types.StatusAllTraded &&
			len(e.signalOrders[signalID]) > 0 && e.keepHang[signalID]:
			e.logf("source order %s filled, releasing held children", signalID)
			e.primeKeepHangChildren(signalID)
		case order.Status == types.StatusCancelled:
			e.logf("source order %s cancelled, cancelling children", signalID)
			e.onSourceCancelled(signalID)
		}
		return
	}
	e.seenOrders[signalID] = true

	if !order.Status.IsActive() && order.Status != types.StatusAllTraded {
		return
	}

	sig := signalContext{
		signalID:    signalID,
		symbol:      order.Symbol,
		orderVolume: order.Volume,
		eventTime:   order.Time,
		now:         e.now(),
	}
	if reason := runFilters(e, &sig); reason != "" {
		e.logf("signal %s dropped: %s", signalID, reason)
		return
	}

	trade := types.TradeData{
		GatewayName: order.GatewayName,
		OrderID:     order.OrderID,
		Symbol:      order.Symbol,
		Exchange:    order.Exchange,
		Direction:   order.Direction,
		Offset:      order.Offset,
		Price:       order.Price,
		Volume:      order.Volume,
		Time:        order.Time,
	}
	if order.Status.IsActive() {
		e.keepHang[signalID] = true
	}
	e.follow(signalID, trade)
}

func (e *Engine) onTrade(trade types.TradeData) {
	if e.seenTrades[trade.TradeID] {
		return
	}
	e.seenTrades[trade.TradeID] = true

	switch trade.GatewayName {
	case e.settings.SourceGateway:
		e.onSourceTrade(trade)
	case e.settings.TargetGateway:
		e.onTargetTrade(trade)
	}
}

func (e *Engine) onSourceTrade(trade types.TradeData) {
	e.positions.ApplyTrade(trade, true)
	e.publishPosDelta(trade.Key())
	e.saveRunData()

	if !e.active || e.settings.FollowBased != types.BaseTrade {
		return
	}

	sig := signalContext{
		signalID:    trade.TradeID,
		symbol:      trade.Symbol,
		orderVolume: e.originatingOrderVolume(trade),
		eventTime:   trade.Time,
		now:         e.now(),
	}
	if reason := runFilters(e, &sig); reason != "" {
		e.logf("signal %s dropped: %s", trade.TradeID, reason)
		return
	}
	e.follow(trade.TradeID, trade)
}

// originatingOrderVolume resolves the volume the whitelist filter
// checks: the source order's volume, not the fill's. Falls back to the
// fill volume when the lookup fails.
func (e *Engine) originatingOrderVolume(trade types.TradeData) float64 {
	if !e.settings.FilterTradeVolume {
		return trade.Volume
	}
	order, err := e.source.GetOrder(trade.OrderID)
	if err != nil || order.Volume == 0 {
		return trade.Volume
	}
	return order.Volume
}

// follow turns one accepted signal into queued intents. The signal is
// registered and persisted before anything is sent, so a restart cannot
// follow it twice.
func (e *Engine) follow(signalID string, trade types.TradeData) {
	intents, err := e.buildIntents(signalID, trade)
	if err != nil {
		e.logf("signal %s dropped: %v", signalID, err)
		return
	}

	if _, ok := e.signalOrders[signalID]; !ok {
		e.signalOrders[signalID] = []string{}
	}
	e.saveRunData()

	for _, it := range intents {
		e.ensureContract(it.req.Symbol, it.req.Exchange)
		e.enqueue(it)
	}
}

func (e *Engine) onTargetTrade(trade types.TradeData) {
	e.positions.ApplyTrade(trade, false)
	e.converter.UpdateTrade(trade)
	e.publishPosDelta(trade.Key())
	e.saveRunData()
}

func (e *Engine) onPosition(pos types.PositionData) {
	switch pos.GatewayName {
	case e.settings.SourceGateway:
		if !e.positions.ApplyPosition(pos, true) {
			return
		}
		// subscribe ahead of the first follow so the contract is priced
		// by the time a fill arrives
		e.subscribeOnce(pos.Symbol, pos.Exchange)
	case e.settings.TargetGateway:
		if !e.positions.ApplyPosition(pos, false) {
			return
		}
		e.converter.UpdatePosition(pos)
	default:
		return
	}
	e.publishPosDelta(pos.Key())
}

func (e *Engine) onTimer() {
	if !e.active {
		return
	}

	e.scanQueue()
	e.scanActiveOrders()

	e.timerCount++
	if e.timerCount%posDeltaRefreshTicks == 0 {
		for _, key := range e.positions.Keys() {
			e.publishPosDelta(key)
		}
	}

	if e.cfg.InSaveWindow(e.now()) {
		if !e.sessionSaved {
			e.sessionSaved = true
			e.saveSessionArtifacts()
		}
	} else {
		e.sessionSaved = false
	}
}

// saveSessionArtifacts exports the day's trades and account balances.
func (e *Engine) saveSessionArtifacts() {
	day := e.now()

	var records []store.TradeRecord
	for _, side := range []struct {
		gw   gateway.Gateway
		kind string
	}{{e.source, "source"}, {e.target, "target"}} {
		trades, err := side.gw.GetAllTrades()
		if err != nil {
			e.logf("fetch %s trades failed: %v", side.kind, err)
			continue
		}
		accountID := e.accountID(side.gw)
		for _, trade := range trades {
			records = append(records, store.TradeRecord{
				TradeData:   trade,
				AccountType: side.kind,
				AccountID:   accountID,
			})
		}
	}
	if len(records) > 0 {
		if err := e.store.SaveTrades(day, records); err != nil {
			e.logf("save trade csv failed: %v", err)
		} else {
			e.logf("saved %d trades to csv", len(records))
		}
	}

	var accounts []types.AccountData
	for _, gw := range []gateway.Gateway{e.source, e.target} {
		accs, err := gw.GetAllAccounts()
		if err != nil {
			e.logf("fetch accounts from %s failed: %v", gw.Name(), err)
			continue
		}
		accounts = append(accounts, accs...)
	}
	if len(accounts) > 0 {
		if err := e.store.AppendAccountInfo(day, accounts); err != nil {
			e.logf("save account info failed: %v", err)
		}
	}
}

// accountID returns the first account id a gateway reports.
func (e *Engine) accountID(gw gateway.Gateway) string {
	accounts, err := gw.GetAllAccounts()
	if err != nil || len(accounts) == 0 {
		return ""
	}
	return accounts[0].AccountID
}

// Command surface. Safe from any goroutine.

// Start activates following: seeds the trade dedup set from both
// gateways so replayed fills are not re-followed, and fires the
// configured pre-subscriptions.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		e.logf("already started")
		return
	}

	for _, gw := range []gateway.Gateway{e.source, e.target} {
		trades, err := gw.GetAllTrades()
		if err != nil {
			e.logf("seed trade ids from %s failed: %v", gw.Name(), err)
			continue
		}
		for _, trade := range trades {
			e.seenTrades[trade.TradeID] = true
		}
	}

	for _, key := range e.settings.PreSubscribe {
		symbol, exchange := types.SplitContractKey(key)
		if exchange == "" {
			e.logf("pre-subscribe %q skipped: no exchange", key)
			continue
		}
		e.ensureContract(symbol, exchange)
		e.subscribeOnce(symbol, exchange)
	}

	e.active = true
	e.logf("follow engine started: source=%s target=%s mode=%s",
		e.settings.SourceGateway, e.settings.TargetGateway, e.settings.FollowBased)
}

// Stop deactivates following and persists all state. Working orders are
// left in place unless cancel_all_on_stop is set. Inside the
// end-of-session window it also snapshots run data into history and
// clears the session-local tables.
func (e *Engine) Stop() {
	e.stop(false)
}

// StopAndCancel is Stop plus a cancel of every working child order.
func (e *Engine) StopAndCancel() {
	e.stop(true)
}

func (e *Engine) stop(cancelAll bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		e.logf("already stopped")
		return
	}
	e.active = false

	if cancelAll || e.settings.CancelAllOnStop {
		e.cancelAllWorking()
	}

	if err := e.store.SaveSettings(e.settings); err != nil {
		e.logf("save settings failed: %v", err)
	}
	if removed := e.positions.ClearEmpty(); len(removed) > 0 {
		e.logf("cleared %d empty position entries", len(removed))
	}
	e.saveRunData()

	now := e.now()
	if e.cfg.InSaveWindow(now) {
		e.saveSessionArtifacts()
		doc := runData{SignalOrders: e.signalOrders, Positions: e.positions.Snapshot()}
		if err := e.store.SnapshotHistory(now, doc); err != nil {
			e.logf("history snapshot failed: %v", err)
		}
		e.clearSession()
		e.saveRunData()
	}

	e.logf("follow engine stopped")
}

// cancelAllWorking cancels every active child order.
func (e *Engine) cancelAllWorking() {
	for orderID, order := range e.workingOrders {
		if !order.Status.IsActive() {
			continue
		}
		delete(e.chaseOrders, orderID)
		if err := e.target.CancelOrder(order.CancelRequest()); err != nil {
			e.logf("cancel %s failed: %v", orderID, err)
		}
	}
}

// clearSession drops the per-session tables at end of day: the signal
// map, the dedup sets and the running source net.
func (e *Engine) clearSession() {
	e.signalOrders = make(map[string][]string)
	e.orderSignal = make(map[string]string)
	e.seenOrders = make(map[string]bool)
	e.seenTrades = make(map[string]bool)
	e.positions.ResetSessionLocal()
	e.logf("session data cleared and archived")
}

// SetParameter mutates one runtime parameter and persists the settings.
func (e *Engine) SetParameter(name ParamName, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.settings.apply(name, value); err != nil {
		return err
	}
	if err := e.store.SaveSettings(e.settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	e.logf("parameter %s set to %v", name, value)
	return nil
}

// SetPosition overrides one position counter. Operator entry point.
func (e *Engine) SetPosition(key string, field PositionField, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.positions.SetField(key, field, value) {
		return fmt.Errorf("unknown position field %q", field)
	}
	e.saveRunData()
	e.publishPosDelta(key)
	e.logf("position %s %s set to %v", key, field, value)
	return nil
}

// Params returns a copy of the current settings.
func (e *Engine) Params() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Positions returns a copy of the position book.
func (e *Engine) Positions() map[string]PositionEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.Snapshot()
}

// Active reports whether the engine is following.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// ConnectedGateways lists the gateway names that report accounts.
func (e *Engine) ConnectedGateways() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var names []string
	for _, gw := range []gateway.Gateway{e.source, e.target} {
		if accounts, err := gw.GetAllAccounts(); err == nil && len(accounts) > 0 {
			names = append(names, gw.Name())
		}
	}
	return names
}

// SyncOpen reconciles the open side of one contract.
func (e *Engine) SyncOpen(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncOpen(key)
}

// SyncClose reconciles the close side of one contract.
func (e *Engine) SyncClose(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncClose(key)
}

// SyncBoth reconciles both sides of one contract.
func (e *Engine) SyncBoth(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncBoth(key)
}

// SyncAll reconciles every contract in the book.
func (e *Engine) SyncAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncAll()
}

// SyncNet issues one net-delta sync order for a contract.
func (e *Engine) SyncNet(key string, basic bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncNet(key, basic)
}

// CloseHedged unwinds a hedged quantity on both legs of a contract.
func (e *Engine) CloseHedged(key string, quantity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeHedged(key, quantity)
}
