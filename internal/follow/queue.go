package follow

import (
	"strings"

	"follow-trader/pkg/types"
)

// enqueue accepts a built intent. Priced contracts dispatch right away;
// the rest wait in the send queue for the next timer scan, with a
// subscription fired so pricing eventually arrives.
func (e *Engine) enqueue(it intent) {
	if e.prices.Priced(it.req.Key()) {
		e.dispatch(it)
		return
	}
	e.subscribeOnce(it.req.Symbol, it.req.Exchange)
	e.sendQueue = append(e.sendQueue, it)
}

// scanQueue runs on every timer tick: dispatch every entry whose
// contract has become priced, keep the rest in order.
func (e *Engine) scanQueue() {
	if len(e.sendQueue) == 0 {
		return
	}
	remaining := e.sendQueue[:0]
	for _, it := range e.sendQueue {
		if e.prices.Priced(it.req.Key()) {
			e.dispatch(it)
		} else {
			remaining = append(remaining, it)
		}
	}
	e.sendQueue = remaining
}

// subscribeOnce asks the source gateway for market data on a contract,
// at most once per session.
func (e *Engine) subscribeOnce(symbol, exchange string) {
	key := types.ContractKey(symbol, exchange)
	if e.subscribed[key] {
		return
	}
	e.subscribed[key] = true
	if err := e.source.Subscribe(types.SubscribeRequest{Symbol: symbol, Exchange: exchange}); err != nil {
		e.logf("subscribe %s failed: %v", key, err)
	}
}

// signalKind classifies a signal id by its synthetic prefix.
func signalKind(signalID string) types.RequestTag {
	switch {
	case strings.HasPrefix(signalID, types.BasicIDPrefix):
		return types.TagBasic
	case strings.HasPrefix(signalID, types.SyncIDPrefix):
		return types.TagSync
	default:
		return types.TagFollow
	}
}

// dispatch prices an intent, rewrites its close offset, splits volume
// and sends the resulting pieces to the target gateway. Every child
// order id is registered across the signal map and tracker tables.
func (e *Engine) dispatch(it intent) {
	req := it.req
	mustDone := it.mustDone

	kind := signalKind(it.signalID)
	spec := priceSpec{basePrice: e.settings.OrderBasePrice, tickAdd: e.settings.TickAdd}
	switch kind {
	case types.TagBasic:
		// baseline sync trades at the hard limit
		req.Tag = types.TagBasic
		mustDone = true
		spec.market = true
	case types.TagSync:
		req.Tag = types.TagSync
		mustDone = true
		spec.basePrice = e.settings.SyncBasePrice
		spec.tickAdd = e.settings.MustDoneTickAdd
	default:
		if mustDone {
			spec.tickAdd = e.settings.MustDoneTickAdd
		}
		if e.settings.OrderType == types.OrderTypeMarket {
			spec.market = true
		}
	}

	price, err := e.convertPrice(req.Key(), req.Direction, spec)
	if err != nil {
		e.logf("price conversion for %s failed: %v", req.Key(), err)
		return
	}
	req.Price = price

	legs := e.converter.Convert(req)
	if legs == nil {
		e.logf("close %s dropped: no closable target volume", req.Key())
		return
	}

	for _, leg := range legs {
		for _, piece := range e.splitVolume(leg) {
			e.sendChild(it.signalID, piece, mustDone)
		}
	}
	e.saveRunData()
}

// sendChild sends one piece and registers the child order id.
func (e *Engine) sendChild(signalID string, req types.OrderRequest, mustDone bool) {
	orderID, err := e.target.SendOrder(req)
	if err != nil || orderID == "" {
		e.logf("send order %s %s %v@%v failed: %v", req.Key(), req.Direction, req.Volume, req.Price, err)
		return
	}

	e.converter.UpdateOrderRequest(req, orderID)

	e.signalOrders[signalID] = append(e.signalOrders[signalID], orderID)
	e.orderSignal[orderID] = signalID
	e.firstOrders[orderID] = true

	if !mustDone {
		e.openOrders[orderID] = true
	}
	if mustDone && e.settings.ChaseEnabled {
		e.chaseOrders[orderID] = true
		e.chaseAncestor[orderID] = orderID
		e.chaseResend[orderID] = 0
	}
	if signalKind(signalID) != types.TagFollow || e.settings.IntradayTrading {
		e.intradayOrders[orderID] = true
	}

	e.logf("sent %s child %s: %s %s %s %v@%v", signalID, orderID,
		req.Key(), req.Direction, req.Offset, req.Volume, req.Price)
}
