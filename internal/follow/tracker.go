package follow

import (
	"follow-trader/pkg/types"
)

// trackOrder admits a working follow order into the timeout scanner.
// In follow-by-order mode a child of a keep-hang signal is held without
// a timer until the source order resolves.
func (e *Engine) trackOrder(order types.OrderData) {
	orderID := order.OrderID
	if _, ok := e.activeOrders[orderID]; ok {
		return
	}
	if e.cancelCounts[orderID] > e.settings.MaxCancel {
		return
	}
	// keep-after-chase residuals rest until filled or manually cleared
	if e.failChase[orderID] {
		return
	}
	if signal, ok := e.orderSignal[orderID]; ok && e.keepHang[signal] {
		return
	}
	e.activeOrders[orderID] = 0
	e.workingOrders[orderID] = order
}

// primeKeepHangChildren starts the timers of a signal's children once
// the source order has fully filled and the hold is lifted.
func (e *Engine) primeKeepHangChildren(signalID string) {
	delete(e.keepHang, signalID)
	for _, orderID := range e.signalOrders[signalID] {
		if order, ok := e.workingOrders[orderID]; ok && order.Status.IsActive() {
			if _, tracked := e.activeOrders[orderID]; !tracked {
				e.activeOrders[orderID] = 0
			}
		}
	}
}

// timeoutFor picks the threshold in ticks for one active order. Chase
// resends run on the shorter chase timeout; everything else, including
// the first send of a chased order, uses the regular cancel timeout.
func (e *Engine) timeoutFor(orderID string) int {
	if e.chaseOrders[orderID] && !e.firstOrders[orderID] {
		return e.settings.ChaseOrderTimeout
	}
	return e.settings.CancelOrderTimeout
}

// scanActiveOrders advances every tracked order's elapsed counter and
// cancels the ones past their threshold. An order whose cancel count
// exceeds the cap leaves the tracker for good.
func (e *Engine) scanActiveOrders() {
	for orderID, elapsed := range e.activeOrders {
		if e.cancelCounts[orderID] > e.settings.MaxCancel {
			delete(e.activeOrders, orderID)
			e.logf("order %s exceeded max cancel attempts, untracked", orderID)
			continue
		}
		if elapsed >= e.timeoutFor(orderID) {
			e.cancelTracked(orderID)
			continue
		}
		e.activeOrders[orderID] = elapsed + 1
	}
}

// cancelTracked sends a cancel for one tracked order and resets its
// timer for the next attempt.
func (e *Engine) cancelTracked(orderID string) {
	order, ok := e.workingOrders[orderID]
	if !ok {
		e.logf("cancel of unknown order %s skipped", orderID)
		delete(e.activeOrders, orderID)
		return
	}
	if err := e.target.CancelOrder(order.CancelRequest()); err != nil {
		e.logf("cancel %s failed: %v", orderID, err)
	}
	e.cancelCounts[orderID]++
	e.activeOrders[orderID] = 0
}

// onChildTerminal handles a terminal status push for a follow child:
// loss accounting for cancelled opens, then the chase loop.
func (e *Engine) onChildTerminal(order types.OrderData) {
	orderID := order.OrderID
	delete(e.activeOrders, orderID)
	delete(e.workingOrders, orderID)

	if order.Status != types.StatusCancelled && order.Status != types.StatusRejected {
		return
	}

	if e.openOrders[orderID] {
		delete(e.openOrders, orderID)
		lost := order.Direction.Sign() * order.Remaining()
		if lost != 0 {
			e.positions.AddLostFollow(order.Key(), lost)
			e.logf("open order %s cancelled, lost follow %+v on %s", orderID, lost, order.Key())
			e.saveRunData()
		}
	}

	if e.chaseOrders[orderID] {
		// only a completed cancel feeds the chase loop; a gateway
		// reject would just bounce straight back
		if order.Status == types.StatusCancelled {
			e.resendChase(order)
		} else {
			delete(e.chaseOrders, orderID)
			delete(e.chaseAncestor, orderID)
			e.logf("chase of %s abandoned: rejected by gateway", orderID)
		}
	}
}

// resendChase replaces a cancelled chased order with a fresh one at a
// more aggressive price, bounded by the per-ancestor resend cap. Past
// the cap an optional final replacement is left resting untracked.
func (e *Engine) resendChase(order types.OrderData) {
	orderID := order.OrderID
	delete(e.chaseOrders, orderID)

	ancestor, ok := e.chaseAncestor[orderID]
	if !ok {
		ancestor = orderID
	}
	delete(e.chaseAncestor, orderID)

	remaining := order.Remaining()
	if remaining <= 0 {
		return
	}

	signalID, ok := e.orderSignal[orderID]
	if !ok {
		e.logf("chase of %s skipped: no signal", orderID)
		return
	}

	if e.chaseResend[ancestor] >= e.settings.ChaseMaxResend {
		delete(e.chaseResend, ancestor)
		if e.settings.KeepOrderAfterChase {
			e.keepAfterChase(signalID, order, remaining)
		} else {
			e.logf("chase of %s gave up after %d resends", ancestor, e.settings.ChaseMaxResend)
		}
		return
	}

	spec := priceSpec{tickAdd: e.settings.ChaseTickAdd, basePrice: e.settings.ChaseBasePrice}
	if e.settings.ChaseChainPrice {
		spec.explicit = order.Price
	}
	price, err := e.convertPrice(order.Key(), order.Direction, spec)
	if err != nil {
		e.logf("chase pricing for %s failed: %v", order.Key(), err)
		return
	}

	req := types.NewOrderRequest(order.Symbol, order.Exchange,
		order.Direction, order.Offset, remaining, price, types.TagChase)
	newID, err := e.target.SendOrder(req)
	if err != nil || newID == "" {
		e.logf("chase resend for %s failed: %v", order.Key(), err)
		return
	}

	e.converter.UpdateOrderRequest(req, newID)
	e.signalOrders[signalID] = append(e.signalOrders[signalID], newID)
	e.orderSignal[newID] = signalID
	e.chaseOrders[newID] = true
	e.chaseAncestor[newID] = ancestor
	e.chaseResend[ancestor]++
	e.intradayOrders[newID] = true
	e.saveRunData()

	e.logf("chase resend %d for %s: %s %v@%v as %s",
		e.chaseResend[ancestor], ancestor, order.Key(), remaining, price, newID)
}

// keepAfterChase rests one final replacement at the cancelled order's
// own price. It is never tracked, so it cannot be timeout-cancelled.
func (e *Engine) keepAfterChase(signalID string, order types.OrderData, remaining float64) {
	req := types.NewOrderRequest(order.Symbol, order.Exchange,
		order.Direction, order.Offset, remaining, order.Price, types.TagKeepChase)
	newID, err := e.target.SendOrder(req)
	if err != nil || newID == "" {
		e.logf("keep-after-chase for %s failed: %v", order.Key(), err)
		return
	}

	e.converter.UpdateOrderRequest(req, newID)
	e.signalOrders[signalID] = append(e.signalOrders[signalID], newID)
	e.orderSignal[newID] = signalID
	e.failChase[newID] = true
	e.saveRunData()
	e.logf("chase of %s exhausted, resting %s at %v", order.OrderID, newID, order.Price)
}

// onSourceCancelled handles an explicit cancel of the source order in
// follow-by-order mode: every child is stripped of its chase right and
// cancelled.
func (e *Engine) onSourceCancelled(signalID string) {
	delete(e.keepHang, signalID)
	for _, orderID := range e.signalOrders[signalID] {
		delete(e.chaseOrders, orderID)
		delete(e.chaseAncestor, orderID)
		if order, ok := e.workingOrders[orderID]; ok && order.Status.IsActive() {
			if err := e.target.CancelOrder(order.CancelRequest()); err != nil {
				e.logf("cancel child %s failed: %v", orderID, err)
			}
			e.cancelCounts[orderID]++
		}
	}
}
