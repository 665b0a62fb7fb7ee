package follow

import (
	"fmt"
	"math"

	"follow-trader/pkg/types"
)

// mintSyncID builds a synthetic signal id so a manual-sync order flows
// through the regular dispatch pipeline and its fills land on the
// target counters.
func (e *Engine) mintSyncID(basic bool) string {
	e.syncRef++
	prefix := types.SyncIDPrefix
	if basic {
		prefix = types.BasicIDPrefix
	}
	now := e.now()
	return fmt.Sprintf("%s%s%03d_%d", prefix, now.Format("150405"), now.Nanosecond()/1e6, e.syncRef)
}

// cancelFailChaseResiduals clears resting keep-after-chase leftovers on
// one contract before a sync plans against its positions. Live follow
// work is left alone.
func (e *Engine) cancelFailChaseResiduals(key string) {
	for orderID := range e.failChase {
		order, ok := e.workingOrders[orderID]
		if !ok || order.Key() != key || !order.Status.IsActive() {
			continue
		}
		if err := e.target.CancelOrder(order.CancelRequest()); err != nil {
			e.logf("cancel residual %s failed: %v", orderID, err)
		}
	}
}

// planOrder pushes one sync request into the pipeline. Sync targets are
// often known only from position snapshots, so the contract metadata is
// fetched here rather than relying on an earlier follow.
func (e *Engine) planOrder(signalID, key string, direction types.Direction, offset types.Offset, volume float64) {
	if volume <= 0 {
		return
	}
	symbol, exchange := types.SplitContractKey(key)
	if !e.ensureContract(symbol, exchange) {
		return
	}
	req := types.NewOrderRequest(symbol, exchange, direction, offset, volume, 0, types.TagSync)
	e.enqueue(intent{signalID: signalID, req: req, mustDone: true})
}

// syncOpen reconciles the open side of one contract: buy the missing
// long volume, short the missing short volume. Negative deltas are the
// close planner's business.
func (e *Engine) syncOpen(key string) {
	entry, ok := e.positions.Get(key)
	if !ok {
		e.logf("sync open %s: unknown contract", key)
		return
	}
	e.cancelFailChaseResiduals(key)

	longDelta, shortDelta := entry.LegDeltas(e.settings.Multiplier, e.settings.InverseFollow)
	id := e.mintSyncID(false)
	e.planOrder(id, key, types.DirectionLong, types.OffsetOpen, longDelta)
	e.planOrder(id, key, types.DirectionShort, types.OffsetOpen, shortDelta)
}

// syncClose reconciles the close side: sell the target's surplus long
// volume, cover its surplus short volume.
func (e *Engine) syncClose(key string) {
	entry, ok := e.positions.Get(key)
	if !ok {
		e.logf("sync close %s: unknown contract", key)
		return
	}
	e.cancelFailChaseResiduals(key)

	longDelta, shortDelta := entry.LegDeltas(e.settings.Multiplier, e.settings.InverseFollow)
	id := e.mintSyncID(false)
	if longDelta < 0 {
		e.planOrder(id, key, types.DirectionShort, types.OffsetClose, -longDelta)
	}
	if shortDelta < 0 {
		e.planOrder(id, key, types.DirectionLong, types.OffsetClose, -shortDelta)
	}
}

// syncBoth runs the open planner then the close planner.
func (e *Engine) syncBoth(key string) {
	e.syncOpen(key)
	e.syncClose(key)
}

// syncAll reconciles every contract in the position book.
func (e *Engine) syncAll() {
	for _, key := range e.positions.Keys() {
		e.syncBoth(key)
	}
}

// syncNet issues one order for the net follow gap minus the operator
// baseline. With basic set the order re-establishes the baseline
// itself: it trades at the hard limit and zeroes basic_delta on issue.
// Intended for intraday products whose broker nets open against
// holdings.
func (e *Engine) syncNet(key string, basic bool) {
	entry, ok := e.positions.Get(key)
	if !ok {
		e.logf("sync net %s: unknown contract", key)
		return
	}
	e.cancelFailChaseResiduals(key)

	diff := entry.NetDelta(e.settings.Multiplier, e.settings.InverseFollow) - entry.BasicDelta
	if diff == 0 {
		e.logf("sync net %s: already flat", key)
		return
	}

	direction := types.DirectionLong
	if diff < 0 {
		direction = types.DirectionShort
	}
	if basic {
		e.positions.SetField(key, FieldBasicDelta, 0)
		e.saveRunData()
	}
	e.planOrder(e.mintSyncID(basic), key, direction, types.OffsetOpen, math.Abs(diff))
}

// closeHedged unwinds a long/short hedge on one contract by closing the
// given quantity on both legs. Operator-triggered only.
func (e *Engine) closeHedged(key string, quantity float64) {
	if quantity <= 0 {
		return
	}
	entry, ok := e.positions.Get(key)
	if !ok {
		e.logf("close hedged %s: unknown contract", key)
		return
	}
	held := math.Min(entry.TargetLong, entry.TargetShort)
	if quantity > held {
		e.logf("close hedged %s: quantity %v exceeds hedged volume %v", key, quantity, held)
		return
	}
	e.cancelFailChaseResiduals(key)

	id := e.mintSyncID(false)
	e.planOrder(id, key, types.DirectionShort, types.OffsetClose, quantity)
	e.planOrder(id, key, types.DirectionLong, types.OffsetClose, quantity)
}
