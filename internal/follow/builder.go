package follow

import (
	"fmt"
	"math"

	"follow-trader/pkg/types"
)

// intent is a follow request bound to its signal, waiting in the send
// queue until the contract is priced.
type intent struct {
	signalID string
	req      types.OrderRequest
	mustDone bool
}

// buildIntents converts one filtered source fill into zero or more
// follow intents. In intraday mode the fill is first decomposed into an
// opening and/or closing leg against the running source traded net.
func (e *Engine) buildIntents(signalID string, trade types.TradeData) ([]intent, error) {
	if trade.Offset == types.OffsetNone || trade.Direction == types.DirectionNet {
		return nil, fmt.Errorf("malformed signal %s: direction=%s offset=%s",
			signalID, trade.Direction, trade.Offset)
	}

	if !e.settings.IntradayTrading {
		req, ok, err := e.buildOne(trade, trade.Direction, trade.Offset, trade.Volume, false)
		if err != nil || !ok {
			return nil, err
		}
		return e.expand(signalID, req, false), nil
	}

	var intents []intent
	for _, leg := range e.decompose(trade) {
		req, ok, err := e.buildOne(trade, leg.direction, leg.offset, leg.volume, leg.mustDone)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		intents = append(intents, e.expand(signalID, req, leg.mustDone)...)
	}
	return intents, nil
}

type tradeLeg struct {
	direction types.Direction
	offset    types.Offset
	volume    float64
	mustDone  bool
}

// decompose splits a source fill into open/close legs against the
// running source traded net, then advances the net by the signed fill.
// With net zero or matching sign the whole fill opens; an opposite-sign
// fill closes up to the net's magnitude and opens the remainder.
func (e *Engine) decompose(trade types.TradeData) []tradeLeg {
	key := trade.Key()
	entry, _ := e.positions.Get(key)
	stn := entry.SourceTradedNet
	delta := trade.SignedVolume()
	defer e.positions.AddSourceTradedNet(key, delta)

	if stn == 0 || sameSign(stn, delta) {
		return []tradeLeg{{trade.Direction, types.OffsetOpen, trade.Volume, false}}
	}
	if math.Abs(delta) <= math.Abs(stn) {
		return []tradeLeg{{trade.Direction, types.OffsetClose, trade.Volume, true}}
	}
	return []tradeLeg{
		{trade.Direction, types.OffsetClose, math.Abs(stn), true},
		{trade.Direction, types.OffsetOpen, math.Abs(delta + stn), false},
	}
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

// buildOne produces a single follow request: multiplier, optional
// direction inversion, loss-follow consumption, close normalization and
// target-holding clamp. Reports ok=false when the request is fully
// absorbed (loss consumed it, or no closable target volume).
func (e *Engine) buildOne(trade types.TradeData, direction types.Direction, offset types.Offset, volume float64, mustDone bool) (types.OrderRequest, bool, error) {
	direction = e.followDirection(direction)
	volume = volume * e.settings.Multiplier

	req := types.NewOrderRequest(trade.Symbol, trade.Exchange, direction, offset, volume, trade.Price, types.TagFollow)

	if e.settings.IntradayTrading && mustDone {
		var consumed bool
		req, consumed = e.applyLostFollow(req)
		if consumed {
			return types.OrderRequest{}, false, nil
		}
	}

	if e.settings.isIntradaySymbol(trade.Symbol) {
		// locked mode: broker nets against yesterday holdings, the
		// offset converter handles today/yesterday downstream
		return req, true, nil
	}

	if req.Offset.IsClose() {
		req.Offset = types.OffsetClose
		clamped, ok := e.validateTargetPos(req)
		if !ok {
			return types.OrderRequest{}, false, fmt.Errorf(
				"close %s %s: target holds nothing to close", req.Symbol, req.Direction)
		}
		req = clamped
	}
	return req, true, nil
}

// followDirection applies the inverse-follow swap.
func (e *Engine) followDirection(d types.Direction) types.Direction {
	if e.settings.InverseFollow {
		return d.Opposite()
	}
	return d
}

// applyLostFollow nets a must-done request against the contract's
// lost-follow debt. When the debt swallows the whole request nothing is
// emitted; otherwise the request shrinks to the surplus and the debt is
// zeroed.
func (e *Engine) applyLostFollow(req types.OrderRequest) (types.OrderRequest, bool) {
	key := req.Key()
	entry, ok := e.positions.Get(key)
	if !ok || entry.LostFollowNet == 0 {
		return req, false
	}

	lost := entry.LostFollowNet
	delta := req.SignedVolume()
	if math.Abs(delta) > math.Abs(lost) {
		req.Volume = math.Abs(lost + delta)
		e.positions.SetField(key, FieldLostFollowNet, 0)
		e.logf("loss-follow on %s consumed %v, following remaining %v", key, lost, req.Volume)
		return req, false
	}

	e.positions.SetField(key, FieldLostFollowNet, lost+delta)
	e.logf("loss-follow on %s absorbed signal volume %v, debt now %v", key, delta, lost+delta)
	return types.OrderRequest{}, true
}

// validateTargetPos clamps a close request to what the target account
// actually holds on the closing side. Reports ok=false at zero.
func (e *Engine) validateTargetPos(req types.OrderRequest) (types.OrderRequest, bool) {
	entry, ok := e.positions.Get(req.Key())
	if !ok {
		return req, false
	}

	// closing long direction consumes the target short leg
	held := entry.TargetLong
	if req.Direction == types.DirectionLong {
		held = entry.TargetShort
	}
	if held <= 0 {
		return req, false
	}
	if req.Volume > held {
		req.Volume = held
	}
	return req, true
}

// splitVolume cuts a request into equal pieces of at most the
// per-product single max plus one remainder piece.
func (e *Engine) splitVolume(req types.OrderRequest) []types.OrderRequest {
	max := e.settings.singleMaxFor(types.ProductPrefix(req.Symbol))
	if max <= 0 || req.Volume <= max {
		return []types.OrderRequest{req}
	}

	var pieces []types.OrderRequest
	remaining := req.Volume
	for remaining > max {
		piece := req
		piece.RequestID = types.NewRequestID()
		piece.Volume = max
		pieces = append(pieces, piece)
		remaining -= max
	}
	if remaining > 0 {
		piece := req
		piece.RequestID = types.NewRequestID()
		piece.Volume = remaining
		pieces = append(pieces, piece)
	}
	return pieces
}

// expand wraps a built request into queue intents.
func (e *Engine) expand(signalID string, req types.OrderRequest, mustDone bool) []intent {
	return []intent{{signalID: signalID, req: req, mustDone: mustDone}}
}
