// Package offset rewrites close orders into today-close / yesterday-close
// legs based on the target account's actual holdings.
//
// Some exchanges (SHFE, INE) reject a plain close and require the order to
// say whether it closes a position opened today or carried from yesterday.
// The converter mirrors the target account's holdings per contract —
// today/yesterday, long/short — from position snapshots and trades, tracks
// volume frozen by working close orders, and splits an incoming close
// request into at most two legs that the exchange will accept. Requests
// for other exchanges, and all opens, pass through untouched.
package offset

import (
	"sync"

	"follow-trader/pkg/types"
)

// splitExchanges require the today/yesterday close distinction.
var splitExchanges = map[string]bool{
	"SHFE": true,
	"INE":  true,
}

// Holding is the target account's position in one contract, split by side
// and by trading day.
type Holding struct {
	LongTd  float64
	LongYd  float64
	ShortTd float64
	ShortYd float64
}

// Converter maintains holdings and working-order state for the target
// account and converts close requests into exchange-legal legs.
type Converter struct {
	mu       sync.Mutex
	holdings map[string]*Holding
	// working close orders, used to compute frozen volume
	active map[string]types.OrderData
}

// NewConverter creates an empty converter.
func NewConverter() *Converter {
	return &Converter{
		holdings: make(map[string]*Holding),
		active:   make(map[string]types.OrderData),
	}
}

func (c *Converter) holding(key string) *Holding {
	h, ok := c.holdings[key]
	if !ok {
		h = &Holding{}
		c.holdings[key] = h
	}
	return h
}

// UpdatePosition overwrites one leg of the holding from a target position
// snapshot. YdVolume is the carried-over portion; the rest counts as today.
func (c *Converter) UpdatePosition(pos types.PositionData) {
	if pos.Direction == types.DirectionNet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.holding(pos.Key())
	td := pos.Volume - pos.YdVolume
	if td < 0 {
		td = 0
	}
	if pos.Direction == types.DirectionLong {
		h.LongYd = pos.YdVolume
		h.LongTd = td
	} else {
		h.ShortYd = pos.YdVolume
		h.ShortTd = td
	}
}

// UpdateTrade adjusts holdings for a target fill.
func (c *Converter) UpdateTrade(trade types.TradeData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.holding(trade.Key())
	switch trade.Offset {
	case types.OffsetOpen:
		if trade.Direction == types.DirectionLong {
			h.LongTd += trade.Volume
		} else {
			h.ShortTd += trade.Volume
		}
	case types.OffsetCloseToday:
		// a long close-today reduces the short side and vice versa
		if trade.Direction == types.DirectionLong {
			h.ShortTd -= trade.Volume
		} else {
			h.LongTd -= trade.Volume
		}
	case types.OffsetCloseYesterday:
		if trade.Direction == types.DirectionLong {
			h.ShortYd -= trade.Volume
		} else {
			h.LongYd -= trade.Volume
		}
	case types.OffsetClose:
		// non-split exchanges: consume yesterday first
		if trade.Direction == types.DirectionLong {
			consume(&h.ShortYd, &h.ShortTd, trade.Volume)
		} else {
			consume(&h.LongYd, &h.LongTd, trade.Volume)
		}
	}
}

func consume(yd, td *float64, volume float64) {
	fromYd := volume
	if fromYd > *yd {
		fromYd = *yd
	}
	*yd -= fromYd
	*td -= volume - fromYd
}

// UpdateOrder tracks working close orders for frozen-volume accounting.
// Terminal orders release their frozen volume.
func (c *Converter) UpdateOrder(order types.OrderData) {
	if !order.Offset.IsClose() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if order.Status.IsActive() {
		c.active[order.OrderID] = order
	} else {
		delete(c.active, order.OrderID)
	}
}

// UpdateOrderRequest registers a just-sent request under its gateway order
// id so its volume counts as frozen until the first status push arrives.
func (c *Converter) UpdateOrderRequest(req types.OrderRequest, orderID string) {
	if !req.Offset.IsClose() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.active[orderID] = types.OrderData{
		OrderID:   orderID,
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Direction: req.Direction,
		Offset:    req.Offset,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    types.StatusSubmitting,
	}
}

// frozenLocked sums the unfilled volume of working close orders against
// one side of one contract, split into today/yesterday parts.
func (c *Converter) frozenLocked(key string, closingDir types.Direction) (td, yd float64) {
	for _, order := range c.active {
		if order.Key() != key || order.Direction != closingDir {
			continue
		}
		remaining := order.Remaining()
		switch order.Offset {
		case types.OffsetCloseToday:
			td += remaining
		case types.OffsetCloseYesterday:
			yd += remaining
		case types.OffsetClose:
			yd += remaining
		}
	}
	return td, yd
}

// Convert rewrites a close request into the legs the exchange accepts.
// Opens and non-split exchanges pass through as a single leg. Returns nil
// when the target account has no closable volume left.
func (c *Converter) Convert(req types.OrderRequest) []types.OrderRequest {
	if !req.Offset.IsClose() || !splitExchanges[req.Exchange] {
		return []types.OrderRequest{req}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.holding(req.Key())

	// closing long direction consumes the short side and vice versa
	var totalTd, totalYd float64
	if req.Direction == types.DirectionLong {
		totalTd, totalYd = h.ShortTd, h.ShortYd
	} else {
		totalTd, totalYd = h.LongTd, h.LongYd
	}

	frozenTd, frozenYd := c.frozenLocked(req.Key(), req.Direction)
	tdAvailable := totalTd - frozenTd
	ydAvailable := totalYd - frozenYd
	if tdAvailable < 0 {
		tdAvailable = 0
	}
	if ydAvailable < 0 {
		ydAvailable = 0
	}
	if tdAvailable+ydAvailable <= 0 {
		return nil
	}

	volume := req.Volume
	if volume > tdAvailable+ydAvailable {
		volume = tdAvailable + ydAvailable
	}

	var legs []types.OrderRequest
	if tdAvailable > 0 {
		td := req
		td.Offset = types.OffsetCloseToday
		td.Volume = volume
		if td.Volume > tdAvailable {
			td.Volume = tdAvailable
		}
		legs = append(legs, td)
		volume -= td.Volume
	}
	if volume > 0 {
		yd := req
		yd.Offset = types.OffsetCloseYesterday
		yd.Volume = volume
		legs = append(legs, yd)
	}
	return legs
}

// Holdings returns a copy of the holding for one contract.
func (c *Converter) Holdings(key string) Holding {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.holdings[key]; ok {
		return *h
	}
	return Holding{}
}
