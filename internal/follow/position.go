package follow

import (
	"follow-trader/pkg/types"
)

// PositionEntry carries the per-contract counters. The four raw
// counters stay non-negative; nets are derived on read. BasicDelta is
// an operator-declared baseline ignored by net sync. SourceTradedNet is
// the session-local running net of source fills that drives the
// intraday open/close split. LostFollowNet is signed debt from open
// orders that were cancelled before filling.
type PositionEntry struct {
	SourceLong  float64 `json:"source_long"`
	SourceShort float64 `json:"source_short"`
	TargetLong  float64 `json:"target_long"`
	TargetShort float64 `json:"target_short"`

	BasicDelta      float64 `json:"basic_delta"`
	SourceTradedNet float64 `json:"source_traded_net"`
	LostFollowNet   float64 `json:"lost_follow_net"`
}

// SourceNet returns source_long - source_short.
func (e PositionEntry) SourceNet() float64 { return e.SourceLong - e.SourceShort }

// TargetNet returns target_long - target_short.
func (e PositionEntry) TargetNet() float64 { return e.TargetLong - e.TargetShort }

// NetDelta returns the follow gap: source_net scaled by the multiplier
// minus target_net, sign-inverted under inverse follow.
func (e PositionEntry) NetDelta(multiplier float64, inverse bool) float64 {
	source := e.SourceNet() * multiplier
	if inverse {
		source = -source
	}
	return source - e.TargetNet()
}

// LegDeltas returns the long-side and short-side gaps used by the
// leg-wise sync planners.
func (e PositionEntry) LegDeltas(multiplier float64, inverse bool) (longDelta, shortDelta float64) {
	srcLong, srcShort := e.SourceLong, e.SourceShort
	if inverse {
		srcLong, srcShort = srcShort, srcLong
	}
	return srcLong*multiplier - e.TargetLong, srcShort*multiplier - e.TargetShort
}

// empty reports whether all four raw counters are zero.
func (e PositionEntry) empty() bool {
	return e.SourceLong == 0 && e.SourceShort == 0 && e.TargetLong == 0 && e.TargetShort == 0
}

// PositionField names one operator-overridable counter.
type PositionField string

const (
	FieldSourceLong      PositionField = "source_long"
	FieldSourceShort     PositionField = "source_short"
	FieldTargetLong      PositionField = "target_long"
	FieldTargetShort     PositionField = "target_short"
	FieldBasicDelta      PositionField = "basic_delta"
	FieldSourceTradedNet PositionField = "source_traded_net"
	FieldLostFollowNet   PositionField = "lost_follow_net"
)

// PositionBook holds the per-contract entries. It is owned by the
// engine loop and not locked; all mutation happens on the loop thread.
type PositionBook struct {
	entries map[string]*PositionEntry
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{entries: make(map[string]*PositionEntry)}
}

// entry returns the entry for a contract key, creating it lazily.
func (b *PositionBook) entry(key string) *PositionEntry {
	e, ok := b.entries[key]
	if !ok {
		e = &PositionEntry{}
		b.entries[key] = e
	}
	return e
}

// Get returns a copy of the entry for a contract key.
func (b *PositionBook) Get(key string) (PositionEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return PositionEntry{}, false
	}
	return *e, true
}

// Keys returns every contract key in the book.
func (b *PositionBook) Keys() []string {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a copy of the whole book for persistence.
func (b *PositionBook) Snapshot() map[string]PositionEntry {
	out := make(map[string]PositionEntry, len(b.entries))
	for k, e := range b.entries {
		out[k] = *e
	}
	return out
}

// Restore replaces the book content from a persisted snapshot.
func (b *PositionBook) Restore(entries map[string]PositionEntry) {
	b.entries = make(map[string]*PositionEntry, len(entries))
	for k, e := range entries {
		copied := e
		b.entries[k] = &copied
	}
}

// ApplyPosition overwrites one leg from a position snapshot. A net
// direction is an invalid composite and is ignored. Reports whether the
// entry changed.
func (b *PositionBook) ApplyPosition(pos types.PositionData, source bool) bool {
	if pos.Direction == types.DirectionNet {
		return false
	}

	e := b.entry(pos.Key())
	switch {
	case source && pos.Direction == types.DirectionLong:
		e.SourceLong = pos.Volume
	case source:
		e.SourceShort = pos.Volume
	case pos.Direction == types.DirectionLong:
		e.TargetLong = pos.Volume
	default:
		e.TargetShort = pos.Volume
	}
	return true
}

// ApplyTrade adds a fill to the leg inferred from direction and offset.
// A long open grows the long leg; a long close shrinks the short leg.
func (b *PositionBook) ApplyTrade(trade types.TradeData, source bool) bool {
	if trade.Offset == types.OffsetNone || trade.Direction == types.DirectionNet {
		return false
	}

	e := b.entry(trade.Key())
	long, short := &e.TargetLong, &e.TargetShort
	if source {
		long, short = &e.SourceLong, &e.SourceShort
	}

	if trade.Offset == types.OffsetOpen {
		if trade.Direction == types.DirectionLong {
			*long += trade.Volume
		} else {
			*short += trade.Volume
		}
	} else {
		if trade.Direction == types.DirectionShort {
			*long -= trade.Volume
		} else {
			*short -= trade.Volume
		}
	}
	clampLeg(long)
	clampLeg(short)
	return true
}

func clampLeg(leg *float64) {
	if *leg < 0 {
		*leg = 0
	}
}

// SetField overrides one counter by name. Operator entry point.
func (b *PositionBook) SetField(key string, field PositionField, value float64) bool {
	e := b.entry(key)
	switch field {
	case FieldSourceLong:
		e.SourceLong = value
	case FieldSourceShort:
		e.SourceShort = value
	case FieldTargetLong:
		e.TargetLong = value
	case FieldTargetShort:
		e.TargetShort = value
	case FieldBasicDelta:
		e.BasicDelta = value
	case FieldSourceTradedNet:
		e.SourceTradedNet = value
	case FieldLostFollowNet:
		e.LostFollowNet = value
	default:
		return false
	}
	return true
}

// AddLostFollow accumulates signed lost-follow debt for a contract.
func (b *PositionBook) AddLostFollow(key string, signed float64) {
	b.entry(key).LostFollowNet += signed
}

// AddSourceTradedNet advances the running net of source fills.
func (b *PositionBook) AddSourceTradedNet(key string, signed float64) {
	b.entry(key).SourceTradedNet += signed
}

// ResetSessionLocal clears the session-local running nets. Called at
// end-of-session alongside the signal map clear.
func (b *PositionBook) ResetSessionLocal() {
	for _, e := range b.entries {
		e.SourceTradedNet = 0
	}
}

// ClearEmpty removes entries whose four raw counters are all zero.
// Runs at every stop; expired contracts fall out with the rest as soon
// as they are flat.
func (b *PositionBook) ClearEmpty() []string {
	var removed []string
	for k, e := range b.entries {
		if e.empty() {
			delete(b.entries, k)
			removed = append(removed, k)
		}
	}
	return removed
}
