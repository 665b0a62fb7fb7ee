package market

import (
	"sync"

	"follow-trader/pkg/types"
)

// LimitPrices are the daily hard price bounds for one contract, captured
// from the first tick of the session and retained.
type LimitPrices struct {
	Up   float64
	Down float64
}

// Quote is the latest top-of-book for one contract.
type Quote struct {
	Bid float64
	Ask float64
}

// PriceCache mirrors market data for every subscribed contract. Two maps
// back it: limits (write-once per session) and latest (refreshed every
// tick). A contract is priced only when it appears in both.
type PriceCache struct {
	mu     sync.RWMutex
	limits map[string]LimitPrices
	latest map[string]Quote
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		limits: make(map[string]LimitPrices),
		latest: make(map[string]Quote),
	}
}

// ApplyTick records limit prices on first sight and refreshes bid/ask.
func (p *PriceCache) ApplyTick(tick types.TickData) {
	key := tick.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.limits[key]; !ok {
		p.limits[key] = LimitPrices{Up: tick.LimitUp, Down: tick.LimitDown}
	}
	p.latest[key] = Quote{Bid: tick.BidPrice1, Ask: tick.AskPrice1}
}

// Priced reports whether both limit and latest prices are available.
func (p *PriceCache) Priced(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, hasLimit := p.limits[key]
	_, hasLatest := p.latest[key]
	return hasLimit && hasLatest
}

// Limits returns the hard price bounds for a contract.
func (p *PriceCache) Limits(key string) (LimitPrices, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.limits[key]
	return l, ok
}

// Latest returns the raw top-of-book for a contract.
func (p *PriceCache) Latest(key string) (Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.latest[key]
	return q, ok
}

// SanitizedQuote returns bid/ask with gateway sentinel values defended
// against: an ask of zero or beyond limit-up collapses to limit-up, and a
// bid beyond limit-up (the float sentinel some gateways push at limit
// lock) collapses to limit-down. Returns false until the contract is
// priced.
func (p *PriceCache) SanitizedQuote(key string) (bid, ask float64, limits LimitPrices, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	limits, hasLimit := p.limits[key]
	q, hasLatest := p.latest[key]
	if !hasLimit || !hasLatest {
		return 0, 0, LimitPrices{}, false
	}

	ask = q.Ask
	if ask == 0 || ask > limits.Up {
		ask = limits.Up
	}
	bid = q.Bid
	if bid > limits.Up {
		bid = limits.Down
	}
	return bid, ask, limits, true
}

// Reset clears the session state. Called between trading sessions so
// limit prices are re-captured.
func (p *PriceCache) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limits = make(map[string]LimitPrices)
	p.latest = make(map[string]Quote)
}
