package follow

import (
	"fmt"

	"github.com/shopspring/decimal"

	"follow-trader/internal/market"
	"follow-trader/pkg/types"
)

// marketPrice marks a request that must trade at the hard price limit.
const marketPrice = -1

// priceSpec carries the pricing inputs for one dispatch.
type priceSpec struct {
	explicit  float64 // 0 means none, marketPrice forces the hard limit
	tickAdd   int
	basePrice types.OrderBasePrice
	market    bool
}

// convertPrice computes the final limit price for a request. The quote
// is sanitized first, then the price is seeded from the explicit price
// or the configured top-of-book side, shifted by tickAdd price ticks in
// the aggressive direction, and clamped to the daily limit. Market
// orders go straight to the hard limit. Tick arithmetic runs on
// decimals so a 0.2-tick contract never accumulates float drift.
func (e *Engine) convertPrice(key string, direction types.Direction, spec priceSpec) (float64, error) {
	bid, ask, limits, ok := e.prices.SanitizedQuote(key)
	if !ok {
		return 0, fmt.Errorf("contract %s not priced", key)
	}

	symbol, _ := types.SplitContractKey(key)
	contract, ok := e.catalog.Get(key)
	if !ok {
		return 0, fmt.Errorf("no contract metadata for %s", symbol)
	}

	if spec.market || spec.explicit == marketPrice {
		return hardLimit(direction, limits), nil
	}

	seed := spec.explicit
	if seed == 0 {
		seed = seedFromBook(direction, spec.basePrice, bid, ask)
	}

	price := decimal.NewFromFloat(seed)
	offset := decimal.NewFromFloat(contract.PriceTick).
		Mul(decimal.NewFromInt(int64(spec.tickAdd)))
	if direction == types.DirectionLong {
		price = price.Add(offset)
	} else {
		price = price.Sub(offset)
	}

	return clampToLimits(price, limits), nil
}

// hardLimit is the most aggressive legal price for a direction.
func hardLimit(direction types.Direction, limits market.LimitPrices) float64 {
	if direction == types.DirectionLong {
		return limits.Up
	}
	return limits.Down
}

// seedFromBook picks the starting price from the top of book.
// GoodForOther crosses the spread; GoodForSelf rests on our side.
func seedFromBook(direction types.Direction, base types.OrderBasePrice, bid, ask float64) float64 {
	if base == types.GoodForOther {
		if direction == types.DirectionLong {
			return ask
		}
		return bid
	}
	if direction == types.DirectionLong {
		return bid
	}
	return ask
}

func clampToLimits(price decimal.Decimal, limits market.LimitPrices) float64 {
	up := decimal.NewFromFloat(limits.Up)
	down := decimal.NewFromFloat(limits.Down)
	if price.GreaterThan(up) {
		price = up
	}
	if price.LessThan(down) {
		price = down
	}
	f, _ := price.Float64()
	return f
}
