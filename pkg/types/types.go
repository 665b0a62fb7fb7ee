// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the follower: directions,
// offsets, order lifecycles, gateway event payloads, and order requests.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Core enums.

// Direction is the side of an order, trade, or position leg.
// NET only appears on position snapshots from gateways that report a
// combined leg; the engine treats it as an invalid composite.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNet   Direction = "net"
)

// Opposite returns the inverted direction. NET maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return d
	}
}

// Sign returns +1 for long, -1 for short, 0 for net. Used wherever a
// signed volume is derived from a directed quantity.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// Offset describes how an order interacts with existing positions.
// CloseToday and CloseYesterday are exchange-specific close variants
// produced by the offset converter.
type Offset string

const (
	OffsetOpen           Offset = "open"
	OffsetClose          Offset = "close"
	OffsetCloseToday     Offset = "close_today"
	OffsetCloseYesterday Offset = "close_yesterday"
	OffsetNone           Offset = "none"
)

// IsClose reports whether the offset is any close variant.
func (o Offset) IsClose() bool {
	return o == OffsetClose || o == OffsetCloseToday || o == OffsetCloseYesterday
}

// Status is the lifecycle state of an order at the gateway.
type Status string

const (
	StatusSubmitting Status = "submitting"
	StatusNotTraded  Status = "not_traded"
	StatusPartTraded Status = "part_traded"
	StatusAllTraded  Status = "all_traded"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

// IsActive reports whether the order is still working at the gateway.
func (s Status) IsActive() bool {
	return s == StatusSubmitting || s == StatusNotTraded || s == StatusPartTraded
}

// OrderType selects limit or market execution. Market orders are emulated
// with limit orders at the hard price limit on exchanges without native
// market support.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// RunType distinguishes a live session from a test session.
type RunType string

const (
	RunTypeTest RunType = "test"
	RunTypeLive RunType = "live"
)

// OrderBasePrice selects the top-of-book side used to seed a price when a
// request carries none. GoodForOther crosses the spread (opposite side);
// GoodForSelf rests on our own side.
type OrderBasePrice string

const (
	GoodForOther OrderBasePrice = "good_for_other"
	GoodForSelf  OrderBasePrice = "good_for_self"
)

// FollowBaseMode selects the signal source: individual fills or whole
// source orders.
type FollowBaseMode string

const (
	BaseTrade FollowBaseMode = "base_trade"
	BaseOrder FollowBaseMode = "base_order"
)

// RequestTag marks the role an order request plays in the follow pipeline.
type RequestTag string

const (
	TagFollow    RequestTag = "FOLLOW"
	TagChase     RequestTag = "CHASE"
	TagKeepChase RequestTag = "KEEP_CHASE"
	TagSync      RequestTag = "SYNC"
	TagBasic     RequestTag = "BASIC"
	TagOrderMod  RequestTag = "ORDER_MOD"
	TagTradeMod  RequestTag = "TRADE_MOD"
)

// Signal-id prefixes for synthetic manual-sync signals.
const (
	SyncIDPrefix  = "SYNC_"
	BasicIDPrefix = "BASIC_"
)

// Contract identity.

// ContractKey combines symbol and exchange into the canonical per-contract
// key, e.g. "rb2410.SHFE".
func ContractKey(symbol, exchange string) string {
	return symbol + "." + exchange
}

// SplitContractKey is the inverse of ContractKey. The exchange part is
// empty if the key carries no dot.
func SplitContractKey(key string) (symbol, exchange string) {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// ProductPrefix extracts the alphabetic product code from a symbol,
// e.g. "rb2410" → "rb", "IF2409" → "IF".
func ProductPrefix(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] >= '0' && symbol[i] <= '9' {
			return symbol[:i]
		}
	}
	return symbol
}

// Gateway event payloads.

// TickData is a market-data snapshot for one contract. LimitUp and
// LimitDown are the daily hard price limits; they are fixed for the
// session and captured from the first tick.
type TickData struct {
	GatewayName string    `json:"gateway_name"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Datetime    time.Time `json:"datetime"`
	BidPrice1   float64   `json:"bid_price_1"`
	AskPrice1   float64   `json:"ask_price_1"`
	LimitUp     float64   `json:"limit_up"`
	LimitDown   float64   `json:"limit_down"`
}

// Key returns the contract key for this tick.
func (t TickData) Key() string { return ContractKey(t.Symbol, t.Exchange) }

// OrderData is an order lifecycle snapshot pushed by a gateway.
// Time is the exchange timestamp formatted HH:MM:SS.
type OrderData struct {
	GatewayName string    `json:"gateway_name"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Direction   Direction `json:"direction"`
	Offset      Offset    `json:"offset"`
	Type        OrderType `json:"type"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	Traded      float64   `json:"traded"`
	Status      Status    `json:"status"`
	Time        string    `json:"time"`
}

// Key returns the contract key for this order.
func (o OrderData) Key() string { return ContractKey(o.Symbol, o.Exchange) }

// Remaining returns the unfilled volume.
func (o OrderData) Remaining() float64 { return o.Volume - o.Traded }

// CancelRequest builds the cancel request for this order.
func (o OrderData) CancelRequest() CancelRequest {
	return CancelRequest{OrderID: o.OrderID, Symbol: o.Symbol, Exchange: o.Exchange}
}

// TradeData is a fill pushed by a gateway. TradeID is globally unique per
// gateway and is the engine's deduplication key.
type TradeData struct {
	GatewayName string    `json:"gateway_name"`
	TradeID     string    `json:"trade_id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Direction   Direction `json:"direction"`
	Offset      Offset    `json:"offset"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	Time        string    `json:"time"`
}

// Key returns the contract key for this trade.
func (t TradeData) Key() string { return ContractKey(t.Symbol, t.Exchange) }

// SignedVolume returns the direction-signed fill volume: positive for
// long, negative for short.
func (t TradeData) SignedVolume() float64 { return t.Direction.Sign() * t.Volume }

// PositionData is a position-leg snapshot pushed by a gateway.
// YdVolume is the portion held from before today (exchanges that split
// today/yesterday holdings); zero elsewhere.
type PositionData struct {
	GatewayName string    `json:"gateway_name"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Direction   Direction `json:"direction"`
	Volume      float64   `json:"volume"`
	YdVolume    float64   `json:"yd_volume"`
}

// Key returns the contract key for this position.
func (p PositionData) Key() string { return ContractKey(p.Symbol, p.Exchange) }

// AccountData is a funds snapshot for one gateway account.
type AccountData struct {
	GatewayName string  `json:"gateway_name"`
	AccountID   string  `json:"account_id"`
	Balance     float64 `json:"balance"`
	Available   float64 `json:"available"`
}

// ContractData is static metadata for one contract from the symbol catalog.
type ContractData struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Name      string  `json:"name"`
	PriceTick float64 `json:"price_tick"`
	Size      float64 `json:"size"`
}

// Key returns the contract key for this contract.
func (c ContractData) Key() string { return ContractKey(c.Symbol, c.Exchange) }

// LogData is an engine log line published on the event bus so the
// operator surface can display it alongside structured logs.
type LogData struct {
	Msg    string    `json:"msg"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
}

// Requests.

// OrderRequest is a pre-dispatch order. RequestID is a synthetic identifier
// minted at build time; Tag records the role the request plays.
type OrderRequest struct {
	RequestID string     `json:"request_id"`
	Symbol    string     `json:"symbol"`
	Exchange  string     `json:"exchange"`
	Direction Direction  `json:"direction"`
	Offset    Offset     `json:"offset"`
	Type      OrderType  `json:"type"`
	Volume    float64    `json:"volume"`
	Price     float64    `json:"price"`
	Tag       RequestTag `json:"tag"`
}

// NewRequestID mints a fresh synthetic request identifier.
func NewRequestID() string { return uuid.NewString() }

// NewOrderRequest mints a request with a fresh synthetic identifier.
func NewOrderRequest(symbol, exchange string, direction Direction, offset Offset, volume, price float64, tag RequestTag) OrderRequest {
	return OrderRequest{
		RequestID: uuid.NewString(),
		Symbol:    symbol,
		Exchange:  exchange,
		Direction: direction,
		Offset:    offset,
		Type:      OrderTypeLimit,
		Volume:    volume,
		Price:     price,
		Tag:       tag,
	}
}

// Key returns the contract key for this request.
func (r OrderRequest) Key() string { return ContractKey(r.Symbol, r.Exchange) }

// SignedVolume returns the direction-signed request volume.
func (r OrderRequest) SignedVolume() float64 { return r.Direction.Sign() * r.Volume }

// CancelRequest asks a gateway to cancel a working order.
type CancelRequest struct {
	OrderID  string `json:"order_id"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// SubscribeRequest asks a gateway for market data on one contract.
type SubscribeRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}
