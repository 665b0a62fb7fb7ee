// Package gateway bridges the engine to broker-adapter gateway
// processes.
//
// A gateway process fronts one trading account. It exposes two
// surfaces: an RPC command API (subscribe, send, cancel, queries) and a
// WebSocket event stream (ticks, order updates, fills, position
// snapshots) that the Feed pumps onto the engine's event bus. The
// broker protocol itself lives behind the gateway process and is out of
// scope here.
package gateway

import (
	"follow-trader/pkg/types"
)

// Gateway is the outbound command surface toward one trading account.
type Gateway interface {
	// Name returns the configured gateway name; events are routed by
	// exact match against it.
	Name() string

	Subscribe(req types.SubscribeRequest) error
	SendOrder(req types.OrderRequest) (string, error)
	CancelOrder(req types.CancelRequest) error

	GetContract(symbol string) (types.ContractData, error)
	GetOrder(orderID string) (types.OrderData, error)
	GetAllActiveOrders(symbol string) ([]types.OrderData, error)
	GetAllTrades() ([]types.TradeData, error)
	GetAllAccounts() ([]types.AccountData, error)
}

// Publisher is the slice of the event bus a Feed needs.
type Publisher interface {
	PublishTick(tick types.TickData)
	PublishOrder(order types.OrderData)
	PublishTrade(trade types.TradeData)
	PublishPosition(pos types.PositionData)
}
