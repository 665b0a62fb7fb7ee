package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"follow-trader/pkg/types"
)

// RPCGateway talks to one gateway process over its HTTP command API.
// It wraps a resty client with rate limiting and retry. Command calls
// block; the engine invokes them from its loop thread, so the buckets
// double as a natural pacing mechanism for chase bursts.
type RPCGateway struct {
	name   string
	http   *resty.Client
	rl     *RateLimiter
	logger *slog.Logger
}

// NewRPCGateway creates a command client for one gateway endpoint.
func NewRPCGateway(name, baseURL string, logger *slog.Logger) *RPCGateway {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &RPCGateway{
		name:   name,
		http:   httpClient,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "gateway", "gateway_name", name),
	}
}

// Name returns the configured gateway name.
func (g *RPCGateway) Name() string { return g.name }

// Subscribe asks the gateway to start streaming market data for one
// contract.
func (g *RPCGateway) Subscribe(req types.SubscribeRequest) error {
	if err := g.rl.Query.Wait(context.Background()); err != nil {
		return err
	}
	resp, err := g.http.R().
		SetBody(req).
		Post("/subscribe")
	if err != nil {
		return fmt.Errorf("subscribe %s.%s: %w", req.Symbol, req.Exchange, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("subscribe %s.%s: status %d: %s",
			req.Symbol, req.Exchange, resp.StatusCode(), resp.String())
	}
	return nil
}

// sendOrderResponse is the gateway's reply to an order insertion.
type sendOrderResponse struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error,omitempty"`
}

// SendOrder submits one order and returns the gateway-assigned order
// id. An empty id with a nil error never happens; failures always carry
// an error.
func (g *RPCGateway) SendOrder(req types.OrderRequest) (string, error) {
	if err := g.rl.Order.Wait(context.Background()); err != nil {
		return "", err
	}

	var result sendOrderResponse
	resp, err := g.http.R().
		SetBody(req).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return "", fmt.Errorf("send order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("send order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.OrderID == "" {
		return "", fmt.Errorf("send order rejected: %s", result.Error)
	}

	g.logger.Debug("order sent",
		"order_id", result.OrderID,
		"symbol", req.Symbol,
		"direction", req.Direction,
		"offset", req.Offset,
		"volume", req.Volume,
		"price", req.Price)
	return result.OrderID, nil
}

// CancelOrder asks the gateway to cancel a working order.
func (g *RPCGateway) CancelOrder(req types.CancelRequest) error {
	if err := g.rl.Cancel.Wait(context.Background()); err != nil {
		return err
	}
	resp, err := g.http.R().
		SetBody(req).
		Post("/cancel")
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", req.OrderID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order %s: status %d: %s", req.OrderID, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetContract fetches static metadata for one symbol.
func (g *RPCGateway) GetContract(symbol string) (types.ContractData, error) {
	var result types.ContractData
	if err := g.getJSON("/contracts/"+symbol, &result); err != nil {
		return types.ContractData{}, err
	}
	return result, nil
}

// GetOrder fetches the latest known state of one order.
func (g *RPCGateway) GetOrder(orderID string) (types.OrderData, error) {
	var result types.OrderData
	if err := g.getJSON("/orders/"+orderID, &result); err != nil {
		return types.OrderData{}, err
	}
	return result, nil
}

// GetAllActiveOrders fetches working orders, optionally narrowed to one
// symbol.
func (g *RPCGateway) GetAllActiveOrders(symbol string) ([]types.OrderData, error) {
	path := "/orders/active"
	if symbol != "" {
		path += "?symbol=" + symbol
	}
	var result []types.OrderData
	if err := g.getJSON(path, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAllTrades fetches every fill the gateway has seen this session.
func (g *RPCGateway) GetAllTrades() ([]types.TradeData, error) {
	var result []types.TradeData
	if err := g.getJSON("/trades", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAllAccounts fetches the account snapshots.
func (g *RPCGateway) GetAllAccounts() ([]types.AccountData, error) {
	var result []types.AccountData
	if err := g.getJSON("/accounts", &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (g *RPCGateway) getJSON(path string, result any) error {
	if err := g.rl.Query.Wait(context.Background()); err != nil {
		return err
	}
	resp, err := g.http.R().
		SetResult(result).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}
