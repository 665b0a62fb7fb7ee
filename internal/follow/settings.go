package follow

import "follow-trader/pkg/types"

// Settings is the runtime-tunable parameter document, persisted to
// follow_setting.json as string-tagged JSON. The engine saves it
// unconditionally at every stop so operator changes survive a restart.
type Settings struct {
	SourceGateway string `json:"source_gateway_name"`
	TargetGateway string `json:"target_gateway_name"`

	Multiplier      float64 `json:"multiples"`
	InverseFollow   bool    `json:"inverse_follow"`
	IntradayTrading bool    `json:"intraday_trading"`

	// FollowBased selects the signal unit: individual fills (base_trade)
	// or whole source orders (base_order).
	FollowBased types.FollowBaseMode `json:"follow_based"`

	FilterTradeVolume bool      `json:"filter_trade_volume"`
	VolumeWhitelist   []float64 `json:"filter_trade_volume_list"`
	SkipContracts     []string  `json:"skip_contracts"`
	IntradaySymbols   []string  `json:"intraday_symbols"`
	PreSubscribe      []string  `json:"pre_subscribe"`

	FollowTimeout      int `json:"follow_timeout"`
	CancelOrderTimeout int `json:"cancel_order_timeout"`
	ChaseOrderTimeout  int `json:"chase_order_timeout"`
	MaxCancel          int `json:"max_cancel"`

	ChaseEnabled        bool `json:"is_chase"`
	ChaseMaxResend      int  `json:"chase_max_resend"`
	KeepOrderAfterChase bool `json:"keep_order_after_chase"`
	// ChaseChainPrice seeds a chase resend from the cancelled order's own
	// price instead of fresh market data.
	ChaseChainPrice bool `json:"chase_chain_price"`

	TickAdd         int `json:"tick_add"`
	MustDoneTickAdd int `json:"must_done_tick_add"`
	ChaseTickAdd    int `json:"chase_order_tick_add"`

	OrderType      types.OrderType      `json:"order_type"`
	OrderBasePrice types.OrderBasePrice `json:"order_base_price"`
	SyncBasePrice  types.OrderBasePrice `json:"sync_base_price"`
	ChaseBasePrice types.OrderBasePrice `json:"chase_base_price"`
	RunType        types.RunType        `json:"run_type"`

	SingleMax     float64            `json:"single_max"`
	SingleMaxDict map[string]float64 `json:"single_max_dict"`

	// CancelAllOnStop makes stop() cancel every working follow order.
	// Off by default: the product leaves working orders in place.
	CancelAllOnStop bool `json:"cancel_all_on_stop"`
}

// DefaultSettings returns the parameter document used when no
// follow_setting.json exists yet.
func DefaultSettings(sourceGateway, targetGateway string) Settings {
	return Settings{
		SourceGateway:      sourceGateway,
		TargetGateway:      targetGateway,
		Multiplier:         1,
		FollowBased:        types.BaseTrade,
		FollowTimeout:      60,
		CancelOrderTimeout: 10,
		ChaseOrderTimeout:  10,
		MaxCancel:          3,
		ChaseMaxResend:     3,
		TickAdd:            10,
		MustDoneTickAdd:    15,
		ChaseTickAdd:       5,
		OrderType:          types.OrderTypeLimit,
		OrderBasePrice:     types.GoodForOther,
		SyncBasePrice:      types.GoodForOther,
		ChaseBasePrice:     types.GoodForOther,
		RunType:            types.RunTypeLive,
		SingleMax:          1000,
		SingleMaxDict: map[string]float64{
			"IF": 20,
			"IC": 20,
			"IH": 20,
		},
	}
}

// singleMaxFor returns the per-order volume cap for a product prefix:
// the tighter of the global cap and the per-product entry.
func (s *Settings) singleMaxFor(product string) float64 {
	max := s.SingleMax
	if m, ok := s.SingleMaxDict[product]; ok && m > 0 && (max <= 0 || m < max) {
		max = m
	}
	return max
}

// isIntradaySymbol reports whether the product prefix is in the
// intraday list.
func (s *Settings) isIntradaySymbol(symbol string) bool {
	product := types.ProductPrefix(symbol)
	for _, p := range s.IntradaySymbols {
		if p == product {
			return true
		}
	}
	return false
}

// isSkipped reports whether the product prefix is blacklisted.
func (s *Settings) isSkipped(symbol string) bool {
	product := types.ProductPrefix(symbol)
	for _, p := range s.SkipContracts {
		if p == product {
			return true
		}
	}
	return false
}

// volumeAllowed reports whether the whitelist admits the volume. An
// empty whitelist admits nothing while the filter is enabled.
func (s *Settings) volumeAllowed(volume float64) bool {
	if !s.FilterTradeVolume {
		return true
	}
	for _, v := range s.VolumeWhitelist {
		if v == volume {
			return true
		}
	}
	return false
}
