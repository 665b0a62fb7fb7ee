package follow

import (
	"fmt"

	"follow-trader/pkg/types"
)

// ParamName enumerates the runtime-tunable parameters accepted by
// SetParameter. The set is closed: unknown names are an error, not a
// silent attribute write.
type ParamName string

const (
	ParamMultiplier          ParamName = "multiples"
	ParamInverseFollow       ParamName = "inverse_follow"
	ParamIntradayTrading     ParamName = "intraday_trading"
	ParamFollowBased         ParamName = "follow_based"
	ParamFilterTradeVolume   ParamName = "filter_trade_volume"
	ParamVolumeWhitelist     ParamName = "filter_trade_volume_list"
	ParamSkipContracts       ParamName = "skip_contracts"
	ParamIntradaySymbols     ParamName = "intraday_symbols"
	ParamFollowTimeout       ParamName = "follow_timeout"
	ParamCancelOrderTimeout  ParamName = "cancel_order_timeout"
	ParamChaseOrderTimeout   ParamName = "chase_order_timeout"
	ParamMaxCancel           ParamName = "max_cancel"
	ParamChaseEnabled        ParamName = "is_chase"
	ParamChaseMaxResend      ParamName = "chase_max_resend"
	ParamKeepOrderAfterChase ParamName = "keep_order_after_chase"
	ParamChaseChainPrice     ParamName = "chase_chain_price"
	ParamTickAdd             ParamName = "tick_add"
	ParamMustDoneTickAdd     ParamName = "must_done_tick_add"
	ParamChaseTickAdd        ParamName = "chase_order_tick_add"
	ParamOrderType           ParamName = "order_type"
	ParamOrderBasePrice      ParamName = "order_base_price"
	ParamSyncBasePrice       ParamName = "sync_base_price"
	ParamChaseBasePrice      ParamName = "chase_base_price"
	ParamRunType             ParamName = "run_type"
	ParamSingleMax           ParamName = "single_max"
	ParamSingleMaxDict       ParamName = "single_max_dict"
	ParamCancelAllOnStop     ParamName = "cancel_all_on_stop"
)

func asBool(name ParamName, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s: want bool, got %T", name, value)
	}
	return b, nil
}

func asInt(name ParamName, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case float64:
		// JSON decoding delivers numbers as float64
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %s: want int, got %T", name, value)
	}
}

func asFloat(name ParamName, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %s: want number, got %T", name, value)
	}
}

func asString(name ParamName, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: want string, got %T", name, value)
	}
	return s, nil
}

func asStrings(name ParamName, value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s: want strings, got %T", name, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: want string list, got %T", name, value)
	}
}

func asFloats(name ParamName, value any) ([]float64, error) {
	switch v := value.(type) {
	case []float64:
		return v, nil
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("parameter %s: want numbers, got %T", name, item)
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: want number list, got %T", name, value)
	}
}

func asFloatMap(name ParamName, value any) (map[string]float64, error) {
	switch v := value.(type) {
	case map[string]float64:
		return v, nil
	case map[string]any:
		out := make(map[string]float64, len(v))
		for k, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("parameter %s: want numbers, got %T", name, item)
			}
			out[k] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: want string-number map, got %T", name, value)
	}
}

// apply mutates one settings field. The engine wraps this with its lock
// and a save.
func (s *Settings) apply(name ParamName, value any) error {
	var err error
	switch name {
	case ParamMultiplier:
		s.Multiplier, err = asFloat(name, value)
	case ParamInverseFollow:
		s.InverseFollow, err = asBool(name, value)
	case ParamIntradayTrading:
		s.IntradayTrading, err = asBool(name, value)
	case ParamFollowBased:
		var tag string
		if tag, err = asString(name, value); err == nil {
			switch types.FollowBaseMode(tag) {
			case types.BaseTrade, types.BaseOrder:
				s.FollowBased = types.FollowBaseMode(tag)
			default:
				err = fmt.Errorf("parameter %s: unknown mode %q", name, tag)
			}
		}
	case ParamFilterTradeVolume:
		s.FilterTradeVolume, err = asBool(name, value)
	case ParamVolumeWhitelist:
		s.VolumeWhitelist, err = asFloats(name, value)
	case ParamSkipContracts:
		s.SkipContracts, err = asStrings(name, value)
	case ParamIntradaySymbols:
		s.IntradaySymbols, err = asStrings(name, value)
	case ParamFollowTimeout:
		s.FollowTimeout, err = asInt(name, value)
	case ParamCancelOrderTimeout:
		s.CancelOrderTimeout, err = asInt(name, value)
	case ParamChaseOrderTimeout:
		s.ChaseOrderTimeout, err = asInt(name, value)
	case ParamMaxCancel:
		s.MaxCancel, err = asInt(name, value)
	case ParamChaseEnabled:
		s.ChaseEnabled, err = asBool(name, value)
	case ParamChaseMaxResend:
		s.ChaseMaxResend, err = asInt(name, value)
	case ParamKeepOrderAfterChase:
		s.KeepOrderAfterChase, err = asBool(name, value)
	case ParamChaseChainPrice:
		s.ChaseChainPrice, err = asBool(name, value)
	case ParamTickAdd:
		s.TickAdd, err = asInt(name, value)
	case ParamMustDoneTickAdd:
		s.MustDoneTickAdd, err = asInt(name, value)
	case ParamChaseTickAdd:
		s.ChaseTickAdd, err = asInt(name, value)
	case ParamOrderType:
		var tag string
		if tag, err = asString(name, value); err == nil {
			switch types.OrderType(tag) {
			case types.OrderTypeLimit, types.OrderTypeMarket:
				s.OrderType = types.OrderType(tag)
			default:
				err = fmt.Errorf("parameter %s: unknown order type %q", name, tag)
			}
		}
	case ParamOrderBasePrice, ParamSyncBasePrice, ParamChaseBasePrice:
		var tag string
		if tag, err = asString(name, value); err == nil {
			base := types.OrderBasePrice(tag)
			if base != types.GoodForOther && base != types.GoodForSelf {
				err = fmt.Errorf("parameter %s: unknown base price %q", name, tag)
				break
			}
			switch name {
			case ParamOrderBasePrice:
				s.OrderBasePrice = base
			case ParamSyncBasePrice:
				s.SyncBasePrice = base
			case ParamChaseBasePrice:
				s.ChaseBasePrice = base
			}
		}
	case ParamRunType:
		var tag string
		if tag, err = asString(name, value); err == nil {
			switch types.RunType(tag) {
			case types.RunTypeTest, types.RunTypeLive:
				s.RunType = types.RunType(tag)
			default:
				err = fmt.Errorf("parameter %s: unknown run type %q", name, tag)
			}
		}
	case ParamSingleMax:
		s.SingleMax, err = asFloat(name, value)
	case ParamSingleMaxDict:
		s.SingleMaxDict, err = asFloatMap(name, value)
	case ParamCancelAllOnStop:
		s.CancelAllOnStop, err = asBool(name, value)
	default:
		err = fmt.Errorf("unknown parameter %q", name)
	}
	return err
}
