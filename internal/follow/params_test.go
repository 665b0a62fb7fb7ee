package follow

import (
	"testing"

	"follow-trader/pkg/types"
)

func TestApplyParameters(t *testing.T) {
	t.Parallel()

	s := DefaultSettings("src", "tgt")

	cases := []struct {
		name  ParamName
		value any
	}{
		{ParamMultiplier, 2.5},
		{ParamInverseFollow, true},
		{ParamIntradayTrading, true},
		{ParamFollowBased, "base_order"},
		{ParamVolumeWhitelist, []any{1.0, 5.0}},
		{ParamSkipContracts, []any{"IF", "rb"}},
		{ParamCancelOrderTimeout, 20.0}, // JSON numbers arrive as float64
		{ParamOrderType, "market"},
		{ParamSyncBasePrice, "good_for_self"},
		{ParamSingleMaxDict, map[string]any{"rb": 50.0}},
	}
	for _, c := range cases {
		if err := s.apply(c.name, c.value); err != nil {
			t.Errorf("apply(%s, %v): %v", c.name, c.value, err)
		}
	}

	if s.Multiplier != 2.5 || !s.InverseFollow || !s.IntradayTrading {
		t.Errorf("numeric/bool params not applied: %+v", s)
	}
	if s.FollowBased != types.BaseOrder || s.OrderType != types.OrderTypeMarket {
		t.Errorf("enum params not applied: %s %s", s.FollowBased, s.OrderType)
	}
	if s.CancelOrderTimeout != 20 {
		t.Errorf("cancel_order_timeout = %d, want 20", s.CancelOrderTimeout)
	}
	if s.SingleMaxDict["rb"] != 50 {
		t.Errorf("single_max_dict = %v", s.SingleMaxDict)
	}
}

func TestApplyRejectsBadValues(t *testing.T) {
	t.Parallel()

	s := DefaultSettings("src", "tgt")

	cases := []struct {
		name  ParamName
		value any
	}{
		{ParamMultiplier, "two"},
		{ParamInverseFollow, 1},
		{ParamFollowBased, "base_nothing"},
		{ParamOrderType, "stop"},
		{ParamRunType, "dry"},
		{ParamName("not_a_param"), true},
	}
	for _, c := range cases {
		if err := s.apply(c.name, c.value); err == nil {
			t.Errorf("apply(%s, %v) should fail", c.name, c.value)
		}
	}
}

func TestSingleMaxLookup(t *testing.T) {
	t.Parallel()

	s := DefaultSettings("src", "tgt")
	if got := s.singleMaxFor("IF"); got != 20 {
		t.Errorf("IF max = %v, want 20", got)
	}
	if got := s.singleMaxFor("rb"); got != 1000 {
		t.Errorf("rb max = %v, want global 1000", got)
	}

	// the global cap still binds when a per-product entry is looser
	s.SingleMax = 10
	s.SingleMaxDict = map[string]float64{"rb": 50, "IF": 4}
	if got := s.singleMaxFor("rb"); got != 10 {
		t.Errorf("rb max = %v, want global cap 10", got)
	}
	if got := s.singleMaxFor("IF"); got != 4 {
		t.Errorf("IF max = %v, want tighter per-product 4", got)
	}
}

func TestVolumeWhitelist(t *testing.T) {
	t.Parallel()

	s := DefaultSettings("src", "tgt")
	if !s.volumeAllowed(7) {
		t.Error("disabled filter admits everything")
	}

	s.FilterTradeVolume = true
	s.VolumeWhitelist = []float64{1, 5}
	if s.volumeAllowed(7) {
		t.Error("7 not whitelisted")
	}
	if !s.volumeAllowed(5) {
		t.Error("5 is whitelisted")
	}
}
