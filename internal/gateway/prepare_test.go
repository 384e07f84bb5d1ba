package gateway

import (
	"math"
	"testing"
)

var testRules = FilterRules{TickSize: 0.1, StepSize: 0.01, MinQty: 0.01}

func TestRoundToTick_HalfUp(t *testing.T) {
	cases := []struct {
		price, tick, want float64
	}{
		{100.16, 0.1, 100.2},
		{100.14, 0.1, 100.1},
		{100.15, 0.1, 100.2}, // half → up
		{100.0, 0.1, 100.0},
		{0.123456, 0.0001, 0.1235},
	}
	for _, c := range cases {
		got := RoundToTick(c.price, c.tick)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", c.price, c.tick, got, c.want)
		}
	}
}

func TestFloorToStep(t *testing.T) {
	cases := []struct {
		qty, step, want float64
	}{
		{1.234, 0.01, 1.23},
		{1.239, 0.01, 1.23},
		{1.23, 0.01, 1.23},
		{0.0099, 0.01, 0},
	}
	for _, c := range cases {
		got := FloorToStep(c.qty, c.step)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("FloorToStep(%v, %v) = %v, want %v", c.qty, c.step, got, c.want)
		}
	}
}

func TestPrepareCreateOrder_Validation(t *testing.T) {
	cases := []struct {
		name string
		spec CreateOrderSpec
		want ReasonCode
	}{
		{"empty_symbol", CreateOrderSpec{Type: TypeLimit}, ReasonEmptySymbol},
		{"limit_no_price", CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Quantity: 1}, ReasonPriceRequired},
		{"stop_market_no_trigger", CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeStopMarket, Quantity: 1}, ReasonStopPriceRequired},
		{"no_quantity", CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Price: 100}, ReasonQuantityRequired},
		{"below_min_qty", CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Price: 100, Quantity: 0.005}, ReasonQtyBelowMin},
		{"close_position_entry", CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeStopMarket, StopPrice: 100, Purpose: PurposeEntry, ClosePosition: true}, ReasonClosePositionEntry},
		{"close_position_limit", CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Price: 100, Purpose: PurposeExit, ClosePosition: true}, ReasonClosePositionType},
		{"unknown_type", CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: OrderType("ICEBERG"), Quantity: 1}, ReasonUnknownOrderType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PrepareCreateOrder(tc.spec, testRules, ModeOneWay)
			if got.OK {
				t.Fatalf("expected rejection, got OK with params %v", got.Params)
			}
			if got.Reason != tc.want {
				t.Errorf("reason = %s, want %s", got.Reason, tc.want)
			}
		})
	}
}

func TestPrepareCreateOrder_InvalidFilterRules(t *testing.T) {
	spec := CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeMarket, Quantity: 1}
	got := PrepareCreateOrder(spec, FilterRules{}, ModeOneWay)
	if got.OK || got.Reason != ReasonInvalidFilterRules {
		t.Errorf("reason = %s, want INVALID_FILTER_RULES", got.Reason)
	}
}

func TestPrepareCreateOrder_TickRoundingAndFields(t *testing.T) {
	spec := CreateOrderSpec{
		Symbol:        "ETHUSDT",
		Side:          SideSell,
		Type:          TypeTakeProfit,
		Purpose:       PurposeEntry,
		Quantity:      1.234,
		Price:         100.16,
		StopPrice:     100.26,
		ClientOrderID: "hunter-test-1",
	}
	got := PrepareCreateOrder(spec, testRules, ModeOneWay)
	if !got.OK {
		t.Fatalf("unexpected rejection: %s %s", got.Reason, got.Detail)
	}
	if p := got.Params["price"].(float64); math.Abs(p-100.2) > 1e-9 {
		t.Errorf("price = %v, want 100.2", p)
	}
	if sp := got.Params["stopPrice"].(float64); math.Abs(sp-100.3) > 1e-9 {
		t.Errorf("stopPrice = %v, want 100.3", sp)
	}
	if q := got.Params["quantity"].(float64); math.Abs(q-1.23) > 1e-9 {
		t.Errorf("quantity = %v, want 1.23", q)
	}
	if wt := got.Params["workingType"]; wt != "MARK_PRICE" {
		t.Errorf("workingType = %v, want MARK_PRICE", wt)
	}
	if tif := got.Params["timeInForce"]; tif != "GTC" {
		t.Errorf("timeInForce = %v, want GTC", tif)
	}
	if id := got.Params["newClientOrderId"]; id != "hunter-test-1" {
		t.Errorf("newClientOrderId = %v", id)
	}
	if ro := got.Params["reduceOnly"]; ro != false {
		t.Errorf("ONE_WAY entry must force reduceOnly=false, got %v", ro)
	}
}

func TestPrepareCreateOrder_MinNotional(t *testing.T) {
	rules := testRules
	rules.MinNotional = 5.0

	// 100.2 * 0.04 = 4.008 < 5 → 拒绝
	spec := CreateOrderSpec{Symbol: "ETHUSDT", Side: SideSell, Type: TypeLimit, Price: 100.16, Quantity: 0.04}
	got := PrepareCreateOrder(spec, rules, ModeOneWay)
	if got.OK || got.Reason != ReasonNotionalBelowMin {
		t.Errorf("reason = %s, want NOTIONAL_BELOW_MIN", got.Reason)
	}

	// MARKET单无price/stopPrice，使用RefPrice
	spec = CreateOrderSpec{Symbol: "ETHUSDT", Side: SideSell, Type: TypeMarket, Quantity: 0.1, RefPrice: 100}
	got = PrepareCreateOrder(spec, rules, ModeOneWay)
	if !got.OK {
		t.Errorf("market order with RefPrice notional 10 must pass, got %s", got.Reason)
	}

	spec.RefPrice = 0
	got = PrepareCreateOrder(spec, rules, ModeOneWay)
	if got.OK || got.Reason != ReasonNotionalBelowMin {
		t.Errorf("missing reference price must reject, got %s", got.Reason)
	}
}

func TestPrepareCreateOrder_PositionModeMatrix(t *testing.T) {
	t.Run("hedge_entry", func(t *testing.T) {
		spec := CreateOrderSpec{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Purpose: PurposeEntry, Price: 100, Quantity: 1}
		got := PrepareCreateOrder(spec, testRules, ModeHedge)
		if !got.OK {
			t.Fatalf("rejected: %s", got.Reason)
		}
		if got.Params["positionSide"] != "SHORT" {
			t.Errorf("positionSide = %v, want SHORT", got.Params["positionSide"])
		}
		if _, ok := got.Params["reduceOnly"]; ok {
			t.Error("HEDGE mode must never set reduceOnly")
		}
	})

	t.Run("hedge_exit_stop_market", func(t *testing.T) {
		spec := CreateOrderSpec{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeStopMarket, Purpose: PurposeExit, StopPrice: 100, ClosePosition: true}
		got := PrepareCreateOrder(spec, testRules, ModeHedge)
		if !got.OK {
			t.Fatalf("rejected: %s", got.Reason)
		}
		if got.Params["closePosition"] != true {
			t.Error("closePosition must be set")
		}
		if _, ok := got.Params["quantity"]; ok {
			t.Error("closePosition exit must drop quantity")
		}
		if _, ok := got.Params["reduceOnly"]; ok {
			t.Error("HEDGE mode must never set reduceOnly")
		}
	})

	t.Run("oneway_exit_stop_market", func(t *testing.T) {
		spec := CreateOrderSpec{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeTakeProfitMarket, Purpose: PurposeExit, StopPrice: 100, ClosePosition: true}
		got := PrepareCreateOrder(spec, testRules, ModeOneWay)
		if !got.OK {
			t.Fatalf("rejected: %s", got.Reason)
		}
		if got.Params["closePosition"] != true {
			t.Error("closePosition must be set")
		}
		if _, ok := got.Params["quantity"]; ok {
			t.Error("quantity must be dropped")
		}
		if _, ok := got.Params["reduceOnly"]; ok {
			t.Error("reduceOnly must be dropped on ONE_WAY stop-market exit")
		}
	})

	t.Run("oneway_exit_market", func(t *testing.T) {
		spec := CreateOrderSpec{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeMarket, Purpose: PurposeExit, Quantity: 1, RefPrice: 100}
		got := PrepareCreateOrder(spec, testRules, ModeOneWay)
		if !got.OK {
			t.Fatalf("rejected: %s", got.Reason)
		}
		if got.Params["reduceOnly"] != true {
			t.Error("ONE_WAY exit market must set reduceOnly=true")
		}
	})
}

func TestPrepareCancelQuery(t *testing.T) {
	got := PrepareCancelOrder("BTCUSDT", "", "")
	if got.OK || got.Reason != ReasonOrderIDRequired {
		t.Errorf("reason = %s, want ORDER_ID_REQUIRED", got.Reason)
	}

	got = PrepareCancelOrder("BTCUSDT", "123", "")
	if !got.OK || got.Params["orderId"] != "123" {
		t.Errorf("cancel by orderId failed: %+v", got)
	}

	got = PrepareQueryOrder("BTCUSDT", "", "hunter-abc")
	if !got.OK || got.Params["origClientOrderId"] != "hunter-abc" {
		t.Errorf("query by clientOrderId failed: %+v", got)
	}

	got = PrepareQueryOrder("", "123", "")
	if got.OK || got.Reason != ReasonEmptySymbol {
		t.Errorf("reason = %s, want EMPTY_SYMBOL", got.Reason)
	}
}
