package gateway

import (
	"fmt"
	"math"
)

const workingTypeMarkPrice = "MARK_PRICE"

// priceRequired 需要price字段的类型
var priceRequired = map[OrderType]bool{
	TypeLimit:      true,
	TypeStop:       true,
	TypeTakeProfit: true,
}

// stopPriceRequired 需要stopPrice字段的类型
var stopPriceRequired = map[OrderType]bool{
	TypeStop:             true,
	TypeTakeProfit:       true,
	TypeStopMarket:       true,
	TypeTakeProfitMarket: true,
}

// stopMarketFamily closePosition仅允许出现在此类订单上
var stopMarketFamily = map[OrderType]bool{
	TypeStopMarket:       true,
	TypeTakeProfitMarket: true,
}

var knownTypes = map[OrderType]bool{
	TypeLimit: true, TypeMarket: true,
	TypeStop: true, TypeTakeProfit: true,
	TypeStopMarket: true, TypeTakeProfitMarket: true,
}

// RoundToTick 四舍五入到最近tick（round-half-up）
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Floor(price/tick+0.5+1e-9) * tick
}

// FloorToStep 向零取整到step
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Trunc(qty/step+1e-9) * step
}

func reject(code ReasonCode, format string, args ...any) PreparedRequest {
	return PreparedRequest{OK: false, Reason: code, Detail: fmt.Sprintf(format, args...)}
}

// PrepareCreateOrder 校验并组装下单参数。返回的Params键名与交易所REST字段
// 严格一致（symbol/side/type/quantity/price/stopPrice/timeInForce/reduceOnly/
// closePosition/positionSide/workingType/newClientOrderId），是与注入传输层的
// 兼容性契约，不得改名。
func PrepareCreateOrder(spec CreateOrderSpec, rules FilterRules, posMode PositionMode) PreparedRequest {
	if spec.Symbol == "" {
		return reject(ReasonEmptySymbol, "symbol为空")
	}
	if !rules.valid() {
		return reject(ReasonInvalidFilterRules, "交易规则无效: tick=%v step=%v minQty=%v",
			rules.TickSize, rules.StepSize, rules.MinQty)
	}
	if !knownTypes[spec.Type] {
		return reject(ReasonUnknownOrderType, "未知订单类型: %s", spec.Type)
	}

	if spec.ClosePosition {
		if spec.Purpose == PurposeEntry {
			return reject(ReasonClosePositionEntry, "进场订单禁止closePosition")
		}
		if !stopMarketFamily[spec.Type] {
			return reject(ReasonClosePositionType, "closePosition仅允许STOP_MARKET/TAKE_PROFIT_MARKET, got %s", spec.Type)
		}
	}

	params := map[string]any{
		"symbol": spec.Symbol,
		"side":   string(spec.Side),
		"type":   string(spec.Type),
	}

	var price float64
	if priceRequired[spec.Type] {
		if spec.Price <= 0 {
			return reject(ReasonPriceRequired, "%s 订单缺少price", spec.Type)
		}
		price = RoundToTick(spec.Price, rules.TickSize)
		if price <= 0 {
			return reject(ReasonPriceNotPositive, "取整后price非正: %v", price)
		}
		params["price"] = price
		params["timeInForce"] = "GTC"
	}

	if stopPriceRequired[spec.Type] {
		if spec.StopPrice <= 0 {
			return reject(ReasonStopPriceRequired, "%s 订单缺少stopPrice", spec.Type)
		}
		stop := RoundToTick(spec.StopPrice, rules.TickSize)
		if stop <= 0 {
			return reject(ReasonPriceNotPositive, "取整后stopPrice非正: %v", stop)
		}
		params["stopPrice"] = stop
		params["workingType"] = workingTypeMarkPrice
	}

	// closePosition单由交易所按全仓位成交，数量字段省略
	dropQuantity := spec.ClosePosition && stopMarketFamily[spec.Type]

	var qty float64
	if !dropQuantity {
		if spec.Quantity <= 0 {
			return reject(ReasonQuantityRequired, "缺少quantity")
		}
		qty = FloorToStep(spec.Quantity, rules.StepSize)
		if qty < rules.MinQty {
			return reject(ReasonQtyBelowMin, "数量 %v 低于最小下单量 %v", qty, rules.MinQty)
		}
		if rules.MinNotional > 0 {
			ref := price
			if ref <= 0 {
				if sp, ok := params["stopPrice"].(float64); ok {
					ref = sp
				}
			}
			if ref <= 0 {
				ref = spec.RefPrice
			}
			if ref <= 0 || qty*ref < rules.MinNotional {
				return reject(ReasonNotionalBelowMin, "名义价值 %v 低于下限 %v", qty*ref, rules.MinNotional)
			}
		}
		params["quantity"] = qty
	}

	// 持仓模式矩阵。HEDGE模式永不携带reduceOnly。
	switch posMode {
	case ModeHedge:
		params["positionSide"] = "SHORT"
		if spec.Purpose == PurposeExit && stopMarketFamily[spec.Type] {
			params["closePosition"] = true
			delete(params, "quantity")
		}
	default: // ONE_WAY
		if spec.Purpose == PurposeEntry {
			params["reduceOnly"] = false
		} else if stopMarketFamily[spec.Type] {
			params["closePosition"] = true
			delete(params, "quantity")
			delete(params, "reduceOnly")
		} else {
			params["reduceOnly"] = true
		}
	}

	if spec.ClientOrderID != "" {
		params["newClientOrderId"] = spec.ClientOrderID
	}

	return PreparedRequest{OK: true, Reason: ReasonOK, Params: params, Quantity: qty, Price: price}
}

// PrepareCancelOrder 组装撤单参数，orderId与clientOrderId至少其一
func PrepareCancelOrder(symbol, orderID, clientOrderID string) PreparedRequest {
	return prepareRef(symbol, orderID, clientOrderID)
}

// PrepareQueryOrder 组装查单参数，字段要求与撤单一致
func PrepareQueryOrder(symbol, orderID, clientOrderID string) PreparedRequest {
	return prepareRef(symbol, orderID, clientOrderID)
}

func prepareRef(symbol, orderID, clientOrderID string) PreparedRequest {
	if symbol == "" {
		return reject(ReasonEmptySymbol, "symbol为空")
	}
	if orderID == "" && clientOrderID == "" {
		return reject(ReasonOrderIDRequired, "orderId与origClientOrderId均缺失")
	}
	params := map[string]any{"symbol": symbol}
	if orderID != "" {
		params["orderId"] = orderID
	}
	if clientOrderID != "" {
		params["origClientOrderId"] = clientOrderID
	}
	return PreparedRequest{OK: true, Reason: ReasonOK, Params: params}
}
