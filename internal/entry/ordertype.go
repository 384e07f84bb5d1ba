package entry

import (
	"math"

	"github.com/newplayman/short-hunter/internal/gateway"
)

// SelectOrderType 按方向与参考标记价选择触发单类型。
// SELL默认TAKE_PROFIT；目标价低于参考标记价时用STOP。
// 参考价不可用时维持TAKE_PROFIT默认（既有行为原样保留，待产品评审）。
func SelectOrderType(side gateway.OrderSide, targetPrice, refMark float64) gateway.OrderType {
	if side == gateway.SideSell {
		if refMark > 0 && !math.IsNaN(refMark) && !math.IsInf(refMark, 0) && targetPrice < refMark {
			return gateway.TypeStop
		}
		return gateway.TypeTakeProfit
	}
	// 买方向仅用于离场腿，对称处理
	if refMark > 0 && !math.IsNaN(refMark) && !math.IsInf(refMark, 0) && targetPrice > refMark {
		return gateway.TypeStop
	}
	return gateway.TypeTakeProfit
}

// OffsetTriggerPrice 将触发价朝立即可触发方向偏移恰好一个tick。
// SELL+TAKE_PROFIT在mark上行触发，触发价下移；SELL+STOP在mark下行触发，
// 触发价上移。偏移结果非法时回退原目标价。
func OffsetTriggerPrice(orderType gateway.OrderType, side gateway.OrderSide, target, tick float64) float64 {
	if !(target > 0) || !(tick > 0) || math.IsNaN(target) || math.IsInf(target, 0) {
		return target
	}

	var offset float64
	switch orderType {
	case gateway.TypeTakeProfit, gateway.TypeTakeProfitMarket:
		if side == gateway.SideSell {
			offset = target - tick
		} else {
			offset = target + tick
		}
	case gateway.TypeStop, gateway.TypeStopMarket:
		if side == gateway.SideSell {
			offset = target + tick
		} else {
			offset = target - tick
		}
	default:
		return target
	}

	if !(offset > 0) || math.IsInf(offset, 0) {
		return target
	}
	return offset
}
