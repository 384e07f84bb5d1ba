package execflow

import "time"

// DefaultStallSeconds 离场单部分成交停滞窗口
const DefaultStallSeconds = 5

// ReasonExitPartialStalled 停滞强制离场的结果代码
const ReasonExitPartialStalled = "EXIT_PARTIAL_STALLED_5S"

// PartialFillTracker 离场单部分成交跟踪。值语义，更新返回新副本。
type PartialFillTracker struct {
	Active          bool
	OrderID         string
	PartialStarted  time.Time
	LastUpdateAt    time.Time
	LastExecutedQty float64
}

// TrackPartialFill 处理一条订单状态更新。
// 首次部分成交记起点；同一订单成交量严格增长时重置起点；
// 终态一律清空跟踪。
func TrackPartialFill(t PartialFillTracker, orderID string, status OrderStatus, executedQty float64, at time.Time) PartialFillTracker {
	if status.IsTerminal() {
		return PartialFillTracker{}
	}

	if status != StatusPartiallyFilled {
		return t
	}

	if !t.Active || t.OrderID != orderID {
		return PartialFillTracker{
			Active:          true,
			OrderID:         orderID,
			PartialStarted:  at,
			LastUpdateAt:    at,
			LastExecutedQty: executedQty,
		}
	}

	next := t
	next.LastUpdateAt = at
	if executedQty > t.LastExecutedQty {
		next.PartialStarted = at
		next.LastExecutedQty = executedQty
	}
	return next
}

// StallDecision 停滞判定
type StallDecision struct {
	ForceExit bool
	Reason    string
	Elapsed   time.Duration
}

// CheckStall 部分成交停滞规则：起点至今 ≥ stall窗口且本轮没有风控市价离场
// 在途时，强制市价离场。
func CheckStall(t PartialFillTracker, now time.Time, stallSeconds int, riskExitRunning bool) StallDecision {
	if !t.Active {
		return StallDecision{}
	}

	elapsed := now.Sub(t.PartialStarted)
	if elapsed < time.Duration(stallSeconds)*time.Second {
		return StallDecision{Elapsed: elapsed}
	}

	if riskExitRunning {
		return StallDecision{Elapsed: elapsed}
	}

	return StallDecision{ForceExit: true, Reason: ReasonExitPartialStalled, Elapsed: elapsed}
}
