package execflow

import (
	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/gateway"
)

// OCOPlan 互撤计划：已成交腿之外的全部离场单
type OCOPlan struct {
	FilledOrderID string
	CancelTargets []string
}

// PlanOCOCancel 计算互撤目标，排除已成交订单本身
func PlanOCOCancel(filledOrderID string, openExitOrderIDs []string) OCOPlan {
	plan := OCOPlan{FilledOrderID: filledOrderID}
	for _, id := range openExitOrderIDs {
		if id != filledOrderID {
			plan.CancelTargets = append(plan.CancelTargets, id)
		}
	}
	return plan
}

// OCOResult 互撤执行结果。任一撤销失败时LockNewOrders置位，
// 新单提交被锁定直至人工解除。
type OCOResult struct {
	Canceled      []string
	Failed        []string
	LockNewOrders bool
}

// ExecuteOCOCancel 逐单带重试撤销互撤目标
func ExecuteOCOCancel(plan OCOPlan, symbol string, transport gateway.Transport, policy gateway.RetryPolicy) OCOResult {
	var result OCOResult

	if len(plan.CancelTargets) == 0 {
		return result
	}

	for _, id := range plan.CancelTargets {
		prep := gateway.PrepareCancelOrder(symbol, id, "")
		if !prep.OK {
			result.Failed = append(result.Failed, id)
			log.Error().Str("symbol", symbol).Str("order_id", id).
				Str("reason", string(prep.Reason)).Msg("互撤参数组装失败")
			continue
		}

		res := gateway.ExecuteWithRetry(transport, prep.Params, policy)
		if res.OK || res.Reason == gateway.ReasonUnknownOrder {
			// 订单已不存在视为撤销达成
			result.Canceled = append(result.Canceled, id)
			log.Info().Str("symbol", symbol).Str("order_id", id).
				Int("attempts", res.Attempts).Msg("互撤成功")
		} else {
			result.Failed = append(result.Failed, id)
			log.Error().Str("symbol", symbol).Str("order_id", id).
				Str("reason", string(res.Reason)).Msg("互撤失败")
		}
	}

	if len(result.Failed) > 0 {
		result.LockNewOrders = true
		log.Error().Str("symbol", symbol).Int("failed", len(result.Failed)).
			Msg("互撤未完成，锁定新单提交直至人工处理")
	}

	return result
}
