package entry

import (
	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// PipelineReason 进场管线结果代码
type PipelineReason string

const (
	PipelineOK            PipelineReason = "OK"
	PipelineInvalidState  PipelineReason = "INVALID_STATE"
	PipelineBudgetFailed  PipelineReason = "BUDGET_FAILED"
	PipelinePrepareFailed PipelineReason = "PREPARE_FAILED"
	PipelineGatewayFailed PipelineReason = "GATEWAY_FAILED"
	PipelineMarginReset   PipelineReason = "INSUFFICIENT_MARGIN_RESET"
	PipelineKeepState     PipelineReason = "KEEP_STATE_RETRY"
)

// Request 进场请求
type Request struct {
	Symbol        string
	TargetPrice   float64
	RefMark       float64 // 当前标记价，类型选择与一tick偏移的参考
	Mode          trigger.EntryMode
	Rules         gateway.FilterRules
	PosMode       gateway.PositionMode
	ClientOrderID string
}

// Deps 管线注入依赖
type Deps struct {
	Transport      gateway.Transport
	Policy         gateway.RetryPolicy
	RefreshBalance func() (float64, error) // 二次进场INSUFFICIENT_MARGIN专用，可为nil
}

// Outcome 管线执行结果
type Outcome struct {
	OK           bool
	Reason       PipelineReason
	Detail       string
	NextState    fsm.SymbolState
	BudgetUsed   float64
	QuantityUsed float64
	Gateway      gateway.ExecuteResult
}

// buildSpec 按预算和目标价组装卖出触发单
func buildSpec(req Request, budget float64) (gateway.CreateOrderSpec, BudgetReason) {
	qty, reason := QuantityFromBudget(budget, req.TargetPrice)
	if reason != BudgetOK {
		return gateway.CreateOrderSpec{}, reason
	}

	orderType := SelectOrderType(gateway.SideSell, req.TargetPrice, req.RefMark)
	trigPrice := OffsetTriggerPrice(orderType, gateway.SideSell, req.TargetPrice, req.Rules.TickSize)

	return gateway.CreateOrderSpec{
		Symbol:        req.Symbol,
		Side:          gateway.SideSell,
		Type:          orderType,
		Purpose:       gateway.PurposeEntry,
		Quantity:      qty,
		Price:         req.TargetPrice,
		StopPrice:     trigPrice,
		RefPrice:      req.RefMark,
		ClientOrderID: req.ClientOrderID,
	}, BudgetOK
}

func submit(req Request, spec gateway.CreateOrderSpec, deps Deps, policy gateway.RetryPolicy) (gateway.ExecuteResult, PipelineReason, string) {
	prep := gateway.PrepareCreateOrder(spec, req.Rules, req.PosMode)
	if !prep.OK {
		return gateway.ExecuteResult{}, PipelinePrepareFailed, string(prep.Reason)
	}
	res := gateway.ExecuteWithRetry(deps.Transport, prep.Params, policy)
	if !res.OK {
		return res, PipelineGatewayFailed, string(res.Reason)
	}
	return res, PipelineOK, ""
}

// RunFirstEntry 首次进场管线。仅MONITORING/ENTRY_ORDER合法；
// 成功自MONITORING经SUBMIT_ENTRY_ORDER迁移，ENTRY_ORDER重试保持原状态；
// INSUFFICIENT_MARGIN一律复位IDLE；其他失败复位IDLE，除非已在ENTRY_ORDER
// （保持状态，下轮重试）。
func RunFirstEntry(state fsm.SymbolState, req Request, walletBalance float64, deps Deps) Outcome {
	if state != fsm.StateMonitoring && state != fsm.StateEntryOrder {
		return Outcome{Reason: PipelineInvalidState, NextState: state,
			Detail: string(state)}
	}

	budget, bReason := FirstEntryBudget(walletBalance, req.Mode)
	if bReason != BudgetOK {
		return Outcome{Reason: PipelineBudgetFailed, NextState: state, Detail: string(bReason)}
	}

	spec, bReason := buildSpec(req, budget)
	if bReason != BudgetOK {
		return Outcome{Reason: PipelineBudgetFailed, NextState: state, Detail: string(bReason)}
	}

	res, pReason, detail := submit(req, spec, deps, deps.Policy)
	if pReason == PipelineOK {
		next := state
		if state == fsm.StateMonitoring {
			next = fsm.ApplyEvent(state, fsm.EventSubmitEntryOrder).Next
		}
		log.Info().Str("symbol", req.Symbol).
			Float64("budget", budget).Float64("qty", spec.Quantity).
			Str("state", string(next)).Msg("首次进场单已提交")
		return Outcome{OK: true, Reason: PipelineOK, NextState: next,
			BudgetUsed: budget, QuantityUsed: spec.Quantity, Gateway: res}
	}

	if res.Reason == gateway.ReasonInsufficientMargin {
		log.Warn().Str("symbol", req.Symbol).Msg("首次进场保证金不足，复位IDLE")
		return Outcome{Reason: PipelineMarginReset, NextState: fsm.StateIdle,
			Detail: detail, Gateway: res}
	}

	if state == fsm.StateEntryOrder {
		log.Warn().Str("symbol", req.Symbol).Str("reason", detail).
			Msg("首次进场重试失败，保持ENTRY_ORDER下轮再试")
		return Outcome{Reason: PipelineKeepState, NextState: state,
			Detail: detail, Gateway: res}
	}

	log.Warn().Str("symbol", req.Symbol).Str("reason", detail).Msg("首次进场失败，复位IDLE")
	return Outcome{Reason: pReason, NextState: fsm.StateIdle, Detail: detail, Gateway: res}
}

// RunSecondEntry 二次进场管线。仅PHASE1合法；非保证金失败保持状态；
// INSUFFICIENT_MARGIN且有余额刷新回调时，刷新后以单次尝试策略恰好重试一次。
func RunSecondEntry(state fsm.SymbolState, req Request, availableBalance, marginBufferPct float64, deps Deps) Outcome {
	if state != fsm.StatePhase1 {
		return Outcome{Reason: PipelineInvalidState, NextState: state, Detail: string(state)}
	}

	budget, bReason := SecondEntryBudget(availableBalance, marginBufferPct, req.Mode)
	if bReason != BudgetOK {
		return Outcome{Reason: PipelineBudgetFailed, NextState: state, Detail: string(bReason)}
	}

	spec, bReason := buildSpec(req, budget)
	if bReason != BudgetOK {
		return Outcome{Reason: PipelineBudgetFailed, NextState: state, Detail: string(bReason)}
	}

	res, pReason, detail := submit(req, spec, deps, deps.Policy)
	if pReason == PipelineOK {
		next := fsm.ApplyEvent(state, fsm.EventSubmitSecondEntryOrder).Next
		log.Info().Str("symbol", req.Symbol).Float64("budget", budget).
			Float64("qty", spec.Quantity).Msg("二次进场单已提交")
		return Outcome{OK: true, Reason: PipelineOK, NextState: next,
			BudgetUsed: budget, QuantityUsed: spec.Quantity, Gateway: res}
	}

	if res.Reason != gateway.ReasonInsufficientMargin {
		log.Warn().Str("symbol", req.Symbol).Str("reason", detail).
			Msg("二次进场失败，保持PHASE1下轮再试")
		return Outcome{Reason: PipelineKeepState, NextState: state, Detail: detail, Gateway: res}
	}

	if deps.RefreshBalance == nil {
		log.Warn().Str("symbol", req.Symbol).Msg("二次进场保证金不足且无余额刷新回调，保持状态")
		return Outcome{Reason: PipelineKeepState, NextState: state, Detail: detail, Gateway: res}
	}

	refreshed, err := deps.RefreshBalance()
	if err != nil {
		log.Warn().Err(err).Str("symbol", req.Symbol).Msg("余额刷新失败，保持状态")
		return Outcome{Reason: PipelineKeepState, NextState: state,
			Detail: "BALANCE_REFRESH_FAILED", Gateway: res}
	}

	budget, bReason = SecondEntryBudget(refreshed, marginBufferPct, req.Mode)
	if bReason != BudgetOK {
		return Outcome{Reason: PipelineKeepState, NextState: state, Detail: string(bReason), Gateway: res}
	}
	spec, bReason = buildSpec(req, budget)
	if bReason != BudgetOK {
		return Outcome{Reason: PipelineKeepState, NextState: state, Detail: string(bReason), Gateway: res}
	}

	// 恰好一次的补充尝试
	retryRes, pReason, detail := submit(req, spec, deps, gateway.SingleAttempt())
	if pReason == PipelineOK {
		next := fsm.ApplyEvent(state, fsm.EventSubmitSecondEntryOrder).Next
		log.Info().Str("symbol", req.Symbol).Float64("refreshed_balance", refreshed).
			Msg("余额刷新后二次进场成功")
		return Outcome{OK: true, Reason: PipelineOK, NextState: next,
			BudgetUsed: budget, QuantityUsed: spec.Quantity, Gateway: retryRes}
	}

	log.Warn().Str("symbol", req.Symbol).Str("reason", detail).
		Msg("刷新后重试仍失败，保持PHASE1")
	return Outcome{Reason: PipelineKeepState, NextState: state, Detail: detail, Gateway: retryRes}
}
