package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/execflow"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/pricesource"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// RiskSignal 上游解析后的风控信号
type RiskSignal struct {
	ChannelID  string
	MessageID  int64
	Symbol     string
	ParseOK    bool
	ReceivedAt time.Time
}

// RiskFacts 风控决策所需的账户事实，由调用方自成交跟踪/交易所侧组装
type RiskFacts struct {
	HasPosition       bool
	AvgEntryPrice     float64
	PositionQty       float64 // 待平数量，空头positionAmt取绝对值后传入
	OpenEntryOrderIDs []string
	HasExistingTP     bool
	SecondFullFilled  bool
	Rules             gateway.FilterRules
}

// RiskOutcome 风控信号处理记录
type RiskOutcome struct {
	Reason            SignalReason
	Plan              execflow.RiskPlan
	PnL               execflow.PnLResult
	Canceled          []string
	CancelFail        []string
	Exit              gateway.ExecuteResult
	Breakeven         gateway.ExecuteResult
	BreakevenClientID string
}

// HandleRiskSignal 风控信号入口：去重 → 解析闸门 → 取标记价算ROI →
// 计划 → 执行。恢复锁定期间一律拒绝；信号循环暂停不拦截风控，
// 离场保护在暂停期仍需生效。
func HandleRiskSignal(rt Runtime, sig RiskSignal, facts RiskFacts, transport gateway.Transport, now time.Time) (Runtime, RiskOutcome) {
	if rt.RecoveryLocked {
		return rt, RiskOutcome{Reason: SignalRecoveryLocked}
	}

	if last, ok := rt.Watermarks[sig.ChannelID]; ok && sig.MessageID <= last {
		return rt, RiskOutcome{Reason: SignalDuplicate}
	}
	next := rt.setWatermark(sig.ChannelID, sig.MessageID)

	if !sig.ParseOK || sig.Symbol == "" {
		log.Warn().Str("channel", sig.ChannelID).Int64("message_id", sig.MessageID).
			Msg("风控信号解析失败，丢弃")
		return next, RiskOutcome{Reason: SignalParseFailed}
	}

	mark, _ := pricesource.GetMarkPrice(next.Prices, sig.Symbol, now, next.Settings.WSStaleFallback())
	pnl := execflow.EvaluatePnL(facts.AvgEntryPrice, mark)

	plan := execflow.PlanRiskAction(execflow.RiskInput{
		SignalSymbol:     sig.Symbol,
		ActiveSymbol:     next.ActiveSymbol,
		State:            next.SymbolState,
		HasPosition:      facts.HasPosition,
		PnL:              pnl,
		HasExistingTP:    facts.HasExistingTP,
		SecondFullFilled: facts.SecondFullFilled,
	})

	outcome := RiskOutcome{Reason: SignalAccepted, Plan: plan, PnL: pnl}

	switch plan.Action {
	case execflow.RiskIgnore:
		return next, outcome

	case execflow.RiskReset:
		// 监控中：只摘除该symbol的候选，剩余候选按全序重选活动symbol
		next = next.removeCandidate(sig.Symbol)
		next = next.reselectOrIdle()
		log.Info().Str("symbol", sig.Symbol).Str("active", next.ActiveSymbol).
			Msg("风控复位监控候选")
		return next, outcome

	case execflow.RiskCancelAndReset:
		outcome.Canceled, outcome.CancelFail = cancelEntryOrders(sig.Symbol, facts.OpenEntryOrderIDs, transport, next.Settings.RetryPolicy)
		next = next.removeCandidate(sig.Symbol)
		next = next.reselectOrIdle()
		return next, outcome

	case execflow.RiskMarketExit:
		outcome.Canceled, outcome.CancelFail = cancelEntryOrders(sig.Symbol, facts.OpenEntryOrderIDs, transport, next.Settings.RetryPolicy)
		exitID := ExitClientOrderID("rx", sig.MessageID, sig.Symbol)
		outcome.Exit = submitMarketExit(sig.Symbol, facts.PositionQty, exitID, facts.Rules, next.Settings, transport)
		if outcome.Exit.OK {
			next = next.resetToIdle()
		}
		return next, outcome

	case execflow.RiskKeepBreakeven:
		// 保本保护已在位，保持现状
		return next, outcome

	case execflow.RiskSubmitBreakeven:
		outcome.BreakevenClientID = ClientOrderID(trigger.KindBreakeven, sig.MessageID, sig.Symbol)
		outcome.Breakeven = submitBreakevenStop(sig.Symbol, facts.AvgEntryPrice, outcome.BreakevenClientID, facts.Rules, next.Settings, transport)
		return next, outcome
	}

	return next, outcome
}

func cancelEntryOrders(symbol string, orderIDs []string, transport gateway.Transport, policy gateway.RetryPolicy) (canceled, failed []string) {
	for _, id := range orderIDs {
		prep := gateway.PrepareCancelOrder(symbol, id, "")
		if !prep.OK {
			failed = append(failed, id)
			continue
		}
		res := gateway.ExecuteWithRetry(transport, prep.Params, policy)
		if res.OK || res.Reason == gateway.ReasonUnknownOrder {
			canceled = append(canceled, id)
		} else {
			failed = append(failed, id)
			log.Error().Str("symbol", symbol).Str("order_id", id).
				Str("reason", string(res.Reason)).Msg("进场挂单撤销失败")
		}
	}
	return canceled, failed
}

// submitMarketExit 空头市价全平：BUY MARKET reduce-only。
// clientID由事件确定性派生，超时重试在交易所侧幂等去重。
func submitMarketExit(symbol string, positionQty float64, clientID string, rules gateway.FilterRules, settings Settings, transport gateway.Transport) gateway.ExecuteResult {
	spec := gateway.CreateOrderSpec{
		Symbol:        symbol,
		Side:          gateway.SideBuy,
		Type:          gateway.TypeMarket,
		Purpose:       gateway.PurposeExit,
		Quantity:      positionQty,
		ClientOrderID: clientID,
	}
	prep := gateway.PrepareCreateOrder(spec, rules, settings.PositionMode)
	if !prep.OK {
		log.Error().Str("symbol", symbol).Str("reason", string(prep.Reason)).
			Msg("市价离场参数组装失败")
		return gateway.ExecuteResult{Reason: prep.Reason}
	}
	res := gateway.ExecuteWithRetry(transport, prep.Params, settings.RetryPolicy)
	if res.OK {
		log.Warn().Str("symbol", symbol).Float64("qty", positionQty).Msg("市价离场已提交")
	}
	return res
}

// SubmitMDDStop 最大回撤止损：二次进场全部成交后，在混合均价上方
// 按MDDStopPct布防的BUY条件市价单，封顶继续逆行的亏损。
func SubmitMDDStop(symbol string, avgEntry float64, clientID string, rules gateway.FilterRules, settings Settings, transport gateway.Transport) gateway.ExecuteResult {
	stop := gateway.RoundToTick(avgEntry*(1+settings.MDDStopPct), rules.TickSize)
	spec := gateway.CreateOrderSpec{
		Symbol:        symbol,
		Side:          gateway.SideBuy,
		Type:          gateway.TypeStopMarket,
		Purpose:       gateway.PurposeExit,
		StopPrice:     stop,
		ClosePosition: true,
		ClientOrderID: clientID,
	}
	prep := gateway.PrepareCreateOrder(spec, rules, settings.PositionMode)
	if !prep.OK {
		log.Error().Str("symbol", symbol).Str("reason", string(prep.Reason)).
			Msg("MDD止损参数组装失败")
		return gateway.ExecuteResult{Reason: prep.Reason}
	}
	res := gateway.ExecuteWithRetry(transport, prep.Params, settings.RetryPolicy)
	if res.OK {
		log.Info().Str("symbol", symbol).Float64("stop", stop).Msg("MDD止损已布防")
	}
	return res
}

// submitBreakevenStop 保本止损：开仓均价下移一档布防的BUY条件市价单
func submitBreakevenStop(symbol string, avgEntry float64, clientID string, rules gateway.FilterRules, settings Settings, transport gateway.Transport) gateway.ExecuteResult {
	stop := gateway.RoundToTick(avgEntry*(1-execflow.TPArmBufferPct), rules.TickSize)
	spec := gateway.CreateOrderSpec{
		Symbol:        symbol,
		Side:          gateway.SideBuy,
		Type:          gateway.TypeStopMarket,
		Purpose:       gateway.PurposeExit,
		StopPrice:     stop,
		ClosePosition: true,
		ClientOrderID: clientID,
	}
	prep := gateway.PrepareCreateOrder(spec, rules, settings.PositionMode)
	if !prep.OK {
		log.Error().Str("symbol", symbol).Str("reason", string(prep.Reason)).
			Msg("保本止损参数组装失败")
		return gateway.ExecuteResult{Reason: prep.Reason}
	}
	res := gateway.ExecuteWithRetry(transport, prep.Params, settings.RetryPolicy)
	if res.OK {
		log.Info().Str("symbol", symbol).Float64("stop", stop).Msg("保本止损已布防")
	}
	return res
}
