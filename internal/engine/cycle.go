package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/entry"
	"github.com/newplayman/short-hunter/internal/execflow"
	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/pricesource"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// CycleDeps 触发循环的注入依赖
type CycleDeps struct {
	Transport        gateway.Transport
	RulesFor         func(symbol string) (gateway.FilterRules, bool)
	WalletBalance    func() (float64, error)
	AvailableBalance func() (float64, error)
	RefreshBalance   func() (float64, error)

	// PreOrderSetup 下单前置准备（杠杆、保证金模式等），可为nil。
	// 失败时按ResetOnSetupFailure决定整体复位还是仅丢弃该候选。
	PreOrderSetup       func(symbol string) error
	ResetOnSetupFailure bool
}

// CycleReason 触发循环结果代码
type CycleReason string

const (
	CycleDispatched     CycleReason = "DISPATCHED"
	CycleNoWinner       CycleReason = "NO_WINNER"
	CycleNoCandidates   CycleReason = "NO_CANDIDATES"
	CycleRecoveryLocked CycleReason = "RECOVERY_LOCKED"
	CycleLoopPaused     CycleReason = "LOOP_PAUSED"
	CycleSubmitLocked   CycleReason = "SUBMIT_LOCKED"
	CycleGlobalBlocked  CycleReason = "GLOBAL_BLOCKED"
	CycleSetupFailed    CycleReason = "PRE_ORDER_SETUP_FAILED"
	CycleRulesMissing   CycleReason = "FILTER_RULES_MISSING"
	CycleBalanceFailed  CycleReason = "BALANCE_FETCH_FAILED"
)

// CycleOutcome 一次触发循环的执行记录
type CycleOutcome struct {
	Reason     CycleReason
	Detail     string
	Trigger    trigger.CycleResult
	Dispatched *trigger.Candidate
	Entry      entry.Outcome
	Exit       gateway.ExecuteResult
}

// eligibleCandidates 按账户闸门筛选本轮参与评估的候选。
// global_blocked时只放行二次进场的窄通道：PHASE1、有持仓、无挂单、
// 且候选恰为active symbol的SECOND_ENTRY。
func eligibleCandidates(rt Runtime) ([]trigger.Candidate, CycleReason) {
	if !rt.Account.GlobalBlocked {
		return rt.Candidates, ""
	}

	if rt.Account.SafetyLocked {
		return nil, CycleGlobalBlocked
	}
	if rt.SymbolState != fsm.StatePhase1 || !rt.Account.HasAnyPosition || rt.Account.HasAnyOpenOrder {
		return nil, CycleGlobalBlocked
	}

	var second []trigger.Candidate
	for _, c := range rt.Candidates {
		if c.Kind == trigger.KindSecondEntry && c.Symbol == rt.ActiveSymbol {
			second = append(second, c)
		}
	}
	if len(second) != 1 {
		return nil, CycleGlobalBlocked
	}
	return second, ""
}

// RunTriggerEntryCycle 触发-进场循环：闸门检查 → 目标价tick归一 →
// 评估全部候选并裁决唯一胜者 → 前置准备 → 派发下单。
// 胜者与平局落选者一并移出候选集，未满足者留待下轮。
func RunTriggerEntryCycle(rt Runtime, deps CycleDeps, now time.Time) (Runtime, CycleOutcome) {
	if rt.RecoveryLocked {
		return rt, CycleOutcome{Reason: CycleRecoveryLocked}
	}
	if rt.SignalLoopPaused {
		return rt, CycleOutcome{Reason: CycleLoopPaused}
	}
	if rt.SubmitLocked {
		return rt, CycleOutcome{Reason: CycleSubmitLocked}
	}
	if len(rt.Candidates) == 0 {
		return rt, CycleOutcome{Reason: CycleNoCandidates}
	}

	pool, blocked := eligibleCandidates(rt)
	if blocked != "" {
		return rt, CycleOutcome{Reason: blocked}
	}
	if len(pool) == 0 {
		return rt, CycleOutcome{Reason: CycleNoCandidates}
	}

	// 目标价按交易对tick归一后再进入阈值比较
	normalized := make([]trigger.Candidate, len(pool))
	copy(normalized, pool)
	for i := range normalized {
		if rules, ok := deps.RulesFor(normalized[i].Symbol); ok && rules.TickSize > 0 {
			normalized[i].TargetPrice = gateway.RoundToTick(normalized[i].TargetPrice, rules.TickSize)
		}
	}

	markOf := func(symbol string) (float64, bool) {
		p, reason := pricesource.GetMarkPrice(rt.Prices, symbol, now, rt.Settings.WSStaleFallback())
		return p, reason != pricesource.LookupUnavailable
	}

	cycle := trigger.RunCycle(normalized, markOf, rt.Settings.EntryTriggerBufferPct)

	next := rt
	for _, ev := range cycle.Dropped {
		next = next.removeCandidateExact(ev.Candidate)
		log.Warn().Str("symbol", ev.Candidate.Symbol).Str("kind", string(ev.Candidate.Kind)).
			Msg("平局裁决落选，候选丢弃")
	}

	if cycle.Winner == nil {
		return next, CycleOutcome{Reason: CycleNoWinner, Trigger: cycle}
	}

	winner := cycle.Winner.Candidate
	next = next.removeCandidateExact(winner)

	if deps.PreOrderSetup != nil {
		if err := deps.PreOrderSetup(winner.Symbol); err != nil {
			if deps.ResetOnSetupFailure {
				next = next.resetToIdle()
			}
			log.Error().Err(err).Str("symbol", winner.Symbol).
				Bool("reset", deps.ResetOnSetupFailure).Msg("下单前置准备失败")
			return next, CycleOutcome{Reason: CycleSetupFailed, Detail: err.Error(), Trigger: cycle}
		}
	}

	rules, ok := deps.RulesFor(winner.Symbol)
	if !ok {
		next = next.reselectOrIdle()
		return next, CycleOutcome{Reason: CycleRulesMissing, Detail: winner.Symbol, Trigger: cycle}
	}

	return dispatchWinner(next, winner, rules, cycle, deps, now)
}

func dispatchWinner(rt Runtime, winner trigger.Candidate, rules gateway.FilterRules, cycle trigger.CycleResult, deps CycleDeps, now time.Time) (Runtime, CycleOutcome) {
	outcome := CycleOutcome{Trigger: cycle, Dispatched: &winner}
	refMark := winner.TargetPrice
	if p, reason := pricesource.GetMarkPrice(rt.Prices, winner.Symbol, now, rt.Settings.WSStaleFallback()); reason != pricesource.LookupUnavailable {
		refMark = p
	}

	req := entry.Request{
		Symbol:        winner.Symbol,
		TargetPrice:   winner.TargetPrice,
		RefMark:       refMark,
		Mode:          winner.EntryMode,
		Rules:         rules,
		PosMode:       rt.Settings.PositionMode,
		ClientOrderID: ClientOrderID(winner.Kind, winner.MessageID, winner.Symbol),
	}
	pipeDeps := entry.Deps{
		Transport:      deps.Transport,
		Policy:         rt.Settings.RetryPolicy,
		RefreshBalance: deps.RefreshBalance,
	}

	next := rt
	switch winner.Kind {
	case trigger.KindFirstEntry:
		wallet, err := deps.WalletBalance()
		if err != nil {
			// 余额查询瞬时失败：候选放回，留待下轮重试
			next = next.addCandidate(winner)
			outcome.Reason = CycleBalanceFailed
			outcome.Detail = err.Error()
			return next, outcome
		}
		next.ActiveSymbol = winner.Symbol
		out := entry.RunFirstEntry(next.SymbolState, req, wallet, pipeDeps)
		next.SymbolState = out.NextState
		if out.NextState == fsm.StateIdle {
			next = next.reselectOrIdle()
		}
		outcome.Reason = CycleDispatched
		outcome.Entry = out
		return next, outcome

	case trigger.KindSecondEntry:
		avail, err := deps.AvailableBalance()
		if err != nil {
			next = next.addCandidate(winner)
			outcome.Reason = CycleBalanceFailed
			outcome.Detail = err.Error()
			return next, outcome
		}
		out := entry.RunSecondEntry(next.SymbolState, req, avail, rt.Settings.MarginBufferPct, pipeDeps)
		next.SymbolState = out.NextState
		outcome.Reason = CycleDispatched
		outcome.Entry = out
		return next, outcome

	case trigger.KindTakeProfit, trigger.KindBreakeven:
		res := submitProtectiveExit(winner, rules, rt.Settings, deps.Transport)
		outcome.Reason = CycleDispatched
		outcome.Exit = res
		return next, outcome
	}

	outcome.Reason = CycleNoWinner
	outcome.Detail = "UNKNOWN_KIND"
	return next, outcome
}

// submitProtectiveExit TP/保本触发胜出后提交平仓保护单。
// 空头离场方向为BUY，条件市价单以closePosition全平。
func submitProtectiveExit(winner trigger.Candidate, rules gateway.FilterRules, settings Settings, transport gateway.Transport) gateway.ExecuteResult {
	orderType := gateway.TypeTakeProfitMarket
	stop := winner.TargetPrice
	if winner.Kind == trigger.KindBreakeven {
		orderType = gateway.TypeStopMarket
		stop = gateway.RoundToTick(winner.TargetPrice*(1-execflow.TPArmBufferPct), rules.TickSize)
	}

	spec := gateway.CreateOrderSpec{
		Symbol:        winner.Symbol,
		Side:          gateway.SideBuy,
		Type:          orderType,
		Purpose:       gateway.PurposeExit,
		StopPrice:     stop,
		ClosePosition: true,
		ClientOrderID: ClientOrderID(winner.Kind, winner.MessageID, winner.Symbol),
	}

	prep := gateway.PrepareCreateOrder(spec, rules, settings.PositionMode)
	if !prep.OK {
		log.Error().Str("symbol", winner.Symbol).Str("reason", string(prep.Reason)).
			Msg("平仓保护单参数组装失败")
		return gateway.ExecuteResult{Reason: prep.Reason}
	}

	res := gateway.ExecuteWithRetry(transport, prep.Params, settings.RetryPolicy)
	if res.OK {
		log.Info().Str("symbol", winner.Symbol).Str("type", string(orderType)).
			Float64("stop", stop).Msg("平仓保护单已布防")
	}
	return res
}
