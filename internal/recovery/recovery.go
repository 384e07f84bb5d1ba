package recovery

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
)

// PersistedState 跨进程去重/冷却状态，注入的loader返回
type PersistedState struct {
	LastMessageIDs     map[string]int64     `json:"last_message_ids"`
	CooldownBySymbol   map[string]time.Time `json:"cooldown_by_symbol"`
	ReceivedAtBySymbol map[string]time.Time `json:"received_at_by_symbol"`
	MessageIDBySymbol  map[string]int64     `json:"message_id_by_symbol"`
}

// SnapshotOrder 交易所快照中的挂单
type SnapshotOrder struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Type          gateway.OrderType
	Side          gateway.OrderSide
	Quantity      float64
	Price         float64
}

// SnapshotPosition 交易所快照中的持仓
type SnapshotPosition struct {
	Symbol     string
	Size       float64
	EntryPrice float64
}

// ExchangeSnapshot 注入的快照拉取返回
type ExchangeSnapshot struct {
	OK             bool
	Reason         string
	OpenOrders     []SnapshotOrder
	Positions      []SnapshotPosition
	OpenOrderCount int
	HasAnyPosition bool
	PositionMode   gateway.PositionMode
}

// ExitReconcilePlan 离场对账计划
type ExitReconcilePlan struct {
	CancelSymbols       []string // 有挂单无持仓 → 撤单
	RegisterExitSymbols []string // 有持仓无挂单 → 需登记离场保护
}

// Empty 计划是否无需任何动作
func (p ExitReconcilePlan) Empty() bool {
	return len(p.CancelSymbols) == 0 && len(p.RegisterExitSymbols) == 0
}

// ReconcileResult 注入的对账执行器返回
type ReconcileResult struct {
	Success         bool
	Reason          string
	FailureReason   string
	CanceledSymbols []string
}

// Deps 恢复协议的注入协作方
type Deps struct {
	LoadPersisted    func() (PersistedState, error)
	FetchSnapshot    func() (ExchangeSnapshot, error)
	ExecuteReconcile func(ExitReconcilePlan) (ReconcileResult, error) // 计划为空时可为nil
	ClearQueue       func() error
	PriceHealth      func() bool
}

// Gate 解锁闸门，顺序固定
type Gate string

const (
	GatePersisted   Gate = "PERSISTED_STATE"
	GateSnapshot    Gate = "SNAPSHOT"
	GateReconcile   Gate = "RECONCILE"
	GateQueueClear  Gate = "QUEUE_CLEAR"
	GatePriceHealth Gate = "PRICE_HEALTH"
)

// gateOrder 闸门检查顺序，解锁判定严格按此序
var gateOrder = []Gate{GatePersisted, GateSnapshot, GateReconcile, GateQueueClear, GatePriceHealth}

// Result 一次恢复运行的结果。Unlocked为false时WaitingOn指明首个未满足闸门。
type Result struct {
	Unlocked     bool
	WaitingOn    Gate
	Reason       string
	Gates        map[Gate]bool
	Persisted    PersistedState
	Snapshot     ExchangeSnapshot
	Account      fsm.AccountState
	SymbolState  fsm.SymbolState
	ActiveSymbol string
	Plan         ExitReconcilePlan
	Reconcile    ReconcileResult
}

// PlanExitReconcile 第5阶段：交叉比对挂单与持仓。
// 有挂单无匹配持仓的symbol标记撤单；有持仓无匹配挂单的标记登记离场。
func PlanExitReconcile(snapshot ExchangeSnapshot) ExitReconcilePlan {
	posBySymbol := map[string]bool{}
	for _, p := range snapshot.Positions {
		if p.Size != 0 {
			posBySymbol[p.Symbol] = true
		}
	}
	orderBySymbol := map[string]bool{}
	for _, o := range snapshot.OpenOrders {
		orderBySymbol[o.Symbol] = true
	}

	var plan ExitReconcilePlan
	seen := map[string]bool{}
	for _, o := range snapshot.OpenOrders {
		if seen[o.Symbol] {
			continue
		}
		seen[o.Symbol] = true
		if !posBySymbol[o.Symbol] {
			plan.CancelSymbols = append(plan.CancelSymbols, o.Symbol)
		}
	}
	seen = map[string]bool{}
	for _, p := range snapshot.Positions {
		if p.Size == 0 || seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		if !orderBySymbol[p.Symbol] {
			plan.RegisterExitSymbols = append(plan.RegisterExitSymbols, p.Symbol)
		}
	}
	return plan
}

// DeriveSymbolState 第4阶段：由快照推导symbol状态。
// 非零持仓 → PHASE1；仅有挂单 → ENTRY_ORDER；否则IDLE。
func DeriveSymbolState(snapshot ExchangeSnapshot) (fsm.SymbolState, string) {
	for _, p := range snapshot.Positions {
		if p.Size != 0 {
			return fsm.StatePhase1, p.Symbol
		}
	}
	if len(snapshot.OpenOrders) > 0 {
		return fsm.StateEntryOrder, snapshot.OpenOrders[0].Symbol
	}
	return fsm.StateIdle, ""
}

func locked(r Result) Result {
	for _, g := range gateOrder {
		if !r.Gates[g] {
			r.WaitingOn = g
			r.Reason = fmt.Sprintf("WAITING_ON_%s", g)
			break
		}
	}
	log.Warn().Str("waiting_on", string(r.WaitingOn)).Msg("恢复未完成，保持锁定不交易")
	return r
}

// Run 执行九阶段恢复协议。启动时调用一次，UI的停止/恢复请求可重入，
// 每次都从第1阶段以全新运行态开始。任一阶段失败即终止本次运行并保持锁定。
func Run(deps Deps) Result {
	// 第1阶段：进入恢复锁定。调用方据此暂停信号循环。
	result := Result{Gates: map[Gate]bool{}, SymbolState: fsm.StateIdle}
	log.Info().Msg("恢复协议开始：进入锁定，信号循环暂停")

	// 第2阶段：载入跨进程去重/冷却状态。异常或类型不符对本次运行致命。
	persisted, err := safeLoadPersisted(deps.LoadPersisted)
	if err != nil {
		log.Error().Err(err).Msg("持久化状态载入失败")
		return locked(result)
	}
	result.Persisted = persisted
	result.Gates[GatePersisted] = true

	// 第3阶段：拉取交易所挂单/持仓快照。
	snapshot, err := safeFetchSnapshot(deps.FetchSnapshot)
	if err != nil || !snapshot.OK {
		if err == nil {
			err = fmt.Errorf("快照拉取被拒: %s", snapshot.Reason)
		}
		log.Error().Err(err).Msg("交易所快照失败")
		return locked(result)
	}
	result.Snapshot = snapshot
	result.Gates[GateSnapshot] = true

	// 第4阶段：应用快照，整体重算账户状态并推导symbol状态。
	result.Account, _ = fsm.RecomputeAccount(fsm.AccountState{}, snapshot.HasAnyPosition, len(snapshot.OpenOrders) > 0)
	result.SymbolState, result.ActiveSymbol = DeriveSymbolState(snapshot)
	log.Info().
		Str("symbol_state", string(result.SymbolState)).
		Str("active_symbol", result.ActiveSymbol).
		Bool("entry_locked", result.Account.EntryLocked).
		Msg("快照已应用")

	// 第5阶段：离场对账计划。
	result.Plan = PlanExitReconcile(snapshot)
	log.Info().
		Strs("cancel", result.Plan.CancelSymbols).
		Strs("register_exit", result.Plan.RegisterExitSymbols).
		Msg("离场对账计划生成")

	// 第6阶段：执行计划。需要动作但无执行器是致命的。
	if !result.Plan.Empty() {
		if deps.ExecuteReconcile == nil {
			log.Error().Msg("对账计划需要动作但未注入执行器")
			return locked(result)
		}
		recon, err := safeExecuteReconcile(deps.ExecuteReconcile, result.Plan)
		if err != nil || !recon.Success {
			if err == nil {
				err = fmt.Errorf("对账执行失败: %s", recon.FailureReason)
			}
			log.Error().Err(err).Msg("离场对账执行失败")
			return locked(result)
		}
		result.Reconcile = recon
	}
	result.Gates[GateReconcile] = true

	// 第7阶段：清空监控队列。
	if deps.ClearQueue != nil {
		if err := deps.ClearQueue(); err != nil {
			log.Error().Err(err).Msg("监控队列清空失败")
			return locked(result)
		}
	}
	result.Gates[GateQueueClear] = true

	// 第8阶段：价格源健康查询。
	if deps.PriceHealth == nil || !deps.PriceHealth() {
		log.Error().Msg("价格源未就绪")
		return locked(result)
	}
	result.Gates[GatePriceHealth] = true

	// 第9阶段：五道闸门按序全部通过才解锁。
	for _, g := range gateOrder {
		if !result.Gates[g] {
			return locked(result)
		}
	}
	result.Unlocked = true
	result.Reason = "RECOVERY_COMPLETE"
	log.Info().Msg("恢复完成，解除锁定")
	return result
}

func safeLoadPersisted(fn func() (PersistedState, error)) (ps PersistedState, err error) {
	if fn == nil {
		return ps, fmt.Errorf("未注入持久化状态loader")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("持久化loader panic: %v", r)
		}
	}()
	return fn()
}

func safeFetchSnapshot(fn func() (ExchangeSnapshot, error)) (snap ExchangeSnapshot, err error) {
	if fn == nil {
		return snap, fmt.Errorf("未注入快照fetcher")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("快照fetcher panic: %v", r)
		}
	}()
	return fn()
}

func safeExecuteReconcile(fn func(ExitReconcilePlan) (ReconcileResult, error), plan ExitReconcilePlan) (res ReconcileResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("对账执行器 panic: %v", r)
		}
	}()
	return fn(plan)
}
