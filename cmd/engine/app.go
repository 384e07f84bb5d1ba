package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/binance"
	"github.com/newplayman/short-hunter/internal/config"
	"github.com/newplayman/short-hunter/internal/engine"
	"github.com/newplayman/short-hunter/internal/execflow"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/journal"
	"github.com/newplayman/short-hunter/internal/metrics"
	"github.com/newplayman/short-hunter/internal/pricesource"
	"github.com/newplayman/short-hunter/internal/recovery"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// pendingOrder 已提交待轮询的订单
type pendingOrder struct {
	Symbol       string
	ClientID     string
	Phase        execflow.EntryPhase
	Mode         trigger.EntryMode
	MessageID    int64
	LastStatus   string
	LastExecuted float64
}

// App 引擎应用：单写者事件循环持有Runtime，外部事件
// （信号HTTP、价格推送、定时器）全部串行到同一序列上。
type App struct {
	cfg       *config.Config
	rest      *binance.Client
	transport gateway.Transport
	journal   *journal.Journal // 可为nil，流水落库失败不影响交易

	rt           engine.Runtime
	pendingEntry *pendingOrder
	pendingExits map[string]*pendingOrder

	events chan func()
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewApp 构建应用
func NewApp(cfg *config.Config, rest *binance.Client, jnl *journal.Journal) *App {
	return &App{
		cfg:          cfg,
		rest:         rest,
		journal:      jnl,
		transport:    rest.Transport(),
		rt:           engine.NewRuntime(cfg.ToEngineSettings()),
		pendingExits: make(map[string]*pendingOrder),
		events:       make(chan func(), 256),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Post 将一个事件排入主循环，停止后返回false
func (a *App) Post(fn func()) bool {
	select {
	case a.events <- fn:
		return true
	case <-a.stopCh:
		return false
	}
}

// Call 排入事件并等待其执行完成
func (a *App) Call(fn func()) bool {
	done := make(chan struct{})
	ok := a.Post(func() {
		fn()
		close(done)
	})
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	case <-a.stopCh:
		return false
	}
}

// Start 启动主循环
func (a *App) Start() {
	go a.run()
}

// Stop 停止主循环并落盘
func (a *App) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *App) run() {
	defer close(a.doneCh)
	cycleTicker := time.NewTicker(time.Second)
	defer cycleTicker.Stop()
	persistTicker := time.NewTicker(30 * time.Second)
	defer persistTicker.Stop()

	for {
		select {
		case <-a.stopCh:
			a.persist()
			return
		case fn := <-a.events:
			fn()
		case now := <-cycleTicker.C:
			a.tick(now)
		case <-persistTicker.C:
			a.persist()
		}
	}
}

// tick 每秒一轮：价格守护 → 成交轮询 → 停滞检查 → 触发循环 → 指标发布
func (a *App) tick(now time.Time) {
	var guardDecision pricesource.GuardDecision
	a.rt, guardDecision = engine.RunPriceGuard(a.rt, now)
	if guardDecision.Action != pricesource.ActionNone {
		metrics.RecordGuardTrip(string(guardDecision.Action))
		a.executeGuardAction(guardDecision)
	}

	a.pollFills(now)
	a.checkStall(now)
	a.runCycle(now)
	a.publishMetrics(now)
}

// OnWSPrice 推送通道标记价回调（pricefeed读循环goroutine调用）
func (a *App) OnWSPrice(symbol string, price float64, at time.Time) {
	a.Post(func() {
		a.rt = engine.ApplyWSPrice(a.rt, symbol, price, at)
		metrics.RecordMarkPrice(symbol, "ws", price)
	})
}

// OnRESTPrice 轮询通道标记价回调
func (a *App) OnRESTPrice(symbol string, price float64, at time.Time) {
	a.Post(func() {
		a.rt = engine.ApplyRESTPrice(a.rt, symbol, price, at)
		metrics.RecordMarkPrice(symbol, "rest", price)
	})
}

// FetchMarkPrices REST轮询取价
func (a *App) FetchMarkPrices() (map[string]float64, error) {
	return a.rest.MarkPrices(a.cfg.GetAllSymbols())
}

func (a *App) cycleDeps() engine.CycleDeps {
	return engine.CycleDeps{
		Transport: a.transport,
		RulesFor:  a.cfg.GetSymbolRules,
		WalletBalance: func() (float64, error) {
			bal, err := a.rest.USDTBalance()
			return bal.Wallet, err
		},
		AvailableBalance: func() (float64, error) {
			bal, err := a.rest.USDTBalance()
			return bal.Available, err
		},
		RefreshBalance: func() (float64, error) {
			bal, err := a.rest.USDTBalance()
			return bal.Available, err
		},
	}
}

func (a *App) runCycle(now time.Time) {
	var outcome engine.CycleOutcome
	a.rt, outcome = engine.RunTriggerEntryCycle(a.rt, a.cycleDeps(), now)
	metrics.RecordTriggerCycle(string(outcome.Reason), len(outcome.Trigger.Dropped))

	if outcome.Dispatched == nil {
		return
	}
	winner := *outcome.Dispatched
	clientID := engine.ClientOrderID(winner.Kind, winner.MessageID, winner.Symbol)

	switch winner.Kind {
	case trigger.KindFirstEntry, trigger.KindSecondEntry:
		metrics.RecordOrderSubmit(winner.Symbol, "entry",
			string(outcome.Entry.Gateway.Reason), outcome.Entry.Gateway.Attempts)
		a.journalOrder(winner.Symbol, "entry", clientID, string(outcome.Entry.Gateway.Reason), outcome.Entry.OK)
		if outcome.Entry.OK {
			phase := execflow.PhaseFirstEntry
			if winner.Kind == trigger.KindSecondEntry {
				phase = execflow.PhaseSecondEntry
			}
			a.pendingEntry = &pendingOrder{
				Symbol:    winner.Symbol,
				ClientID:  clientID,
				Phase:     phase,
				Mode:      winner.EntryMode,
				MessageID: winner.MessageID,
			}
		}
	case trigger.KindTakeProfit, trigger.KindBreakeven:
		metrics.RecordOrderSubmit(winner.Symbol, "exit",
			string(outcome.Exit.Reason), outcome.Exit.Attempts)
		a.journalOrder(winner.Symbol, "exit", clientID, string(outcome.Exit.Reason), outcome.Exit.OK)
		if outcome.Exit.OK {
			a.pendingExits[clientID] = &pendingOrder{
				Symbol:    winner.Symbol,
				ClientID:  clientID,
				MessageID: winner.MessageID,
			}
		}
	}
}

// pollFills 轮询在途订单状态，驱动成交同步决策表
func (a *App) pollFills(now time.Time) {
	if pe := a.pendingEntry; pe != nil {
		st, err := a.rest.QueryOrder(pe.Symbol, pe.ClientID)
		if err != nil {
			metrics.RecordError("order_query", pe.Symbol)
		} else if st.Status != pe.LastStatus || st.ExecutedQty != pe.LastExecuted {
			pe.LastStatus = st.Status
			pe.LastExecuted = st.ExecutedQty
			a.applyEntryFill(pe, st, now)
		}
	}

	for clientID, px := range a.pendingExits {
		st, err := a.rest.QueryOrder(px.Symbol, px.ClientID)
		if err != nil {
			metrics.RecordError("order_query", px.Symbol)
			continue
		}
		if st.Status == px.LastStatus && st.ExecutedQty == px.LastExecuted {
			continue
		}
		px.LastStatus = st.Status
		px.LastExecuted = st.ExecutedQty
		a.applyExitFill(px, st, now)
		if execflow.OrderStatus(st.Status).IsTerminal() {
			delete(a.pendingExits, clientID)
		}
	}
}

func (a *App) applyEntryFill(pe *pendingOrder, st binance.OrderStatus, now time.Time) {
	status := execflow.OrderStatus(st.Status)
	if status == execflow.StatusNew {
		return
	}

	rules, _ := a.cfg.GetSymbolRules(pe.Symbol)
	var tpTarget, secondTarget float64
	if st.AvgPrice > 0 && rules.TickSize > 0 {
		tpTarget = gateway.RoundToTick(st.AvgPrice*(1-a.cfg.Engine.TPOffsetPct), rules.TickSize)
		secondTarget = gateway.RoundToTick(st.AvgPrice*(1+a.cfg.Engine.SecondEntryOffsetPct), rules.TickSize)
	}

	ev := engine.EntryFillEvent{
		Phase:             pe.Phase,
		OrderID:           strconv.FormatInt(st.OrderID, 10),
		Status:            status,
		ExecutedQty:       st.ExecutedQty,
		HasPosition:       st.ExecutedQty > 0,
		HasOpenOrder:      !status.IsTerminal(),
		TPTarget:          tpTarget,
		SecondEntryTarget: secondTarget,
		EntryMode:         pe.Mode,
		MessageID:         pe.MessageID,
		At:                now,
	}
	var decision execflow.FillSyncDecision
	a.rt, decision = engine.SyncEntryFillFlow(a.rt, ev)
	if decision.SubmitMDD && st.AvgPrice > 0 {
		a.submitMDDStop(pe.Symbol, st.AvgPrice, pe.MessageID)
	}
	if status.IsTerminal() {
		a.pendingEntry = nil
	}
}

// submitMDDStop 二次进场全成后布防最大回撤止损，并登记轮询
func (a *App) submitMDDStop(symbol string, avgEntry float64, messageID int64) {
	rules, ok := a.cfg.GetSymbolRules(symbol)
	if !ok {
		return
	}
	clientID := engine.ExitClientOrderID("md", messageID, symbol)
	res := engine.SubmitMDDStop(symbol, avgEntry, clientID, rules, a.rt.Settings, a.transport)
	metrics.RecordOrderSubmit(symbol, "mdd_stop", string(res.Reason), res.Attempts)
	a.journalOrder(symbol, "mdd_stop", clientID, string(res.Reason), res.OK)
	if res.OK {
		a.pendingExits[clientID] = &pendingOrder{
			Symbol:    symbol,
			ClientID:  clientID,
			MessageID: messageID,
		}
	}
}

func (a *App) applyExitFill(px *pendingOrder, st binance.OrderStatus, now time.Time) {
	var openExitIDs []string
	if execflow.OrderStatus(st.Status) == execflow.StatusFilled {
		orders, err := a.rest.OpenOrders(px.Symbol)
		if err != nil {
			metrics.RecordError("open_orders_query", px.Symbol)
		}
		for _, o := range orders {
			switch gateway.OrderType(o.Type) {
			case gateway.TypeStopMarket, gateway.TypeTakeProfitMarket:
				openExitIDs = append(openExitIDs, strconv.FormatInt(o.OrderID, 10))
			}
		}
	}

	ev := engine.ExitFillEvent{
		OrderID:          strconv.FormatInt(st.OrderID, 10),
		Status:           execflow.OrderStatus(st.Status),
		ExecutedQty:      st.ExecutedQty,
		OpenExitOrderIDs: openExitIDs,
		At:               now,
	}
	var outcome engine.ExitOutcome
	a.rt, outcome = engine.HandleExitOrderUpdate(a.rt, ev, a.transport)
	if outcome.LockedNow {
		metrics.RecordError("oco_cancel_failed", px.Symbol)
		log.Error().Str("symbol", px.Symbol).Msg("OCO互撤失败，新单提交已锁定，需人工处理")
	}
}

// checkStall 离场部分成交停滞检查
func (a *App) checkStall(now time.Time) {
	if !a.rt.ExitTracker.Active || a.rt.ActiveSymbol == "" {
		return
	}
	rules, ok := a.cfg.GetSymbolRules(a.rt.ActiveSymbol)
	if !ok {
		return
	}
	amt := a.positionQty(a.rt.ActiveSymbol)
	if amt >= 0 {
		return
	}
	var res gateway.ExecuteResult
	a.rt, _, res = engine.CheckExitStall(a.rt, now, false, -amt, rules, a.transport)
	if res.Reason != "" {
		metrics.RecordOrderSubmit(a.rt.ActiveSymbol, "stall_exit", string(res.Reason), res.Attempts)
	}
}

// positionQty 交易所侧净持仓数量，空头为负
func (a *App) positionQty(symbol string) float64 {
	positions, err := a.rest.PositionRisk(symbol)
	if err != nil {
		metrics.RecordError("position_query", symbol)
		return 0
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Amt
		}
	}
	return 0
}

// executeGuardAction 执行价格守护给出的动作；交易所侧成功后复位运行时
func (a *App) executeGuardAction(dec pricesource.GuardDecision) {
	symbol := a.rt.ActiveSymbol
	switch dec.Action {
	case pricesource.ActionForceMarketExit:
		if symbol == "" {
			return
		}
		if err := a.flatten(symbol); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("安全锁强平失败，下轮重试")
			return
		}
		a.rt = engine.ResetAfterGuard(a.rt)
	case pricesource.ActionCancelAndReset:
		if symbol != "" {
			if err := a.rest.CancelAll(symbol); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("安全锁撤单失败，下轮重试")
				return
			}
		}
		a.rt = engine.ResetAfterGuard(a.rt)
		a.pendingEntry = nil
	case pricesource.ActionResetOnly:
		a.rt = engine.ResetAfterGuard(a.rt)
		a.pendingEntry = nil
	}
}

// flatten 撤掉全部挂单并以只减仓市价单平掉空头持仓
func (a *App) flatten(symbol string) error {
	if err := a.rest.CancelAll(symbol); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	qty := a.positionQty(symbol)
	if qty >= 0 {
		return nil
	}
	rules, ok := a.cfg.GetSymbolRules(symbol)
	if !ok {
		return fmt.Errorf("filter rules missing for %s", symbol)
	}
	ref, _ := pricesource.GetMarkPrice(a.rt.Prices, symbol, time.Now(), a.rt.Settings.WSStaleFallback())
	spec := gateway.CreateOrderSpec{
		Symbol:        symbol,
		Side:          gateway.SideBuy,
		Type:          gateway.TypeMarket,
		Purpose:       gateway.PurposeExit,
		Quantity:      -qty,
		RefPrice:      ref,
		ClientOrderID: fmt.Sprintf("hunter-flat-%d", time.Now().UnixMilli()),
	}
	prep := gateway.PrepareCreateOrder(spec, rules, a.rt.Settings.PositionMode)
	if !prep.OK {
		return fmt.Errorf("prepare flatten: %s", prep.Reason)
	}
	res := gateway.ExecuteWithRetry(a.transport, prep.Params, a.rt.Settings.RetryPolicy)
	if !res.OK {
		return fmt.Errorf("flatten submit: %s", res.Reason)
	}
	return nil
}

// RunRecovery 九阶段恢复协议，启动时与resume时均走这里
func (a *App) RunRecovery() recovery.Result {
	a.rt.RecoveryLocked = true
	a.rt.SignalLoopPaused = true

	symbols := a.cfg.GetAllSymbols()
	deps := recovery.Deps{
		LoadPersisted: func() (recovery.PersistedState, error) {
			return engine.LoadPersisted(a.cfg.Global.StatePath)
		},
		FetchSnapshot: func() (recovery.ExchangeSnapshot, error) {
			return a.rest.FetchSnapshot(symbols)
		},
		ExecuteReconcile: a.executeReconcile,
		ClearQueue: func() error {
			a.rt.Candidates = nil
			a.pendingEntry = nil
			return nil
		},
		PriceHealth: a.priceHealth,
	}

	res := recovery.Run(deps)
	a.rt = engine.ApplyRecoveryResult(a.rt, res)

	gates := make(map[string]bool, len(res.Gates))
	for g, ok := range res.Gates {
		gates[string(g)] = ok
	}
	metrics.RecordRecoveryGates(gates, res.Unlocked)
	return res
}

// executeReconcile 第6阶段执行器：孤儿挂单撤销，裸持仓补布防保本单
func (a *App) executeReconcile(plan recovery.ExitReconcilePlan) (recovery.ReconcileResult, error) {
	result := recovery.ReconcileResult{Success: true}
	for _, symbol := range plan.CancelSymbols {
		if err := a.rest.CancelAll(symbol); err != nil {
			result.Success = false
			result.FailureReason = fmt.Sprintf("cancel %s: %v", symbol, err)
			return result, nil
		}
		result.CanceledSymbols = append(result.CanceledSymbols, symbol)
	}

	for _, symbol := range plan.RegisterExitSymbols {
		if err := a.registerExitProtection(symbol); err != nil {
			result.Success = false
			result.FailureReason = fmt.Sprintf("register exit %s: %v", symbol, err)
			return result, nil
		}
	}
	return result, nil
}

// registerExitProtection 给无保护的持仓补一张保本条件单
func (a *App) registerExitProtection(symbol string) error {
	positions, err := a.rest.PositionRisk(symbol)
	if err != nil {
		return err
	}
	var entry float64
	for _, p := range positions {
		if p.Symbol == symbol && p.Amt < 0 {
			entry = p.EntryPrice
		}
	}
	if entry <= 0 {
		return fmt.Errorf("no short position found")
	}
	rules, ok := a.cfg.GetSymbolRules(symbol)
	if !ok {
		return fmt.Errorf("filter rules missing")
	}
	stop := gateway.RoundToTick(entry*(1-execflow.TPArmBufferPct), rules.TickSize)
	spec := gateway.CreateOrderSpec{
		Symbol:        symbol,
		Side:          gateway.SideBuy,
		Type:          gateway.TypeStopMarket,
		Purpose:       gateway.PurposeExit,
		StopPrice:     stop,
		ClosePosition: true,
		ClientOrderID: fmt.Sprintf("hunter-rec-%d", time.Now().UnixMilli()),
	}
	prep := gateway.PrepareCreateOrder(spec, rules, a.rt.Settings.PositionMode)
	if !prep.OK {
		return fmt.Errorf("prepare: %s", prep.Reason)
	}
	res := gateway.ExecuteWithRetry(a.transport, prep.Params, a.rt.Settings.RetryPolicy)
	if !res.OK {
		return fmt.Errorf("submit: %s", res.Reason)
	}
	log.Info().Str("symbol", symbol).Float64("stop", stop).Msg("恢复期补布防保本单")
	return nil
}

// priceHealth 第8阶段：全部配置交易对均可取到未过期标记价
func (a *App) priceHealth() bool {
	now := time.Now()
	for _, symbol := range a.cfg.GetAllSymbols() {
		_, reason := pricesource.GetMarkPrice(a.rt.Prices, symbol, now, a.rt.Settings.WSStaleFallback())
		if reason == pricesource.LookupUnavailable {
			return false
		}
	}
	return true
}

// PrimePrices 启动时先做一次REST取价，让恢复协议的价格健康检查有据可查
func (a *App) PrimePrices() {
	prices, err := a.rest.MarkPrices(a.cfg.GetAllSymbols())
	if err != nil {
		log.Warn().Err(err).Msg("启动取价失败，等待价格通道就绪")
		return
	}
	now := time.Now()
	for symbol, price := range prices {
		a.rt = engine.ApplyRESTPrice(a.rt, symbol, price, now)
	}
}

func (a *App) journalOrder(symbol, purpose, clientID, reason string, ok bool) {
	if a.journal == nil {
		return
	}
	if err := a.journal.RecordOrder(symbol, purpose, clientID, reason, ok); err != nil {
		log.Warn().Err(err).Msg("订单流水落库失败")
	}
}

func (a *App) journalSignal(channel string, messageID int64, symbol, reason string, accepted bool) {
	if a.journal == nil {
		return
	}
	if err := a.journal.RecordSignal(channel, messageID, symbol, reason, accepted); err != nil {
		log.Warn().Err(err).Msg("信号流水落库失败")
	}
}

func (a *App) persist() {
	if err := engine.SavePersisted(a.cfg.Global.StatePath, engine.SnapshotPersisted(a.rt)); err != nil {
		log.Error().Err(err).Str("path", a.cfg.Global.StatePath).Msg("状态快照落盘失败")
	}
}

func (a *App) publishMetrics(now time.Time) {
	for _, symbol := range a.cfg.GetAllSymbols() {
		state := "IDLE"
		if symbol == a.rt.ActiveSymbol {
			state = string(a.rt.SymbolState)
		}
		metrics.RecordSymbolState(symbol, state)
	}
	metrics.RecordAccountLocks(a.rt.Account.EntryLocked, a.rt.Account.SafetyLocked, a.rt.Account.GlobalBlocked)
	metrics.CandidateCount.Set(float64(len(a.rt.Candidates)))
	metrics.RecordPriceSourceMode(
		pricesource.Mode(a.rt.Prices, now, a.rt.Settings.WSStaleFallback()) == pricesource.ModeRESTFallback)
}
