package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/engine"
	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/metrics"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// APIHandler 信号接入与控制面HTTP处理器。
// 信号长轮询transport在外部，这里只接它递来的已解析消息。
type APIHandler struct {
	app *App
}

// NewAPIHandler 构建处理器
func NewAPIHandler(app *App) *APIHandler {
	return &APIHandler{app: app}
}

// StartSignalServer 启动信号接入HTTP服务
func StartSignalServer(app *App, port int) {
	api := NewAPIHandler(app)
	mux := http.NewServeMux()
	mux.HandleFunc("/signal/leading", api.HandleLeadingSignal)
	mux.HandleFunc("/signal/risk", api.HandleRiskSignal)
	mux.HandleFunc("/control/pause", api.HandlePause)
	mux.HandleFunc("/control/resume", api.HandleResume)
	mux.HandleFunc("/control/unlock_submit", api.HandleUnlockSubmit)
	mux.HandleFunc("/status", api.HandleStatus)
	mux.HandleFunc("/journal/signals", api.HandleJournalSignals)
	mux.HandleFunc("/journal/orders", api.HandleJournalOrders)

	addr := fmt.Sprintf(":%d", port)
	go func() {
		log.Info().Str("addr", addr).Msg("信号接入服务启动")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("信号接入服务退出")
		}
	}()
}

type leadingSignalReq struct {
	ChannelID   string  `json:"channel_id"`
	MessageID   int64   `json:"message_id"`
	Symbol      string  `json:"symbol"`
	TargetPrice float64 `json:"target_price"`
	Mode        string  `json:"mode"`
	ParseOK     bool    `json:"parse_ok"`
}

type riskSignalReq struct {
	ChannelID string `json:"channel_id"`
	MessageID int64  `json:"message_id"`
	Symbol    string `json:"symbol"`
	ParseOK   bool   `json:"parse_ok"`
}

type signalResp struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleLeadingSignal POST /signal/leading 做空领航信号
func (h *APIHandler) HandleLeadingSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req leadingSignalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = h.app.cfg.Engine.LeadingChannelID
	}

	mode := trigger.EntryMode(req.Mode)
	if mode != trigger.ModeAggressive {
		mode = trigger.ModeConservative
	}
	sig := engine.LeadingSignal{
		ChannelID:   req.ChannelID,
		MessageID:   req.MessageID,
		Symbol:      req.Symbol,
		TargetPrice: req.TargetPrice,
		Mode:        mode,
		ParseOK:     req.ParseOK,
		ReceivedAt:  time.Now(),
	}

	var decision engine.SignalDecision
	ok := h.app.Call(func() {
		h.app.rt, decision = engine.HandleLeadingSignal(h.app.rt, sig, h.symbolFilter(), time.Now())
	})
	if !ok {
		http.Error(w, "engine stopped", http.StatusServiceUnavailable)
		return
	}
	metrics.RecordSignal(req.ChannelID, string(decision.Reason))
	h.app.journalSignal(req.ChannelID, req.MessageID, req.Symbol, string(decision.Reason), decision.Accepted)
	writeJSON(w, http.StatusOK, signalResp{
		Accepted: decision.Accepted,
		Reason:   string(decision.Reason),
		Detail:   decision.Detail,
	})
}

// symbolFilter 通用过滤：只接受配置过交易规则的交易对
func (h *APIHandler) symbolFilter() engine.SignalFilter {
	return func(sig engine.LeadingSignal) (bool, string) {
		if _, ok := h.app.cfg.GetSymbolRules(sig.Symbol); !ok {
			return false, "symbol未配置交易规则"
		}
		return true, ""
	}
}

// HandleRiskSignal POST /signal/risk 风控信号
func (h *APIHandler) HandleRiskSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req riskSignalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = h.app.cfg.Engine.RiskChannelID
	}

	facts := h.gatherRiskFacts(req.Symbol)
	sig := engine.RiskSignal{
		ChannelID:  req.ChannelID,
		MessageID:  req.MessageID,
		Symbol:     req.Symbol,
		ParseOK:    req.ParseOK,
		ReceivedAt: time.Now(),
	}

	var outcome engine.RiskOutcome
	ok := h.app.Call(func() {
		facts.SecondFullFilled = h.app.rt.SymbolState == fsm.StatePhase2
		h.app.rt, outcome = engine.HandleRiskSignal(h.app.rt, sig, facts, h.app.transport, time.Now())
		if outcome.Breakeven.OK && outcome.BreakevenClientID != "" {
			// 风控布防的保本单同样进入成交轮询，成交后走OCO互撤复位
			h.app.pendingExits[outcome.BreakevenClientID] = &pendingOrder{
				Symbol:    req.Symbol,
				ClientID:  outcome.BreakevenClientID,
				MessageID: req.MessageID,
			}
		}
	})
	if !ok {
		http.Error(w, "engine stopped", http.StatusServiceUnavailable)
		return
	}
	metrics.RecordSignal(req.ChannelID, string(outcome.Reason))
	h.app.journalSignal(req.ChannelID, req.MessageID, req.Symbol, string(outcome.Reason),
		outcome.Reason == engine.SignalAccepted)
	writeJSON(w, http.StatusOK, signalResp{
		Accepted: outcome.Reason == engine.SignalAccepted,
		Reason:   string(outcome.Reason),
		Detail:   string(outcome.Plan.Action),
	})
}

// gatherRiskFacts 风控决策所需的交易所侧事实（持仓、挂单）
func (h *APIHandler) gatherRiskFacts(symbol string) engine.RiskFacts {
	facts := engine.RiskFacts{}
	facts.Rules, _ = h.app.cfg.GetSymbolRules(symbol)

	positions, err := h.app.rest.PositionRisk(symbol)
	if err != nil {
		metrics.RecordError("position_query", symbol)
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Amt < 0 {
			facts.HasPosition = true
			facts.AvgEntryPrice = p.EntryPrice
			facts.PositionQty = -p.Amt
		}
	}

	orders, err := h.app.rest.OpenOrders(symbol)
	if err != nil {
		metrics.RecordError("open_orders_query", symbol)
	}
	for _, o := range orders {
		switch {
		case gateway.OrderSide(o.Side) == gateway.SideSell:
			facts.OpenEntryOrderIDs = append(facts.OpenEntryOrderIDs, strconv.FormatInt(o.OrderID, 10))
		case gateway.OrderType(o.Type) == gateway.TypeTakeProfitMarket:
			facts.HasExistingTP = true
		}
	}
	return facts
}

// HandlePause POST /control/pause 暂停信号循环（风控通道不受影响）
func (h *APIHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.app.Call(func() {
		h.app.rt.SignalLoopPaused = true
	})
	log.Info().Msg("信号循环已暂停")
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// HandleResume POST /control/resume 恢复运行，重新走完整恢复协议
func (h *APIHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var unlocked bool
	var waitingOn string
	h.app.Call(func() {
		res := h.app.RunRecovery()
		unlocked = res.Unlocked
		waitingOn = string(res.WaitingOn)
	})
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": unlocked, "waiting_on": waitingOn})
}

// HandleUnlockSubmit POST /control/unlock_submit 人工解除OCO失败后的新单锁
func (h *APIHandler) HandleUnlockSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.app.Call(func() {
		h.app.rt = engine.UnlockSubmit(h.app.rt)
	})
	log.Info().Msg("新单提交锁已人工解除")
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func journalLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	return limit
}

// HandleJournalSignals GET /journal/signals?limit=N 信号流水
func (h *APIHandler) HandleJournalSignals(w http.ResponseWriter, r *http.Request) {
	if h.app.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	recs, err := h.app.journal.RecentSignals(journalLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleJournalOrders GET /journal/orders?limit=N 订单流水
func (h *APIHandler) HandleJournalOrders(w http.ResponseWriter, r *http.Request) {
	if h.app.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	recs, err := h.app.journal.RecentOrders(journalLimit(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleStatus GET /status 运行时概览
func (h *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]any
	h.app.Call(func() {
		rt := h.app.rt
		status = map[string]any{
			"recovery_locked":    rt.RecoveryLocked,
			"signal_loop_paused": rt.SignalLoopPaused,
			"submit_locked":      rt.SubmitLocked,
			"symbol_state":       string(rt.SymbolState),
			"active_symbol":      rt.ActiveSymbol,
			"candidates":         len(rt.Candidates),
			"safety_locked":      rt.Account.SafetyLocked,
			"global_blocked":     rt.Account.GlobalBlocked,
		}
	})
	writeJSON(w, http.StatusOK, status)
}
