package execflow

import (
	"github.com/newplayman/short-hunter/internal/fsm"
)

// EntryPhase 成交同步的进场腿
type EntryPhase string

const (
	PhaseFirstEntry  EntryPhase = "FIRST_ENTRY"
	PhaseSecondEntry EntryPhase = "SECOND_ENTRY"
)

// OrderStatus 交易所订单状态字符串
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal 订单是否到达终态
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusExpired
}

// FillSyncDecision 成交同步表的一行输出：下一状态与动作标记
type FillSyncDecision struct {
	Applied       bool
	NextState     fsm.SymbolState
	ActivateTP    bool // 启动TP监控
	KeepEntry     bool // 保留进场挂单
	StartSecond   bool // 启动二次进场监控
	BreakevenOnly bool // 仅保本离场
	SubmitMDD     bool // 提交MDD止损
	Reason        string
}

// SyncFill 阶段×订单状态 → 下一状态/动作 的固定表
func SyncFill(phase EntryPhase, status OrderStatus, state fsm.SymbolState, hasPosition bool) FillSyncDecision {
	switch phase {
	case PhaseFirstEntry:
		switch status {
		case StatusPartiallyFilled:
			return FillSyncDecision{
				Applied: true, NextState: fsm.StateEntryOrder,
				ActivateTP: true, KeepEntry: true,
				Reason: "FIRST_ENTRY_PARTIAL",
			}
		case StatusFilled:
			return FillSyncDecision{
				Applied: true, NextState: fsm.StatePhase1,
				ActivateTP: true, StartSecond: true,
				Reason: "FIRST_ENTRY_FILLED",
			}
		case StatusCanceled, StatusExpired:
			if !hasPosition {
				return FillSyncDecision{
					Applied: true, NextState: fsm.StateIdle,
					Reason: "FIRST_ENTRY_CANCELED_NO_POSITION",
				}
			}
		}
	case PhaseSecondEntry:
		switch status {
		case StatusPartiallyFilled:
			return FillSyncDecision{
				Applied: true, NextState: fsm.StatePhase2,
				BreakevenOnly: true,
				Reason:        "SECOND_ENTRY_PARTIAL",
			}
		case StatusFilled:
			return FillSyncDecision{
				Applied: true, NextState: fsm.StatePhase2,
				BreakevenOnly: true, SubmitMDD: true,
				Reason: "SECOND_ENTRY_FILLED",
			}
		}
	}

	return FillSyncDecision{Applied: false, NextState: state, Reason: "NO_RULE"}
}
