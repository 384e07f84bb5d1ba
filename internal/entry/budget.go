package entry

import (
	"math"

	"github.com/newplayman/short-hunter/internal/trigger"
)

// BudgetReason 预算/数量计算结果代码
type BudgetReason string

const (
	BudgetOK             BudgetReason = "OK"
	BudgetInvalidBalance BudgetReason = "INVALID_BALANCE"
	BudgetInvalidBuffer  BudgetReason = "INVALID_MARGIN_BUFFER"
	BudgetNotPositive    BudgetReason = "BUDGET_NOT_POSITIVE"
	QtyInvalidTarget     BudgetReason = "INVALID_TARGET_PRICE"
	QtyNotPositive       BudgetReason = "QUANTITY_NOT_POSITIVE"
)

// firstEntryRatio 首次进场使用钱包余额的固定比例
const firstEntryRatio = 0.5

// ModeMultiplier 进场模式倍率，未识别模式按保守处理
func ModeMultiplier(mode trigger.EntryMode) float64 {
	if mode == trigger.ModeAggressive {
		return 2.0
	}
	return 1.0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FirstEntryBudget 首次进场预算 = 钱包余额 × 0.5 × 模式倍率
func FirstEntryBudget(walletBalance float64, mode trigger.EntryMode) (float64, BudgetReason) {
	if !finite(walletBalance) || walletBalance <= 0 {
		return 0, BudgetInvalidBalance
	}
	budget := walletBalance * firstEntryRatio * ModeMultiplier(mode)
	if !finite(budget) || budget <= 0 {
		return 0, BudgetNotPositive
	}
	return budget, BudgetOK
}

// SecondEntryBudget 二次进场预算 = 可用余额 × (1 − 保证金缓冲) × 模式倍率
func SecondEntryBudget(availableBalance, marginBufferPct float64, mode trigger.EntryMode) (float64, BudgetReason) {
	if !finite(availableBalance) || availableBalance <= 0 {
		return 0, BudgetInvalidBalance
	}
	if !finite(marginBufferPct) || marginBufferPct < 0 || marginBufferPct >= 1 {
		return 0, BudgetInvalidBuffer
	}
	budget := availableBalance * (1 - marginBufferPct) * ModeMultiplier(mode)
	if !finite(budget) || budget <= 0 {
		return 0, BudgetNotPositive
	}
	return budget, BudgetOK
}

// QuantityFromBudget 数量 = 预算 ÷ 目标价
func QuantityFromBudget(budget, targetPrice float64) (float64, BudgetReason) {
	if !finite(budget) || budget <= 0 {
		return 0, BudgetNotPositive
	}
	if !finite(targetPrice) || targetPrice <= 0 {
		return 0, QtyInvalidTarget
	}
	qty := budget / targetPrice
	if !finite(qty) || qty <= 0 {
		return 0, QtyNotPositive
	}
	return qty, BudgetOK
}
