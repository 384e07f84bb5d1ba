package execflow

import "math"

// PnLBranch 盈亏分支
type PnLBranch string

const (
	PnLNegative    PnLBranch = "NEGATIVE"
	PnLZero        PnLBranch = "ZERO"
	PnLPositive    PnLBranch = "POSITIVE"
	PnLUnavailable PnLBranch = "UNAVAILABLE"
)

// PnLResult ROI计算结果
type PnLResult struct {
	ROIPct float64
	Branch PnLBranch
}

// EvaluatePnL 空头持仓ROI%：(开仓均价 − 标记价) / 开仓均价 × 100
func EvaluatePnL(avgEntry, mark float64) PnLResult {
	if !(avgEntry > 0) || !(mark > 0) ||
		math.IsNaN(avgEntry) || math.IsInf(avgEntry, 0) ||
		math.IsNaN(mark) || math.IsInf(mark, 0) {
		return PnLResult{Branch: PnLUnavailable}
	}

	roi := (avgEntry - mark) / avgEntry * 100

	res := PnLResult{ROIPct: roi}
	switch {
	case roi < 0:
		res.Branch = PnLNegative
	case roi == 0:
		res.Branch = PnLZero
	default:
		res.Branch = PnLPositive
	}
	return res
}
