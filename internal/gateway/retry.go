package gateway

import (
	"github.com/rs/zerolog/log"
)

// ExecuteResult 带重试的网关调用结果，History保留每次尝试的完整返回
type ExecuteResult struct {
	OK       bool
	Reason   ReasonCode
	Final    GatewayResponse
	Attempts int
	History  []GatewayResponse
}

// ExecuteWithRetry 顺序重试注入的传输层调用。成功或遇到不可重试代码立即停止。
// 请求参数在各次尝试之间绝不修改：调用方传入稳定的clientOrderId，
// 交易所侧幂等由此保证。
func ExecuteWithRetry(transport Transport, params map[string]any, policy RetryPolicy) ExecuteResult {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := ExecuteResult{History: make([]GatewayResponse, 0, maxAttempts)}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp := transport(params)
		result.History = append(result.History, resp)
		result.Attempts = attempt
		result.Final = resp

		if resp.OK {
			result.OK = true
			result.Reason = ReasonOK
			return result
		}

		if !policy.retryable(resp.Reason) {
			result.Reason = resp.Reason
			log.Debug().
				Str("reason", string(resp.Reason)).
				Int("attempt", attempt).
				Int("error_code", resp.ErrorCode).
				Msg("网关调用失败且不可重试")
			return result
		}

		log.Warn().
			Str("reason", string(resp.Reason)).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("网关调用失败，准备重试")
	}

	result.Reason = result.Final.Reason
	if result.Reason == "" || result.Reason == ReasonOK {
		result.Reason = ReasonMaxAttemptsExceeded
	}
	return result
}
