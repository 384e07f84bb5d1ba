package gateway

import "testing"

func TestExecuteWithRetry_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	transport := func(params map[string]any) GatewayResponse {
		calls++
		return GatewayResponse{OK: true, Reason: ReasonOK}
	}

	res := ExecuteWithRetry(transport, map[string]any{"symbol": "BTCUSDT"}, DefaultRetryPolicy())
	if !res.OK || res.Attempts != 1 || calls != 1 {
		t.Errorf("got OK=%v attempts=%d calls=%d, want success on first try", res.OK, res.Attempts, calls)
	}
}

func TestExecuteWithRetry_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	transport := func(params map[string]any) GatewayResponse {
		calls++
		if calls < 3 {
			return GatewayResponse{OK: false, Reason: ReasonTimeout}
		}
		return GatewayResponse{OK: true, Reason: ReasonOK}
	}

	res := ExecuteWithRetry(transport, nil, DefaultRetryPolicy())
	if !res.OK || res.Attempts != 3 {
		t.Errorf("got OK=%v attempts=%d, want success on third try", res.OK, res.Attempts)
	}
	if len(res.History) != 3 {
		t.Errorf("history length = %d, want 3", len(res.History))
	}
}

func TestExecuteWithRetry_TerminalStopsImmediately(t *testing.T) {
	calls := 0
	transport := func(params map[string]any) GatewayResponse {
		calls++
		return GatewayResponse{OK: false, Reason: ReasonInsufficientMargin, ErrorCode: -2019}
	}

	res := ExecuteWithRetry(transport, nil, DefaultRetryPolicy())
	if res.OK {
		t.Error("expected failure")
	}
	if calls != 1 {
		t.Errorf("terminal reason must stop after 1 call, got %d", calls)
	}
	if res.Reason != ReasonInsufficientMargin {
		t.Errorf("reason = %s, want INSUFFICIENT_MARGIN", res.Reason)
	}
}

func TestExecuteWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	transport := func(params map[string]any) GatewayResponse {
		calls++
		return GatewayResponse{OK: false, Reason: ReasonNetworkError}
	}

	policy := RetryPolicy{MaxAttempts: 4, RetryableReasons: []ReasonCode{ReasonNetworkError}}
	res := ExecuteWithRetry(transport, nil, policy)
	if res.OK || calls != 4 || res.Attempts != 4 {
		t.Errorf("got OK=%v calls=%d attempts=%d, want 4 failed attempts", res.OK, calls, res.Attempts)
	}
	if res.Reason != ReasonNetworkError {
		t.Errorf("reason = %s, want last failure reason", res.Reason)
	}
}

func TestExecuteWithRetry_NeverMutatesParams(t *testing.T) {
	params := map[string]any{"symbol": "BTCUSDT", "newClientOrderId": "hunter-fixed-1"}
	transport := func(p map[string]any) GatewayResponse {
		if p["newClientOrderId"] != "hunter-fixed-1" {
			t.Errorf("clientOrderId changed between attempts: %v", p["newClientOrderId"])
		}
		return GatewayResponse{OK: false, Reason: ReasonTimeout}
	}

	ExecuteWithRetry(transport, params, DefaultRetryPolicy())
	if len(params) != 2 || params["newClientOrderId"] != "hunter-fixed-1" {
		t.Errorf("params mutated: %v", params)
	}
}

func TestSingleAttempt(t *testing.T) {
	calls := 0
	transport := func(p map[string]any) GatewayResponse {
		calls++
		return GatewayResponse{OK: false, Reason: ReasonNetworkError}
	}
	res := ExecuteWithRetry(transport, nil, SingleAttempt())
	if calls != 1 || res.Attempts != 1 {
		t.Errorf("single-attempt policy ran %d times", calls)
	}
}
