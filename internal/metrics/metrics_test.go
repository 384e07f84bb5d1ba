package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	// 测试指标是否正确初始化
	if SymbolState == nil {
		t.Error("SymbolState metric not initialized")
	}
	if SignalCount == nil {
		t.Error("SignalCount metric not initialized")
	}
	if OrderSubmitCount == nil {
		t.Error("OrderSubmitCount metric not initialized")
	}
	if MarkPrice == nil {
		t.Error("MarkPrice metric not initialized")
	}
}

func TestRecordSymbolState(t *testing.T) {
	RecordSymbolState("BTCUSDT", "PHASE1")
	if got := testutil.ToFloat64(SymbolState.WithLabelValues("BTCUSDT")); got != 3 {
		t.Errorf("PHASE1指标值 = %v, want 3", got)
	}

	RecordSymbolState("BTCUSDT", "IDLE")
	if got := testutil.ToFloat64(SymbolState.WithLabelValues("BTCUSDT")); got != 0 {
		t.Errorf("IDLE指标值 = %v, want 0", got)
	}
}

func TestRecordAccountLocks(t *testing.T) {
	RecordAccountLocks(true, false, true)
	if got := testutil.ToFloat64(AccountLocked.WithLabelValues("entry")); got != 1 {
		t.Errorf("entry锁 = %v", got)
	}
	if got := testutil.ToFloat64(AccountLocked.WithLabelValues("safety")); got != 0 {
		t.Errorf("safety锁 = %v", got)
	}
	if got := testutil.ToFloat64(AccountLocked.WithLabelValues("global")); got != 1 {
		t.Errorf("global锁 = %v", got)
	}
}

func TestRecordSignal(t *testing.T) {
	before := testutil.ToFloat64(SignalCount.WithLabelValues("ch-lead", "ACCEPTED"))
	RecordSignal("ch-lead", "ACCEPTED")
	after := testutil.ToFloat64(SignalCount.WithLabelValues("ch-lead", "ACCEPTED"))
	if after != before+1 {
		t.Errorf("信号计数 %v → %v", before, after)
	}
}

func TestRecordOrderSubmit(t *testing.T) {
	before := testutil.ToFloat64(OrderRetryCount.WithLabelValues("ETHUSDT"))
	RecordOrderSubmit("ETHUSDT", "ENTRY", "OK", 3)
	after := testutil.ToFloat64(OrderRetryCount.WithLabelValues("ETHUSDT"))
	if after != before+2 {
		t.Errorf("3次尝试应计2次重试, %v → %v", before, after)
	}
}

func TestRecordTriggerCycle(t *testing.T) {
	before := testutil.ToFloat64(TriggerDropped)
	RecordTriggerCycle("DISPATCHED", 2)
	if got := testutil.ToFloat64(TriggerDropped); got != before+2 {
		t.Errorf("落选计数 = %v, want %v", got, before+2)
	}
}

func TestRecordRecoveryGates(t *testing.T) {
	RecordRecoveryGates(map[string]bool{"SNAPSHOT": true, "RECONCILE": false}, false)
	if got := testutil.ToFloat64(RecoveryGate.WithLabelValues("SNAPSHOT")); got != 1 {
		t.Errorf("SNAPSHOT闸门 = %v", got)
	}
	if got := testutil.ToFloat64(RecoveryUnlocked); got != 0 {
		t.Errorf("unlocked = %v", got)
	}
}

func TestConcurrentMetricsUpdate(t *testing.T) {
	done := make(chan bool)

	// 并发更新指标
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				RecordSymbolState("BTCUSDT", "MONITORING")
				RecordSignal("ch-lead", "ACCEPTED")
				RecordMarkPrice("BTCUSDT", "ws", 50000.0)
				RecordError("test", "BTCUSDT")
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestMetricsServerStart(t *testing.T) {
	// StartMetricsServer绑定随机端口验证监听路径
	port, err := StartMetricsServer(0)
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if port <= 0 {
		t.Errorf("实际端口 = %d", port)
	}
}
