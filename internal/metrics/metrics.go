package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// 状态机指标
	SymbolState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_symbol_state",
			Help: "symbol状态 (0=IDLE, 1=MONITORING, 2=ENTRY_ORDER, 3=PHASE1, 4=PHASE2)",
		},
		[]string{"symbol"},
	)

	AccountLocked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_account_locked",
			Help: "账户锁定位 (entry/safety/global，1=锁定)",
		},
		[]string{"kind"},
	)

	// 信号指标
	SignalCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_signal_count_total",
			Help: "信号处理计数（按结果代码）",
		},
		[]string{"channel", "reason"},
	)

	CandidateCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hunter_candidate_count",
			Help: "当前待触发候选数",
		},
	)

	// 触发指标
	TriggerCycleCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_trigger_cycle_total",
			Help: "触发循环计数（按结果代码）",
		},
		[]string{"reason"},
	)

	TriggerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hunter_trigger_dropped_total",
			Help: "平局裁决落选候选数",
		},
	)

	// 订单指标
	OrderSubmitCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_order_submit_total",
			Help: "下单计数（按用途与结果）",
		},
		[]string{"symbol", "purpose", "reason"},
	)

	OrderRetryCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_order_retry_total",
			Help: "下单重试次数",
		},
		[]string{"symbol"},
	)

	OCOCancelFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_oco_cancel_failed_total",
			Help: "互撤失败次数（触发新单锁）",
		},
		[]string{"symbol"},
	)

	// 持仓与盈亏指标
	PositionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_position_size",
			Help: "当前空头仓位大小",
		},
		[]string{"symbol"},
	)

	PositionROI = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_position_roi_pct",
			Help: "持仓ROI百分比",
		},
		[]string{"symbol"},
	)

	// 价格源指标
	MarkPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_mark_price",
			Help: "标记价",
		},
		[]string{"symbol", "source"},
	)

	PriceSourceMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hunter_price_source_mode",
			Help: "活动价格通道 (0=WS_PRIMARY, 1=REST_FALLBACK)",
		},
	)

	PriceGuardTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_price_guard_trips_total",
			Help: "双通道失效安全锁触发次数（按动作）",
		},
		[]string{"action"},
	)

	// WebSocket流量监控
	WSBytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hunter_ws_bytes_received_total",
			Help: "WebSocket接收字节数（下行流量）",
		},
	)

	WSMessageCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_ws_message_count_total",
			Help: "WebSocket消息数量（按类型统计）",
		},
		[]string{"type"},
	)

	WSReconnectCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hunter_ws_reconnect_total",
			Help: "WebSocket重连次数",
		},
	)

	// 恢复协议指标
	RecoveryGate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hunter_recovery_gate",
			Help: "恢复闸门状态 (1=通过)",
		},
		[]string{"gate"},
	)

	RecoveryUnlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hunter_recovery_unlocked",
			Help: "引擎是否已解锁 (1=解锁)",
		},
	)

	// 系统指标
	SignalProcessing = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hunter_signal_processing_duration_seconds",
			Help:    "信号处理耗时",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"channel"},
	)

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hunter_api_latency_seconds",
			Help:    "API请求延迟",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"endpoint", "status"},
	)

	ErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_error_count_total",
			Help: "错误计数",
		},
		[]string{"type", "symbol"},
	)
)

func init() {
	// 注册所有指标
	prometheus.MustRegister(
		SymbolState,
		AccountLocked,
		SignalCount,
		CandidateCount,
		TriggerCycleCount,
		TriggerDropped,
		OrderSubmitCount,
		OrderRetryCount,
		OCOCancelFailed,
		PositionSize,
		PositionROI,
		MarkPrice,
		PriceSourceMode,
		PriceGuardTrips,
		WSBytesReceived,
		WSMessageCount,
		WSReconnectCount,
		RecoveryGate,
		RecoveryUnlocked,
		SignalProcessing,
		APILatency,
		ErrorCount,
	)
}

// StartMetricsServer 启动Prometheus监控服务器，并返回实际监听端口
func StartMetricsServer(port int) (int, error) {
	if port < 0 {
		port = 0
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s failed: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	log.Info().Int("port", actualPort).Msg("启动Prometheus监控服务器")

	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Prometheus服务器启动失败")
		}
	}()

	return actualPort, nil
}

// stateValue symbol状态到指标值
var stateValue = map[string]float64{
	"IDLE":        0,
	"MONITORING":  1,
	"ENTRY_ORDER": 2,
	"PHASE1":      3,
	"PHASE2":      4,
}

// RecordSymbolState 更新symbol状态指标
func RecordSymbolState(symbol, state string) {
	SymbolState.WithLabelValues(symbol).Set(stateValue[state])
}

// RecordAccountLocks 更新账户锁定位
func RecordAccountLocks(entryLocked, safetyLocked, globalBlocked bool) {
	AccountLocked.WithLabelValues("entry").Set(boolGauge(entryLocked))
	AccountLocked.WithLabelValues("safety").Set(boolGauge(safetyLocked))
	AccountLocked.WithLabelValues("global").Set(boolGauge(globalBlocked))
}

// RecordSignal 记录信号处理结果
func RecordSignal(channel, reason string) {
	SignalCount.WithLabelValues(channel, reason).Inc()
}

// RecordTriggerCycle 记录触发循环结果
func RecordTriggerCycle(reason string, dropped int) {
	TriggerCycleCount.WithLabelValues(reason).Inc()
	if dropped > 0 {
		TriggerDropped.Add(float64(dropped))
	}
}

// RecordOrderSubmit 记录下单结果
func RecordOrderSubmit(symbol, purpose, reason string, attempts int) {
	OrderSubmitCount.WithLabelValues(symbol, purpose, reason).Inc()
	if attempts > 1 {
		OrderRetryCount.WithLabelValues(symbol).Add(float64(attempts - 1))
	}
}

// RecordMarkPrice 更新标记价指标
func RecordMarkPrice(symbol, source string, price float64) {
	MarkPrice.WithLabelValues(symbol, source).Set(price)
}

// RecordPriceSourceMode 更新活动价格通道
func RecordPriceSourceMode(restFallback bool) {
	PriceSourceMode.Set(boolGauge(restFallback))
}

// RecordGuardTrip 记录安全锁触发
func RecordGuardTrip(action string) {
	PriceGuardTrips.WithLabelValues(action).Inc()
}

// RecordWSMessage 记录WebSocket消息
func RecordWSMessage(msgType string, bytes int) {
	WSBytesReceived.Add(float64(bytes))
	WSMessageCount.WithLabelValues(msgType).Inc()
}

// RecordRecoveryGates 更新恢复闸门指标
func RecordRecoveryGates(gates map[string]bool, unlocked bool) {
	for gate, ok := range gates {
		RecoveryGate.WithLabelValues(gate).Set(boolGauge(ok))
	}
	RecoveryUnlocked.Set(boolGauge(unlocked))
}

// RecordError 记录错误
func RecordError(errType, symbol string) {
	ErrorCount.WithLabelValues(errType, symbol).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
