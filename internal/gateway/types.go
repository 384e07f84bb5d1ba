package gateway

// OrderSide 订单方向
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType 订单类型，与交易所REST字段取值一致
type OrderType string

const (
	TypeLimit            OrderType = "LIMIT"
	TypeMarket           OrderType = "MARKET"
	TypeStop             OrderType = "STOP"
	TypeTakeProfit       OrderType = "TAKE_PROFIT"
	TypeStopMarket       OrderType = "STOP_MARKET"
	TypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderPurpose 订单用途：进场或离场，决定reduceOnly/closePosition矩阵
type OrderPurpose string

const (
	PurposeEntry OrderPurpose = "ENTRY"
	PurposeExit  OrderPurpose = "EXIT"
)

// PositionMode 账户持仓模式
type PositionMode string

const (
	ModeHedge  PositionMode = "HEDGE"
	ModeOneWay PositionMode = "ONE_WAY"
)

// FilterRules 交易所交易规则，由调用方按symbol提供，只读
type FilterRules struct {
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MinNotional float64 // 0 表示未配置
}

func (f FilterRules) valid() bool {
	return f.TickSize > 0 && f.StepSize > 0 && f.MinQty > 0 && f.MinNotional >= 0
}

// CreateOrderSpec 下单意图。数值字段0视为未提供。
type CreateOrderSpec struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Purpose       OrderPurpose
	Quantity      float64
	Price         float64
	StopPrice     float64
	ClosePosition bool
	RefPrice      float64 // min_notional兜底参考价，price/stopPrice均缺失时使用
	ClientOrderID string
}

// PreparedRequest 已通过校验和取整的请求，Params键名与交易所REST字段一一对应
type PreparedRequest struct {
	OK       bool
	Reason   ReasonCode
	Detail   string
	Params   map[string]any
	Quantity float64 // 取整后的数量，closePosition单为0
	Price    float64 // 取整后的价格
}

// GatewayResponse 注入的传输层单次调用返回
type GatewayResponse struct {
	OK           bool
	Reason       ReasonCode
	Payload      map[string]any
	ErrorCode    int
	ErrorMessage string
}

// Transport 注入的交易所调用，下单/撤单/查询共用同一签名
type Transport func(params map[string]any) GatewayResponse

// RetryPolicy 单次调用的重试策略，不可变值
type RetryPolicy struct {
	MaxAttempts      int
	RetryableReasons []ReasonCode
}

// SingleAttempt 单次尝试策略，用于二次进场的余额刷新重试
func SingleAttempt() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, RetryableReasons: nil}
}

// DefaultRetryPolicy 默认三次尝试，网络类错误可重试
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		RetryableReasons: []ReasonCode{
			ReasonNetworkError,
			ReasonTimeout,
			ReasonRateLimited,
			ReasonServerError,
			ReasonTemporary,
		},
	}
}

func (p RetryPolicy) retryable(code ReasonCode) bool {
	for _, r := range p.RetryableReasons {
		if r == code {
			return true
		}
	}
	return false
}
