package gateway

// ReasonCode 网关层结果代码。决策函数不抛异常，所有结果经代码返回。
type ReasonCode string

const (
	ReasonOK ReasonCode = "OK"

	// 本地校验失败，终态不重试
	ReasonEmptySymbol        ReasonCode = "EMPTY_SYMBOL"
	ReasonInvalidFilterRules ReasonCode = "INVALID_FILTER_RULES"
	ReasonPriceRequired      ReasonCode = "PRICE_REQUIRED"
	ReasonPriceNotPositive   ReasonCode = "PRICE_NOT_POSITIVE"
	ReasonStopPriceRequired  ReasonCode = "STOP_PRICE_REQUIRED"
	ReasonQuantityRequired   ReasonCode = "QUANTITY_REQUIRED"
	ReasonQtyBelowMin        ReasonCode = "QTY_BELOW_MIN"
	ReasonNotionalBelowMin   ReasonCode = "NOTIONAL_BELOW_MIN"
	ReasonClosePositionType  ReasonCode = "CLOSE_POSITION_REQUIRES_STOP_MARKET_FAMILY"
	ReasonClosePositionEntry ReasonCode = "CLOSE_POSITION_FORBIDDEN_FOR_ENTRY"
	ReasonOrderIDRequired    ReasonCode = "ORDER_ID_REQUIRED"
	ReasonUnknownOrderType   ReasonCode = "UNKNOWN_ORDER_TYPE"

	// 传输层失败，可重试集合由RetryPolicy决定
	ReasonNetworkError ReasonCode = "NETWORK_ERROR"
	ReasonTimeout      ReasonCode = "TIMEOUT"
	ReasonRateLimited  ReasonCode = "RATE_LIMITED"
	ReasonServerError  ReasonCode = "SERVER_ERROR"
	ReasonTemporary    ReasonCode = "TEMPORARY_FAILURE"

	// 交易所业务拒绝，终态，路由到阶段专属策略
	ReasonInsufficientMargin ReasonCode = "INSUFFICIENT_MARGIN"
	ReasonUnknownOrder       ReasonCode = "UNKNOWN_ORDER"
	ReasonRejected           ReasonCode = "REJECTED"

	ReasonMaxAttemptsExceeded ReasonCode = "MAX_ATTEMPTS_EXCEEDED"
)
