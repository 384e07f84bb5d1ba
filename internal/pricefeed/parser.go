package pricefeed

import (
	"encoding/json"
	"errors"
	"strconv"
)

// ErrNotMarkPrice 非标记价事件，调用方静默忽略
var ErrNotMarkPrice = errors.New("ws message is not a mark price update")

// combinedMessage 对应 binance combined stream 包装
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// markPriceEvent markPriceUpdate 事件核心字段
type markPriceEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// ParseMarkPrice 解析combined stream或裸流的markPriceUpdate事件，
// 返回symbol与标记价。
func ParseMarkPrice(raw []byte) (string, float64, error) {
	payload := raw

	var combined combinedMessage
	if err := json.Unmarshal(raw, &combined); err == nil && len(combined.Data) > 0 {
		payload = combined.Data
	}

	var ev markPriceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", 0, err
	}
	if ev.EventType != "markPriceUpdate" || ev.Symbol == "" {
		return "", 0, ErrNotMarkPrice
	}

	price, err := strconv.ParseFloat(ev.MarkPrice, 64)
	if err != nil {
		return "", 0, err
	}
	if price <= 0 {
		return "", 0, ErrNotMarkPrice
	}
	return ev.Symbol, price, nil
}
