package binance

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/recovery"
)

// Balance USDT 资产余额。
type Balance struct {
	Wallet    float64
	Available float64
}

// USDTBalance 调用 /fapi/v2/balance 取 USDT 钱包与可用余额。
func (c *Client) USDTBalance() (Balance, error) {
	endpoint := c.signedURL("/fapi/v2/balance", map[string]string{})
	resp, err := c.sendWithRetry(http.MethodGet, endpoint)
	if err != nil {
		return Balance{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Balance{}, fmt.Errorf("balance status %d", resp.StatusCode)
	}
	var raw []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Balance{}, err
	}
	for _, r := range raw {
		if r.Asset != "USDT" {
			continue
		}
		wallet, err := strconv.ParseFloat(r.Balance, 64)
		if err != nil {
			return Balance{}, fmt.Errorf("parse balance: %w", err)
		}
		avail, err := strconv.ParseFloat(r.AvailableBalance, 64)
		if err != nil {
			return Balance{}, fmt.Errorf("parse available: %w", err)
		}
		return Balance{Wallet: wallet, Available: avail}, nil
	}
	return Balance{}, fmt.Errorf("USDT balance not found")
}

// OpenOrder /fapi/v1/openOrders 返回的挂单。
type OpenOrder struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Side          string
	Type          string
	OrigQty       float64
	Price         float64
	ExecutedQty   float64
}

// OpenOrders 查询挂单，symbol 为空时返回全部。
func (c *Client) OpenOrders(symbol string) ([]OpenOrder, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	endpoint := c.signedURL("/fapi/v1/openOrders", params)
	resp, err := c.sendWithRetry(http.MethodGet, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("open orders status %d", resp.StatusCode)
	}
	var raw []struct {
		Symbol        string `json:"symbol"`
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		OrigQty       string `json:"origQty"`
		Price         string `json:"price"`
		ExecutedQty   string `json:"executedQty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]OpenOrder, 0, len(raw))
	for _, r := range raw {
		qty, _ := strconv.ParseFloat(r.OrigQty, 64)
		price, _ := strconv.ParseFloat(r.Price, 64)
		executed, _ := strconv.ParseFloat(r.ExecutedQty, 64)
		out = append(out, OpenOrder{
			Symbol:        r.Symbol,
			OrderID:       r.OrderID,
			ClientOrderID: r.ClientOrderID,
			Side:          r.Side,
			Type:          r.Type,
			OrigQty:       qty,
			Price:         price,
			ExecutedQty:   executed,
		})
	}
	return out, nil
}

// Position /fapi/v2/positionRisk 返回的持仓。
type Position struct {
	Symbol     string
	Amt        float64
	EntryPrice float64
	MarkPrice  float64
}

// PositionRisk 查询持仓，symbol 为空时返回全部。
func (c *Client) PositionRisk(symbol string) ([]Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	endpoint := c.signedURL("/fapi/v2/positionRisk", params)
	resp, err := c.sendWithRetry(http.MethodGet, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("position risk status %d", resp.StatusCode)
	}
	var raw []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		MarkPrice   string `json:"markPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(raw))
	for _, r := range raw {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		out = append(out, Position{Symbol: r.Symbol, Amt: amt, EntryPrice: entry, MarkPrice: mark})
	}
	return out, nil
}

// MarkPrices 调用 /fapi/v1/premiumIndex 批量取标记价格，供 REST 兜底轮询使用。
func (c *Client) MarkPrices(symbols []string) (map[string]float64, error) {
	resp, err := c.sendWithRetry(http.MethodGet, c.BaseURL+"/fapi/v1/premiumIndex")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("premium index status %d", resp.StatusCode)
	}
	var raw []struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}
	out := make(map[string]float64, len(symbols))
	for _, r := range raw {
		if !wanted[r.Symbol] {
			continue
		}
		price, err := strconv.ParseFloat(r.MarkPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		out[r.Symbol] = price
	}
	return out, nil
}

// OrderStatus /fapi/v1/order 查询返回的订单状态。
type OrderStatus struct {
	OrderID     int64
	Status      string
	ExecutedQty float64
	AvgPrice    float64
}

// QueryOrder 按客户端订单号查询订单状态，供成交轮询使用。
func (c *Client) QueryOrder(symbol, clientOrderID string) (OrderStatus, error) {
	params := map[string]string{"symbol": symbol, "origClientOrderId": clientOrderID}
	endpoint := c.signedURL("/fapi/v1/order", params)
	resp, err := c.sendWithRetry(http.MethodGet, endpoint)
	if err != nil {
		return OrderStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return OrderStatus{}, fmt.Errorf("query order status %d", resp.StatusCode)
	}
	var raw struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return OrderStatus{}, err
	}
	executed, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	return OrderStatus{OrderID: raw.OrderID, Status: raw.Status, ExecutedQty: executed, AvgPrice: avg}, nil
}

// CancelAll 撤销指定symbol的全部挂单。
func (c *Client) CancelAll(symbol string) error {
	endpoint := c.signedURL("/fapi/v1/allOpenOrders", map[string]string{"symbol": symbol})
	resp, err := c.sendWithRetry(http.MethodDelete, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cancel all status %d", resp.StatusCode)
	}
	return nil
}

// PositionModeOneWay 查询账户持仓模式是否为单向。
func (c *Client) PositionModeOneWay() (bool, error) {
	endpoint := c.signedURL("/fapi/v1/positionSide/dual", map[string]string{})
	resp, err := c.sendWithRetry(http.MethodGet, endpoint)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("position mode status %d", resp.StatusCode)
	}
	var raw struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return false, err
	}
	return !raw.DualSidePosition, nil
}

// FetchSnapshot 拉取恢复协议所需的交易所快照：全部挂单、非零持仓与持仓模式。
func (c *Client) FetchSnapshot(symbols []string) (recovery.ExchangeSnapshot, error) {
	snap := recovery.ExchangeSnapshot{}
	oneWay, err := c.PositionModeOneWay()
	if err != nil {
		snap.Reason = "position mode fetch failed: " + err.Error()
		return snap, err
	}
	mode := gateway.ModeHedge
	if oneWay {
		mode = gateway.ModeOneWay
	}
	orders, err := c.OpenOrders("")
	if err != nil {
		snap.Reason = "open orders fetch failed: " + err.Error()
		return snap, err
	}
	positions, err := c.PositionRisk("")
	if err != nil {
		snap.Reason = "position risk fetch failed: " + err.Error()
		return snap, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}
	for _, o := range orders {
		if len(wanted) > 0 && !wanted[o.Symbol] {
			continue
		}
		snap.OpenOrders = append(snap.OpenOrders, recovery.SnapshotOrder{
			Symbol:        o.Symbol,
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Type:          gateway.OrderType(o.Type),
			Side:          gateway.OrderSide(o.Side),
			Quantity:      o.OrigQty,
			Price:         o.Price,
		})
	}
	for _, p := range positions {
		if len(wanted) > 0 && !wanted[p.Symbol] {
			continue
		}
		if math.Abs(p.Amt) < 1e-12 {
			continue
		}
		snap.Positions = append(snap.Positions, recovery.SnapshotPosition{
			Symbol:     p.Symbol,
			Size:       p.Amt,
			EntryPrice: p.EntryPrice,
		})
	}
	snap.OK = true
	snap.OpenOrderCount = len(snap.OpenOrders)
	snap.HasAnyPosition = len(snap.Positions) > 0
	snap.PositionMode = mode
	return snap, nil
}

// ExchangeRules /fapi/v1/exchangeInfo 中提取的交易规则，用于启动时核对本地配置。
func (c *Client) ExchangeRules(symbols []string) (map[string]gateway.FilterRules, error) {
	endpoint := c.BaseURL + "/fapi/v1/exchangeInfo"
	if len(symbols) == 1 {
		endpoint += "?symbol=" + url.QueryEscape(symbols[0])
	}
	resp, err := c.sendWithRetry(http.MethodGet, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("exchange info status %d", resp.StatusCode)
	}
	var raw struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				TickSize    string `json:"tickSize"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(s)] = true
	}
	out := make(map[string]gateway.FilterRules, len(symbols))
	for _, s := range raw.Symbols {
		if len(wanted) > 0 && !wanted[s.Symbol] {
			continue
		}
		var rules gateway.FilterRules
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				rules.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "LOT_SIZE":
				rules.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				rules.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "MIN_NOTIONAL":
				rules.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		out[s.Symbol] = rules
	}
	return out, nil
}
