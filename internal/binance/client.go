package binance

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/gateway"
)

// Client 可签名的 USDⓈ-M 合约 REST 客户端，HTTPClient 可注入 httptest。
type Client struct {
	BaseURL      string
	APIKey       string
	Secret       string
	HTTPClient   *http.Client
	RecvWindowMs int64
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewClient 按主网/测试网基址构建客户端。
func NewClient(apiKey, secret string, testnet bool) *Client {
	base := "https://fapi.binance.com"
	if testnet {
		base = "https://testnet.binancefuture.com"
	}
	return &Client{
		BaseURL:      base,
		APIKey:       apiKey,
		Secret:       secret,
		HTTPClient:   NewDefaultHTTPClient(),
		RecvWindowMs: 5000,
		MaxRetries:   3,
		RetryDelay:   200 * time.Millisecond,
	}
}

// NewDefaultHTTPClient 带超时的默认 HTTP 客户端。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) applyRecvWindow(params map[string]string) {
	if c != nil && c.RecvWindowMs > 0 {
		params["recvWindow"] = fmt.Sprintf("%d", c.RecvWindowMs)
	}
}

// 可覆盖的时间函数，便于测试。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// signQuery 参数按键序编码为query并计算HMAC-SHA256签名，
// timestamp未提供时补本地毫秒时间。
func signQuery(params map[string]string, secret string) (query, signature string) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	if values.Get("timestamp") == "" {
		values.Set("timestamp", strconv.FormatInt(timeNowMillis(), 10))
	}
	query = values.Encode()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signedURL(path string, params map[string]string) string {
	c.applyRecvWindow(params)
	query, sig := signQuery(params, c.Secret)
	return c.BaseURL + path + "?" + query + "&signature=" + url.QueryEscape(sig)
}

func (c *Client) sendWithRetry(method, endpoint string) (*http.Response, error) {
	maxAttempts := c.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := c.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, _ := http.NewRequest(method, endpoint, bytes.NewBuffer(nil))
		req.Header.Set("X-MBX-APIKEY", c.APIKey)
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
				resp.Body.Close()
			} else {
				return resp, nil
			}
		}
		time.Sleep(delay * time.Duration(attempt+1))
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// stringifyParams 将网关层的类型化参数转成 REST 字段值。
func stringifyParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// classifyError 将交易所错误码归类为网关结果代码。
func classifyError(status, code int) gateway.ReasonCode {
	switch code {
	case -2019:
		return gateway.ReasonInsufficientMargin
	case -2011, -2013:
		return gateway.ReasonUnknownOrder
	case -1003:
		return gateway.ReasonRateLimited
	case -1001:
		return gateway.ReasonTemporary
	case -1007:
		return gateway.ReasonTimeout
	}
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		return gateway.ReasonRateLimited
	case status >= 500:
		return gateway.ReasonServerError
	default:
		return gateway.ReasonRejected
	}
}

// Transport 返回网关层可直接注入的传输函数。
// 带 side/type 的参数走下单接口，带 orderId/origClientOrderId 的走撤单接口。
func (c *Client) Transport() gateway.Transport {
	return func(params map[string]any) gateway.GatewayResponse {
		method := http.MethodPost
		if _, isOrder := params["type"]; !isOrder {
			if _, byID := params["orderId"]; byID {
				method = http.MethodDelete
			} else if _, byClient := params["origClientOrderId"]; byClient {
				method = http.MethodDelete
			}
		}
		endpoint := c.signedURL("/fapi/v1/order", stringifyParams(params))
		resp, err := c.sendWithRetry(method, endpoint)
		if err != nil {
			reason := gateway.ReasonNetworkError
			if strings.Contains(err.Error(), "Timeout") || strings.Contains(err.Error(), "deadline") {
				reason = gateway.ReasonTimeout
			}
			return gateway.GatewayResponse{Reason: reason, ErrorMessage: err.Error()}
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			var ae apiError
			_ = json.Unmarshal(body, &ae)
			log.Warn().Int("status", resp.StatusCode).Int("code", ae.Code).
				Str("msg", ae.Msg).Msg("交易所拒绝请求")
			return gateway.GatewayResponse{
				Reason:       classifyError(resp.StatusCode, ae.Code),
				ErrorCode:    ae.Code,
				ErrorMessage: ae.Msg,
			}
		}
		payload := map[string]any{}
		_ = json.Unmarshal(body, &payload)
		return gateway.GatewayResponse{OK: true, Reason: gateway.ReasonOK, Payload: payload}
	}
}
