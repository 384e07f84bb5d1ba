package pricefeed

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// PriceHandler 价格回调，WS与REST两路共用
type PriceHandler func(symbol string, price float64, at time.Time)

// Config 标记价推送客户端配置
type Config struct {
	BaseURL       string        // wss://fstream.binance.com/stream
	Symbols       []string      // 订阅的交易对
	MaxRetries    int           // 最大重试次数（0=无限）
	InitialDelay  time.Duration // 初始重连延迟
	MaxDelay      time.Duration // 最大重连延迟
	BackoffFactor float64       // 退避系数
	PingInterval  time.Duration // 心跳间隔
	PongWait      time.Duration // Pong等待时间
	WriteWait     time.Duration // 写超时
}

// DefaultConfig 默认配置
func DefaultConfig(baseURL string, symbols []string) Config {
	return Config{
		BaseURL:       baseURL,
		Symbols:       symbols,
		MaxRetries:    0, // 无限重试
		InitialDelay:  1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		PingInterval:  20 * time.Second,
		PongWait:      30 * time.Second,
		WriteWait:     10 * time.Second,
	}
}

// StreamURL 组装combined stream地址：/stream?streams=btcusdt@markPrice@1s/...
func (c Config) StreamURL() string {
	streams := make([]string, len(c.Symbols))
	for i, s := range c.Symbols {
		streams[i] = strings.ToLower(s) + "@markPrice@1s"
	}
	return fmt.Sprintf("%s?streams=%s", c.BaseURL, strings.Join(streams, "/"))
}

// Client 标记价WS客户端，断线按指数退避自动重连
type Client struct {
	mu sync.RWMutex

	config    Config
	conn      *websocket.Conn
	connected bool
	stopChan  chan struct{}
	doneChan  chan struct{}

	onPrice     PriceHandler
	onReconnect func()

	totalReconnects int
	lastConnectTime time.Time
}

// NewClient 创建客户端
func NewClient(config Config, onPrice PriceHandler) *Client {
	return &Client{
		config:   config,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		onPrice:  onPrice,
	}
}

// SetReconnectHook 重连计数回调（指标用）
func (c *Client) SetReconnectHook(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = hook
}

// Start 启动连接循环
func (c *Client) Start() {
	go c.run()
}

// Stop 停止并等待退出
func (c *Client) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats 连接统计
type Stats struct {
	Connected       bool
	TotalReconnects int
	LastConnectTime time.Time
}

// GetStats 获取统计信息
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Connected:       c.connected,
		TotalReconnects: c.totalReconnects,
		LastConnectTime: c.lastConnectTime,
	}
}

// run 主循环：连接 → 读 → 断开 → 退避重连
func (c *Client) run() {
	defer close(c.doneChan)

	delay := c.config.InitialDelay
	retries := 0

	for {
		if err := c.connect(); err != nil {
			log.Error().Err(err).Str("url", c.config.BaseURL).Msg("标记价WS连接失败")

			if c.config.MaxRetries > 0 && retries >= c.config.MaxRetries {
				log.Error().Int("max_retries", c.config.MaxRetries).Msg("标记价WS重试耗尽，放弃")
				return
			}
			retries++

			select {
			case <-c.stopChan:
				return
			case <-time.After(delay):
				delay = nextDelay(delay, c.config.BackoffFactor, c.config.MaxDelay)
				continue
			}
		}

		retries = 0
		delay = c.config.InitialDelay

		c.mu.Lock()
		c.connected = true
		c.lastConnectTime = time.Now()
		c.mu.Unlock()

		log.Info().Int("symbols", len(c.config.Symbols)).Msg("标记价WS已连接")

		err := c.readLoop()

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		select {
		case <-c.stopChan:
			c.closeConn()
			return
		default:
		}

		log.Warn().Err(err).Dur("delay", delay).Msg("标记价WS断开，等待重连")
		select {
		case <-c.stopChan:
			c.closeConn()
			return
		case <-time.After(delay):
		}

		c.closeConn()
		delay = nextDelay(delay, c.config.BackoffFactor, c.config.MaxDelay)
	}
}

func (c *Client) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.config.StreamURL(), nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.totalReconnects++
	hook := c.onReconnect
	c.mu.Unlock()

	if hook != nil {
		hook()
	}

	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	go c.heartbeatLoop()
	return nil
}

func (c *Client) readLoop() error {
	conn := c.getConn()
	if conn == nil {
		return nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		symbol, price, perr := ParseMarkPrice(message)
		if perr != nil {
			// 非标记价事件静默忽略
			continue
		}
		if c.onPrice != nil {
			c.onPrice(symbol, price, time.Now())
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			conn := c.getConn()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Msg("标记价WS心跳失败")
				_ = conn.Close()
				return
			}
		}
	}
}

func nextDelay(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}

func (c *Client) getConn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
