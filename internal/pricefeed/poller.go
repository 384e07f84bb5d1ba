package pricefeed

import (
	"time"

	"github.com/rs/zerolog/log"
)

// FetchFunc 注入的REST标记价拉取，一次返回全部订阅symbol的价格
type FetchFunc func() (map[string]float64, error)

// Poller REST轮询兜底通道。与WS通道写入同一handler，
// 新鲜度裁决在价格缓存侧完成。
type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	onPrice  PriceHandler
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewPoller 创建轮询器
func NewPoller(interval time.Duration, fetch FetchFunc, onPrice PriceHandler) *Poller {
	return &Poller{
		interval: interval,
		fetch:    fetch,
		onPrice:  onPrice,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动轮询循环
func (p *Poller) Start() {
	go p.run()
}

// Stop 停止并等待退出
func (p *Poller) Stop() {
	close(p.stopChan)
	<-p.doneChan
}

func (p *Poller) run() {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	prices, err := p.fetch()
	if err != nil {
		log.Warn().Err(err).Msg("REST标记价轮询失败")
		return
	}

	now := time.Now()
	for symbol, price := range prices {
		if price <= 0 {
			continue
		}
		if p.onPrice != nil {
			p.onPrice(symbol, price, now)
		}
	}
}
