package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/binance"
	"github.com/newplayman/short-hunter/internal/config"
	"github.com/newplayman/short-hunter/internal/gateway"
)

var (
	configFile = flag.String("config", "config.yaml", "配置文件路径")
	dryRun     = flag.Bool("dry-run", false, "只打印将要执行的操作，不真正下单")
)

// 紧急拉闸工具：撤掉全部挂单并市价平掉全部持仓。
// 引擎卡死或OCO互撤失败锁单时的人工兜底通道。
func main() {
	flag.Parse()
	setupLogger()

	log.Warn().Msg("===== 紧急拉闸开始 =====")

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	rest := binance.NewClient(cfg.Global.APIKey, cfg.Global.APISecret, cfg.Global.TestNet)
	transport := rest.Transport()

	failures := 0
	for _, symCfg := range cfg.Symbols {
		symbol := symCfg.Symbol

		// 1. 撤掉该交易对全部挂单
		if *dryRun {
			log.Info().Str("symbol", symbol).Msg("[dry-run] 将撤销全部挂单")
		} else if err := rest.CancelAll(symbol); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("撤单失败")
			failures++
			continue
		} else {
			log.Info().Str("symbol", symbol).Msg("全部挂单已撤销")
		}

		// 2. 市价平掉持仓
		positions, err := rest.PositionRisk(symbol)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("查询持仓失败")
			failures++
			continue
		}
		for _, pos := range positions {
			if pos.Symbol != symbol {
				continue
			}
			qty, ok := shortFlattenQty(pos.Amt)
			if !ok {
				if pos.Amt > 0 {
					log.Warn().Str("symbol", symbol).Float64("amt", pos.Amt).
						Msg("发现多头持仓，非本引擎所建，跳过，请人工处理")
				}
				continue
			}
			side := gateway.SideBuy
			if *dryRun {
				log.Info().Str("symbol", symbol).Str("side", string(side)).
					Float64("qty", qty).Msg("[dry-run] 将市价平仓")
				continue
			}
			if err := closePosition(transport, cfg, symbol, side, qty, pos.MarkPrice); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("平仓失败")
				failures++
				continue
			}
			log.Info().Str("symbol", symbol).Float64("qty", qty).Msg("持仓已市价平掉")
		}
	}

	if failures > 0 {
		log.Error().Int("failures", failures).Msg("===== 紧急拉闸完成，存在失败项，请人工核对交易所 =====")
		os.Exit(1)
	}
	log.Warn().Msg("===== 紧急拉闸完成 =====")
}

// shortFlattenQty 本引擎只建空头仓。多头持仓不归这里管，
// hedge模式下网关固定positionSide=SHORT，对多头下SELL会被交易所拒绝。
func shortFlattenQty(amt float64) (float64, bool) {
	if amt >= 0 {
		return 0, false
	}
	return -amt, true
}

// closePosition 只减仓市价单平掉单个持仓
func closePosition(transport gateway.Transport, cfg *config.Config, symbol string, side gateway.OrderSide, qty, refPrice float64) error {
	rules, ok := cfg.GetSymbolRules(symbol)
	if !ok {
		return fmt.Errorf("交易规则未配置")
	}
	spec := gateway.CreateOrderSpec{
		Symbol:        symbol,
		Side:          side,
		Type:          gateway.TypeMarket,
		Purpose:       gateway.PurposeExit,
		Quantity:      qty,
		RefPrice:      refPrice,
		ClientOrderID: fmt.Sprintf("hunter-emg-%d", time.Now().UnixMilli()),
	}
	prep := gateway.PrepareCreateOrder(spec, rules, gateway.PositionMode(cfg.Engine.PositionMode))
	if !prep.OK {
		return fmt.Errorf("参数组装失败: %s %s", prep.Reason, prep.Detail)
	}
	res := gateway.ExecuteWithRetry(transport, prep.Params, gateway.DefaultRetryPolicy())
	if !res.OK {
		return fmt.Errorf("下单失败: %s", res.Reason)
	}
	return nil
}

func setupLogger() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
