package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/binance"
	"github.com/newplayman/short-hunter/internal/config"
	"github.com/newplayman/short-hunter/internal/journal"
	"github.com/newplayman/short-hunter/internal/metrics"
	"github.com/newplayman/short-hunter/internal/pricefeed"
)

var (
	configFile = flag.String("config", "config.yaml", "配置文件路径")
	logLevel   = flag.String("log", "info", "日志级别 (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	// 设置日志
	setupLogger(*logLevel)

	log.Info().Msg("short-hunter 做空执行引擎启动中...")

	// 加载配置
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	// 单实例锁实现，防止多进程启动
	lock, err := os.OpenFile(cfg.Global.LockPath, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		log.Fatal().Err(err).Msg("创建锁文件失败")
	}
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		log.Fatal().Msg("已有一个short-hunter进程在运行")
	}
	defer func() {
		syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
		lock.Close()
		os.Remove(cfg.Global.LockPath)
	}()

	log.Info().
		Int("symbols", len(cfg.Symbols)).
		Bool("testnet", cfg.Global.TestNet).
		Str("position_mode", cfg.Engine.PositionMode).
		Msg("配置加载成功")

	// 决策流水库
	jnl, err := journal.Open(cfg.Global.JournalPath)
	if err != nil {
		log.Error().Err(err).Msg("决策流水库打开失败，流水记录停用")
		jnl = nil
	} else {
		defer jnl.Close()
	}

	// REST客户端与应用
	rest := binance.NewClient(cfg.Global.APIKey, cfg.Global.APISecret, cfg.Global.TestNet)
	app := NewApp(cfg, rest, jnl)

	// 启动Prometheus监控
	if _, err := metrics.StartMetricsServer(cfg.Global.MetricsPort); err != nil {
		log.Error().Err(err).Msg("启动监控服务器失败")
	}

	// 标记价推送通道
	wsURL := cfg.Global.WSURL
	if wsURL == "" {
		wsURL = "wss://fstream.binance.com/stream"
		if cfg.Global.TestNet {
			wsURL = "wss://stream.binancefuture.com/stream"
		}
	}
	feed := pricefeed.NewClient(pricefeed.DefaultConfig(wsURL, cfg.GetAllSymbols()), app.OnWSPrice)
	feed.SetReconnectHook(func() { metrics.WSReconnectCount.Inc() })
	feed.Start()

	// 标记价REST兜底轮询
	poller := pricefeed.NewPoller(cfg.GetRESTPollInterval(), app.FetchMarkPrices, app.OnRESTPrice)
	poller.Start()

	// 先取一轮价格再走恢复协议，价格健康闸门才有判据
	app.PrimePrices()
	res := app.RunRecovery()
	if !res.Unlocked {
		log.Warn().Str("waiting_on", string(res.WaitingOn)).
			Msg("恢复协议未通过，引擎锁定运行，可经 /control/resume 重试")
	}

	// 主循环与信号接入
	app.Start()
	StartSignalServer(app, cfg.Global.SignalPort)

	log.Info().Msg("short-hunter 启动完成，等待信号...")

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info().Msg("收到退出信号，正在关闭...")

	// 优雅关闭：先停外部事件源，再停主循环并落盘
	feed.Stop()
	poller.Stop()
	app.Stop()

	log.Info().Msg("short-hunter 已关闭")
}

// setupLogger 设置日志
func setupLogger(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
