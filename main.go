package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dnsSteer/internal/admin"
	"dnsSteer/internal/config"
	"dnsSteer/internal/metrics"
	"dnsSteer/internal/replay"
	"dnsSteer/internal/steer"
	"dnsSteer/internal/utils"
	"dnsSteer/internal/warmup"
)

func main() {
	configPath := flag.String("c", config.DefaultConfigPath, "Path to config file")
	initFiles := flag.Bool("init", false, "Create default config and list files, then exit")
	replayIn := flag.String("replay", "", "Replay a pcap capture through the engine")
	replayOut := flag.String("out", "", "Write rewritten packets of -replay to this pcap file")
	flag.Parse()

	if *initFiles {
		if err := initialize(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "❌ 初始化失败: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	logger := utils.NewLogger(cfg.LogLevel)

	if *replayIn != "" {
		if err := runReplay(cfg, logger, *replayIn, *replayOut); err != nil {
			logger.Fatal("回放失败: %v", err)
		}
		return
	}

	collector := metrics.NewCollector()
	collector.Register()

	svc, err := steer.New(cfg, logger, collector, nil)
	if err != nil {
		logger.Fatal("启动失败: %v", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go svc.RunBackgroundTasks(ctx)

	var server *admin.Server
	if cfg.AdminPort > 0 {
		server = admin.NewServer(cfg.AdminPort, svc.AdminDeps(), logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("%v", err)
				stop()
			}
		}()
	}

	logger.Info("分流引擎已就绪")
	<-ctx.Done()
	logger.Info("收到退出信号，正在关闭")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("管理端关闭失败: %v", err)
		}
	}
	svc.LogStats()
}

func initialize(configPath string) error {
	if err := utils.CreateConfigFiles(configPath); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return utils.InitResourceFiles(utils.ResourceFiles{
		DomainList: cfg.DomainListFile,
		AllowList:  cfg.AllowListFile,
		DenyList:   cfg.DenyListFile,
		Geosite:    cfg.GeositeFile,
		GeositeURL: cfg.GeositeURL,
	})
}

func runReplay(cfg *config.Config, logger *utils.Logger, in, out string) error {
	clock := &replay.CaptureClock{}
	svc, err := steer.New(cfg, logger, nil, warmup.Clock(clock.Now))
	if err != nil {
		return err
	}
	defer svc.Close()

	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer src.Close()

	var dst *os.File
	if out != "" {
		dst, err = os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer dst.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res replay.Result
	if dst != nil {
		res, err = replay.Run(ctx, src, dst, svc.Engine(), clock, logger)
	} else {
		res, err = replay.Run(ctx, src, nil, svc.Engine(), clock, logger)
	}
	if err != nil {
		return err
	}
	logger.Info("DNS 改写 %d, 回程还原 %d, 异常 %d", res.Engine.Redirects, res.Engine.Restores, res.Engine.Malformed)
	svc.LogStats()
	return nil
}
