package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"oms-roundtrip-go/config"
	"oms-roundtrip-go/gateway"
	"oms-roundtrip-go/infrastructure/logger"
	"oms-roundtrip-go/infrastructure/monitor"
	"oms-roundtrip-go/internal/container"
	"oms-roundtrip-go/sim"
)

// venue 模拟器：接受一个 OMS 连接，ACK 每笔新单并在固定延迟后整单成交。
// 客户端断开后进程退出。
func main() {
	cfgPath := flag.String("config", "", "配置文件路径（留空使用内置默认值）")
	envFile := flag.String("env", ".env", "环境变量文件，不存在时忽略")
	listen := flag.String("listen", "", "监听地址，覆盖配置中的 venue.listenAddr")
	flag.Parse()

	if err := run(*cfgPath, *envFile, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "venue_sim: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, envFile, listen string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgPath, envFile)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if listen != "" {
		cfg.Venue.ListenAddr = listen
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer lg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	mon := monitor.New(monitor.Config{Namespace: "roundtrip", Subsystem: "venue"})
	lifecycle := container.NewLifecycleManager()
	if cfg.Venue.MetricsAddr != "" {
		lifecycle.Register(container.NewHTTPComponent("venue_metrics", cfg.Venue.MetricsAddr, mon.Handler(), lg.Logger))
	}
	if err := lifecycle.StartAll(ctx); err != nil {
		return err
	}
	defer lifecycle.StopAll()

	ln, err := gateway.Listen(ctx, cfg.Venue.ListenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()
	fmt.Printf("venue_sim: listening on %s\n", ln.Addr())
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify ready failed: %v", err)
	}

	simCfg := sim.Config{
		FillDelay:    cfg.Venue.FillDelay,
		FirstVenueID: cfg.Venue.FirstVenueID,
		Liquidity:    cfg.Venue.Liquidity[0],
	}
	err = sim.Serve(ctx, ln, simCfg, lg.Logger, mon, os.Stdout)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	switch {
	case errors.Is(err, io.EOF):
		fmt.Println("venue_sim: client disconnected")
		return nil
	case errors.Is(err, context.Canceled):
		lg.Info("venue stopped by signal")
		return nil
	case err != nil:
		lg.Error("venue session failed", zap.Error(err))
		return err
	}
	return nil
}
