package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"oms-roundtrip-go/gateway"
	"oms-roundtrip-go/internal/container"
	"oms-roundtrip-go/internal/engine"
)

// oms 是操作台客户端：从 stdin 读取命令，经风控后发往 venue，并跟踪订单、仓位与成交流水。
func main() {
	cfgPath := flag.String("config", "", "配置文件路径（留空使用内置默认值）")
	envFile := flag.String("env", ".env", "环境变量文件，不存在时忽略")
	flag.Parse()

	if err := run(*cfgPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "oms: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, envFile string) error {
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

	c, err := container.New(cfgPath, envFile, os.Stdout)
	if err != nil {
		return err
	}
	if err := c.Build(ctx); err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		c.Stop()
		return err
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify ready failed: %v", err)
	}

	commands, _ := gateway.Pump(ctx, gateway.NewLineReader(os.Stdin))
	runErr := c.Run(ctx, commands)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if stopErr := c.Stop(); stopErr != nil {
		log.Printf("stop: %v", stopErr)
	}
	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled):
		return nil
	case errors.Is(runErr, engine.ErrTransport):
		return fmt.Errorf("venue connection lost: %w", runErr)
	default:
		return runErr
	}
}
