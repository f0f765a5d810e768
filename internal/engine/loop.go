package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"oms-roundtrip-go/gateway"
)

// Loop 是 OMS 的单 goroutine 事件循环：同时等待操作台命令与 venue 消息，
// 每次唤醒只处理一项，引擎状态只在这个 goroutine 中修改。
type Loop struct {
	engine *Engine
	venue  gateway.LineReader
}

// NewLoop 绑定引擎与 venue 连接的读端。
func NewLoop(engine *Engine, venue gateway.LineReader) *Loop {
	return &Loop{engine: engine, venue: venue}
}

// Run 运行到以下任一情况：操作员 exit/quit 或命令源关闭（返回 nil）、
// venue 断开或发送失败（返回包装 ErrTransport 的错误）、ctx 取消。
func (l *Loop) Run(ctx context.Context, commands <-chan string) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines, errc := gateway.Pump(pumpCtx, l.venue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd, ok := <-commands:
			if !ok {
				l.engine.say("stdin closed, exiting")
				return nil
			}
			stop, err := l.engine.Execute(cmd)
			if errors.Is(err, ErrTransport) {
				return err
			}
			if stop {
				return nil
			}

		case line, ok := <-lines:
			if !ok {
				err := <-errc
				l.engine.logger.Error("venue disconnected", zap.Error(err))
				return fmt.Errorf("%w: venue disconnected: %w", ErrTransport, err)
			}
			l.engine.HandleMessage(line)
		}
	}
}
