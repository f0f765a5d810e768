package sim

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"oms-roundtrip-go/gateway"
)

// Conn 是会话使用的按行连接，*gateway.Conn 满足该接口。
type Conn interface {
	gateway.LineReader
	gateway.LineWriter
	Close() error
}

// Session 是 venue 的单连接事件循环：等待入站行或最早成交计划到期，
// 每次唤醒最多处理一行，然后总是重新扫描到期的成交计划。
type Session struct {
	engine  *Engine
	conn    Conn
	log     *zap.Logger
	console io.Writer
	now     func() time.Time
}

// NewSession 绑定引擎与连接。
func NewSession(engine *Engine, conn Conn, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{engine: engine, conn: conn, log: log.Named("session"), console: io.Discard, now: time.Now}
}

// WithConsole 把收发的每一行回显到 w（venue_sim: recv/sent）。
func (s *Session) WithConsole(w io.Writer) *Session {
	if w != nil {
		s.console = w
	}
	return s
}

// Run 运行到连接断开、收发失败或 ctx 取消为止，返回时连接已关闭。
// 对端正常断开时返回包装了 io.EOF 的错误。
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines, errc := gateway.Pump(pumpCtx, s.conn)

	for {
		var timer *time.Timer
		var timeout <-chan time.Time
		if due, ok := s.engine.NextDue(); ok {
			timer = time.NewTimer(max(due.Sub(s.now()), 0))
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case line, ok := <-lines:
			stopTimer(timer)
			if !ok {
				return fmt.Errorf("client disconnected: %w", <-errc)
			}
			s.log.Debug("recv", zap.String("line", line))
			fmt.Fprintf(s.console, "venue_sim: recv: %s\n", line)
			for _, out := range s.engine.Handle(line, s.now()) {
				if err := s.send(out); err != nil {
					return err
				}
			}
		case <-timeout:
		}

		for _, out := range s.engine.Due(s.now()) {
			if err := s.send(out); err != nil {
				return err
			}
		}
	}
}

func (s *Session) send(line string) error {
	if err := s.conn.WriteLine(line); err != nil {
		return fmt.Errorf("send %q: %w", strings.TrimSpace(line), err)
	}
	s.log.Debug("sent", zap.String("line", strings.TrimSpace(line)))
	fmt.Fprintf(s.console, "venue_sim: sent: %s", line)
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Serve 接受一个 OMS 连接并运行会话，会话结束即返回。console 可为空。
func Serve(ctx context.Context, ln *gateway.Listener, cfg Config, log *zap.Logger, rec Recorder, console io.Writer) error {
	if log == nil {
		log = zap.NewNop()
	}
	if console == nil {
		console = io.Discard
	}
	conn, err := ln.Accept(ctx)
	if err != nil {
		return err
	}
	log.Info("client connected", zap.String("peer", conn.RemoteAddr()))
	fmt.Fprintln(console, "venue_sim: client connected")
	return NewSession(NewEngine(cfg, log, rec), conn, log).WithConsole(console).Run(ctx)
}
