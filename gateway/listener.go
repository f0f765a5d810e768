package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotListening is returned when Accept is called on a closed listener.
var ErrNotListening = errors.New("gateway: not listening")

// Listener 在 venue 侧监听 OMS 的连接。Unix 平台上 Go 默认为监听 socket 设置 SO_REUSEADDR，
// 因此重启后可以立即复用同一端口。
type Listener struct {
	ln net.Listener
}

// Listen 在 addr 上监听 TCP，例如 127.0.0.1:9001。
func Listen(ctx context.Context, addr string) (*Listener, error) {
	if addr == "" {
		return nil, fmt.Errorf("listen: empty address")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr 返回实际监听地址（端口为 0 时可取到系统分配的端口）。
func (l *Listener) Addr() string {
	if l == nil || l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Accept 等待一个连接；ctx 取消时关闭监听并返回 ctx.Err()。
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	if l == nil || l.ln == nil {
		return nil, ErrNotListening
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.ln.Close()
		case <-done:
		}
	}()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return NewConn(c), nil
}

// Close 停止监听。
func (l *Listener) Close() error {
	if l == nil || l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
