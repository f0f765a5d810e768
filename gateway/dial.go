package gateway

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultDialTimeout 是连接 venue 的默认超时。
const DefaultDialTimeout = 5 * time.Second

// Dial 连接 venue，超时为 0 时使用 DefaultDialTimeout。没有重连逻辑。
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if addr == "" {
		return nil, fmt.Errorf("dial: empty address")
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return NewConn(c), nil
}
