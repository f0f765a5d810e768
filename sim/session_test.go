package sim

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oms-roundtrip-go/gateway"
)

func startSession(t *testing.T, cfg Config) (*gateway.Conn, <-chan error, context.CancelFunc) {
	t.Helper()
	a, b := net.Pipe()
	client := gateway.NewConn(a)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSession(NewEngine(cfg, nil, nil), gateway.NewConn(b), nil).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	return client, done, cancel
}

func readLine(t *testing.T, c *gateway.Conn) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		l, err := c.ReadLine()
		ch <- result{l, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for venue line")
		return ""
	}
}

func TestSessionDeliversFillWithoutFurtherTraffic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillDelay = 20 * time.Millisecond
	client, _, _ := startSession(t, cfg)

	require.NoError(t, client.WriteLine("NEW 1001 ABC BUY 10 100"))
	assert.Equal(t, "ACK 1001 90001", readLine(t, client))

	start := time.Now()
	assert.Equal(t, "FILL 1001 90001 10 100 A", readLine(t, client))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSessionCancelBeforeFill(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillDelay = 200 * time.Millisecond
	client, _, _ := startSession(t, cfg)

	require.NoError(t, client.WriteLine("NEW 1 ABC SELL 5 50"))
	assert.Equal(t, "ACK 1 90001", readLine(t, client))
	require.NoError(t, client.WriteLine("CANCEL 1"))
	assert.Equal(t, "CANCELLED 1 90001", readLine(t, client))
	require.NoError(t, client.WriteLine("CANCEL 1"))
	assert.Equal(t, "REJECT 1 ALREADY_CANCELLED", readLine(t, client))
}

func TestSessionEndsOnDisconnect(t *testing.T) {
	client, done, _ := startSession(t, DefaultConfig())
	require.NoError(t, client.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestSessionEndsOnCancel(t *testing.T) {
	_, done, cancel := startSession(t, DefaultConfig())
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestServeAcceptsOneClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ln, err := gateway.Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.FillDelay = 5 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, cfg, nil, nil, nil) }()

	client, err := gateway.Dial(ctx, ln.Addr(), time.Second)
	require.NoError(t, err)
	require.NoError(t, client.WriteLine("NEW 7 ABC BUY 1 1.5"))
	assert.Equal(t, "ACK 7 90001", readLine(t, client))
	assert.Equal(t, "FILL 7 90001 1 1.5 A", readLine(t, client))
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-ctx.Done():
		t.Fatal("serve did not return")
	}
}
