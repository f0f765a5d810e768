package gateway

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
)

// ErrClosed 表示连接已被本端关闭。
var ErrClosed = errors.New("gateway: connection closed")

// LineReader 按行读取，返回的行不含行尾的 \r\n。
type LineReader interface {
	ReadLine() (string, error)
}

// LineWriter 写出一整行。
type LineWriter interface {
	WriteLine(line string) error
}

// Conn 是一条点对点的按行收发连接（OMS <-> venue）。
// 读写可以分别在两个 goroutine 中进行，但各自只能有一个调用方。
type Conn struct {
	conn      net.Conn
	reader    *lineReader
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn 包装已建立的 net.Conn。
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		reader: &lineReader{r: bufio.NewReader(c)},
		closed: make(chan struct{}),
	}
}

// ReadLine 阻塞读取下一行。对端关闭时返回 io.EOF。
func (c *Conn) ReadLine() (string, error) {
	line, err := c.reader.ReadLine()
	if err != nil && c.isClosed() {
		return "", ErrClosed
	}
	return line, err
}

// WriteLine 写出一行，缺少换行时自动补上。
func (c *Conn) WriteLine(line string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	// net.Conn.Write 要么写完要么返回错误
	_, err := io.WriteString(c.conn, line)
	return err
}

// RemoteAddr 返回对端地址。
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close 关闭连接，可重复调用。
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// NewLineReader 把任意 io.Reader（例如 stdin）包装成 LineReader。
func NewLineReader(r io.Reader) LineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

type lineReader struct {
	r *bufio.Reader
}

func (l *lineReader) ReadLine() (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil {
		// 没有换行结尾的残行视为不完整，直接丢弃
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Pump 在后台 goroutine 中逐行读取并送入 lines。lines 无缓冲，
// 读取方每取走一行才会读下一行。读取失败时错误写入 errc 且 lines 被关闭；
// ctx 取消后 goroutine 在下一次投递时退出。
func Pump(ctx context.Context, r LineReader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		for {
			line, err := r.ReadLine()
			if err != nil {
				errc <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, errc
}
