package protocol

import (
	"strconv"
	"strings"
)

// Kind 入站消息类型（venue -> OMS）。
type Kind int

const (
	KindUnknown Kind = iota
	KindAck
	KindFill
	KindCancelled
	KindReject
)

// String 返回消息类型在线路上的关键字。
func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindFill:
		return "FILL"
	case KindCancelled:
		return "CANCELLED"
	case KindReject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// DefaultLiquidity 是 FILL 缺少流动性标记时的占位值。
const DefaultLiquidity byte = '?'

// Message 是解析后的入站消息。缺失字段保持零值，调用方需自行检查合理性。
type Message struct {
	Kind      Kind
	ClientID  int64
	VenueID   int64
	Qty       int64
	Price     float64
	Liquidity byte
	Reason    string
	Raw       string
}

// NewOrder 描述一条出站下单请求。
type NewOrder struct {
	ClientID int64
	Symbol   string
	Side     string
	Qty      int64
	Price    float64
}

// FormatNew 编码 NEW 请求，结尾带换行。
func FormatNew(o NewOrder) string {
	var b strings.Builder
	b.WriteString("NEW ")
	b.WriteString(strconv.FormatInt(o.ClientID, 10))
	b.WriteByte(' ')
	b.WriteString(o.Symbol)
	b.WriteByte(' ')
	b.WriteString(o.Side)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(o.Qty, 10))
	b.WriteByte(' ')
	b.WriteString(FormatPrice(o.Price))
	b.WriteByte('\n')
	return b.String()
}

// FormatCancel 编码 CANCEL 请求。
func FormatCancel(clientID int64) string {
	return "CANCEL " + strconv.FormatInt(clientID, 10) + "\n"
}

// FormatPrice 以最短可往返的十进制形式输出价格（100、101.25）。
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// Parse 解码一行 venue 响应。无法识别的首个 token 得到 KindUnknown，原始行保存在 Raw。
func Parse(line string) Message {
	m := Message{Raw: line}
	kind, rest := cutToken(line)
	switch kind {
	case "ACK":
		m.Kind = KindAck
		s := newScanner(rest)
		s.int64(&m.ClientID)
		s.int64(&m.VenueID)
	case "FILL":
		m.Kind = KindFill
		m.Liquidity = DefaultLiquidity
		s := newScanner(rest)
		s.int64(&m.ClientID)
		s.int64(&m.VenueID)
		s.int64(&m.Qty)
		s.float64(&m.Price)
		s.char(&m.Liquidity)
	case "CANCELLED":
		m.Kind = KindCancelled
		s := newScanner(rest)
		s.int64(&m.ClientID)
		s.int64(&m.VenueID)
	case "REJECT":
		m.Kind = KindReject
		idTok, reason := cutToken(rest)
		id, err := strconv.ParseInt(idTok, 10, 64)
		if err != nil {
			return m
		}
		m.ClientID = id
		// reason 为剩余部分，只去掉一个前导空格
		m.Reason = strings.TrimPrefix(reason, " ")
	}
	return m
}

// cutToken 跳过前导空白后切出第一个 token，rest 保留其后的原始内容。
func cutToken(s string) (tok, rest string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

// scanner 依次读取字段，遇到第一个缺失或无法解析的字段后停止，之后的字段保持零值。
type scanner struct {
	toks []string
	pos  int
	ok   bool
}

func newScanner(s string) *scanner {
	return &scanner{toks: strings.Fields(s), ok: true}
}

func (s *scanner) next() (string, bool) {
	if !s.ok || s.pos >= len(s.toks) {
		s.ok = false
		return "", false
	}
	tok := s.toks[s.pos]
	s.pos++
	return tok, true
}

func (s *scanner) int64(dst *int64) {
	tok, ok := s.next()
	if !ok {
		return
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		s.ok = false
		return
	}
	*dst = v
}

func (s *scanner) float64(dst *float64) {
	tok, ok := s.next()
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		s.ok = false
		return
	}
	*dst = v
}

func (s *scanner) str(dst *string) {
	if tok, ok := s.next(); ok {
		*dst = tok
	}
}

func (s *scanner) char(dst *byte) {
	if tok, ok := s.next(); ok {
		*dst = tok[0]
	}
}
