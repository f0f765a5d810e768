package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// ErrBadFormat 表示请求缺少字段或字段无法解析。
var ErrBadFormat = errors.New("bad format")

// RequestKind 是 venue 侧收到的请求类型。
type RequestKind int

const (
	RequestUnknown RequestKind = iota
	RequestNew
	RequestCancel
)

// Request 是 venue 侧解析后的请求。
type Request struct {
	Kind     RequestKind
	Order    NewOrder
	ClientID int64
}

// ParseRequest 解析 OMS 发来的一行。未知类型不算错误，返回 RequestUnknown；
// NEW/CANCEL 字段不全时返回 ErrBadFormat。
func ParseRequest(line string) (Request, error) {
	kind, rest := cutToken(line)
	switch kind {
	case "NEW":
		req := Request{Kind: RequestNew}
		s := newScanner(rest)
		s.int64(&req.Order.ClientID)
		s.str(&req.Order.Symbol)
		s.str(&req.Order.Side)
		s.int64(&req.Order.Qty)
		s.float64(&req.Order.Price)
		if !s.ok {
			return req, ErrBadFormat
		}
		req.ClientID = req.Order.ClientID
		return req, nil
	case "CANCEL":
		req := Request{Kind: RequestCancel}
		s := newScanner(rest)
		s.int64(&req.ClientID)
		if !s.ok {
			return req, ErrBadFormat
		}
		return req, nil
	default:
		return Request{Kind: RequestUnknown}, nil
	}
}

// FormatAck 编码 ACK 响应。
func FormatAck(clientID, venueID int64) string {
	return "ACK " + strconv.FormatInt(clientID, 10) + " " + strconv.FormatInt(venueID, 10) + "\n"
}

// FormatFill 编码完整数量的 FILL 响应。
func FormatFill(clientID, venueID, qty int64, price float64, liquidity byte) string {
	var b strings.Builder
	b.WriteString("FILL ")
	b.WriteString(strconv.FormatInt(clientID, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(venueID, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(qty, 10))
	b.WriteByte(' ')
	b.WriteString(FormatPrice(price))
	b.WriteByte(' ')
	b.WriteByte(liquidity)
	b.WriteByte('\n')
	return b.String()
}

// FormatCancelled 编码撤单确认。
func FormatCancelled(clientID, venueID int64) string {
	return "CANCELLED " + strconv.FormatInt(clientID, 10) + " " + strconv.FormatInt(venueID, 10) + "\n"
}

// FormatReject 编码拒绝响应，reason 可以包含空格。
func FormatReject(clientID int64, reason string) string {
	return "REJECT " + strconv.FormatInt(clientID, 10) + " " + reason + "\n"
}
