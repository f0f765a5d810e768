package order

import (
	"fmt"
	"strconv"
	"strings"
)

// Side 买卖方向。
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

// String 返回线路上使用的 BUY/SELL。
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Sign 买为 +1，卖为 -1。
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// ParseSide 解析 BUY/SELL（区分大小写）。
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("invalid side: %s", s)
	}
}

// State represents order lifecycle.
type State int

const (
	StatePendingNew State = iota
	StateAccepted
	StatePendingCancel
	StateFilled
	StateCancelled
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePendingNew:
		return "PendingNew"
	case StateAccepted:
		return "Accepted"
	case StatePendingCancel:
		return "PendingCancel"
	case StateFilled:
		return "Filled"
	case StateCancelled:
		return "Cancelled"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// NoVenueID 表示尚未收到 ACK，venue id 未设置。
const NoVenueID int64 = -1

// Order holds the client-side view of one order.
type Order struct {
	ClientID     int64
	Symbol       string
	Side         Side
	Qty          int64
	Price        float64
	VenueID      int64
	FilledQty    int64
	State        State
	RejectReason string
}

// HasVenueID 是否已经收到 venue 分配的 id。
func (o Order) HasVenueID() bool { return o.VenueID != NoVenueID }

// String 渲染成操作台上的一行订单描述。
func (o Order) String() string {
	var b strings.Builder
	b.WriteString("order ")
	b.WriteString(strconv.FormatInt(o.ClientID, 10))
	b.WriteByte(' ')
	b.WriteString(o.Symbol)
	b.WriteByte(' ')
	b.WriteString(o.Side.String())
	b.WriteString(" qty=")
	b.WriteString(strconv.FormatInt(o.Qty, 10))
	b.WriteString(" px=")
	b.WriteString(strconv.FormatFloat(o.Price, 'f', -1, 64))
	b.WriteString(" venue_id=")
	b.WriteString(strconv.FormatInt(o.VenueID, 10))
	b.WriteString(" filled=")
	b.WriteString(strconv.FormatInt(o.FilledQty, 10))
	b.WriteString(" state=")
	b.WriteString(o.State.String())
	if o.State == StateRejected {
		b.WriteString(" reason=")
		b.WriteString(o.RejectReason)
	}
	return b.String()
}
