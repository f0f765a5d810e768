package engine

import (
	"time"

	"oms-roundtrip-go/inventory"
	"oms-roundtrip-go/ledger"
	"oms-roundtrip-go/order"
	"oms-roundtrip-go/risk"
)

// OrderView 是订单的 JSON 视图。
type OrderView struct {
	ClientID     int64   `json:"client_id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Qty          int64   `json:"qty"`
	Price        float64 `json:"price"`
	VenueID      int64   `json:"venue_id"`
	FilledQty    int64   `json:"filled_qty"`
	State        string  `json:"state"`
	RejectReason string  `json:"reject_reason,omitempty"`
}

func viewOf(o order.Order) OrderView {
	return OrderView{
		ClientID:     o.ClientID,
		Symbol:       o.Symbol,
		Side:         o.Side.String(),
		Qty:          o.Qty,
		Price:        o.Price,
		VenueID:      o.VenueID,
		FilledQty:    o.FilledQty,
		State:        o.State.String(),
		RejectReason: o.RejectReason,
	}
}

// LimitsView 风控限额的 JSON 视图
type LimitsView struct {
	MaxOrderQty    int64   `json:"max_order_qty"`
	MaxNotional    float64 `json:"max_notional"`
	MaxOpenOrders  int     `json:"max_open_orders"`
	MaxAbsPosition int64   `json:"max_abs_position"`
}

func limitsView(l risk.Limits) LimitsView {
	return LimitsView{
		MaxOrderQty:    l.MaxOrderQty,
		MaxNotional:    l.MaxNotional,
		MaxOpenOrders:  l.MaxOpenOrders,
		MaxAbsPosition: l.MaxAbsPosition,
	}
}

// Snapshot 是引擎状态的不可变快照。事件循环在每次处理后整体替换，
// HTTP 等其他 goroutine 只读取快照，从不触碰循环内部的状态。
type Snapshot struct {
	Symbol     string             `json:"symbol"`
	Position   inventory.Position `json:"position"`
	OpenOrders int                `json:"open_orders"`
	Limits     LimitsView         `json:"limits"`
	Orders     []OrderView        `json:"orders"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Order 按 client id 查找快照中的订单。
func (s *Snapshot) Order(clientID int64) (OrderView, bool) {
	for _, o := range s.Orders {
		if o.ClientID == clientID {
			return o, true
		}
	}
	return OrderView{}, false
}

// 事件类型
const (
	EventOrder  = "order"
	EventFill   = "fill"
	EventReject = "reject"
)

// Event 是推送给实时订阅者的单条事件。
type Event struct {
	Type     string              `json:"type"`
	TsMicros int64               `json:"ts_us"`
	Order    *OrderView          `json:"order,omitempty"`
	Fill     *ledger.Record      `json:"fill,omitempty"`
	Position *inventory.Position `json:"position,omitempty"`
	Source   string              `json:"source,omitempty"`
	Reason   string              `json:"reason,omitempty"`
}

// Publisher 接收引擎事件，实现方必须不阻塞事件循环。
type Publisher interface {
	Publish(ev Event)
}
