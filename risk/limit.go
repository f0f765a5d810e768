package risk

import (
	"errors"

	"oms-roundtrip-go/order"
)

// Reason 是风控拒单原因码，空串表示通过。
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonBadInput      Reason = "BAD_INPUT"
	ReasonMaxOrderQty   Reason = "MAX_ORDER_QTY"
	ReasonMaxNotional   Reason = "MAX_NOTIONAL"
	ReasonMaxOpenOrders Reason = "MAX_OPEN_ORDERS"
	ReasonMaxPosition   Reason = "MAX_POSITION"
)

var (
	ErrBadInput      = errors.New("bad input")
	ErrMaxOrderQty   = errors.New("max order qty exceeded")
	ErrMaxNotional   = errors.New("max notional exceeded")
	ErrMaxOpenOrders = errors.New("max open orders exceeded")
	ErrMaxPosition   = errors.New("max position exceeded")
)

// OK 是否通过。
func (r Reason) OK() bool { return r == ReasonNone }

// Err 将原因码映射为哨兵错误，通过时返回 nil。
func (r Reason) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonBadInput:
		return ErrBadInput
	case ReasonMaxOrderQty:
		return ErrMaxOrderQty
	case ReasonMaxNotional:
		return ErrMaxNotional
	case ReasonMaxOpenOrders:
		return ErrMaxOpenOrders
	case ReasonMaxPosition:
		return ErrMaxPosition
	default:
		return errors.New(string(r))
	}
}

// Limits 静态限额，构造后只读。
type Limits struct {
	MaxOrderQty    int64
	MaxNotional    float64
	MaxOpenOrders  int
	MaxAbsPosition int64
}

// DefaultLimits 返回默认限额。
func DefaultLimits() Limits {
	return Limits{
		MaxOrderQty:    100,
		MaxNotional:    50000,
		MaxOpenOrders:  50,
		MaxAbsPosition: 200,
	}
}

// OpenOrders 提供当前挂单数（已包含待检查的新订单）。
type OpenOrders interface {
	OpenOrdersCount() int
}

// PositionSource 提供当前已成交净仓位。
type PositionSource interface {
	Position() int64
}

// Check 按顺序校验，命中第一条即返回：
// BAD_INPUT -> MAX_ORDER_QTY -> MAX_NOTIONAL -> MAX_OPEN_ORDERS -> MAX_POSITION。
// 仓位预估只看已成交仓位，不计入其他挂单可能的成交。
func Check(l Limits, orders OpenOrders, pos PositionSource, side order.Side, qty int64, price float64) Reason {
	if qty <= 0 || price <= 0 {
		return ReasonBadInput
	}
	if qty > l.MaxOrderQty {
		return ReasonMaxOrderQty
	}
	if float64(qty)*price > l.MaxNotional {
		return ReasonMaxNotional
	}
	if orders != nil && orders.OpenOrdersCount() > l.MaxOpenOrders {
		return ReasonMaxOpenOrders
	}
	var cur int64
	if pos != nil {
		cur = pos.Position()
	}
	projected := cur + side.Sign()*qty
	if projected > l.MaxAbsPosition || -projected > l.MaxAbsPosition {
		return ReasonMaxPosition
	}
	return ReasonNone
}
