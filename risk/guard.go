package risk

import "oms-roundtrip-go/order"

// Guard 是下单前检查接口，OMS 引擎只依赖它。
type Guard interface {
	PreOrder(side order.Side, qty int64, price float64) Reason
}

// Gate 把静态限额与订单表、仓位来源绑定在一起。
type Gate struct {
	limits   Limits
	orders   OpenOrders
	position PositionSource
}

func NewGate(limits Limits, orders OpenOrders, position PositionSource) *Gate {
	return &Gate{limits: limits, orders: orders, position: position}
}

// Limits 返回限额副本。
func (g *Gate) Limits() Limits { return g.limits }

func (g *Gate) PreOrder(side order.Side, qty int64, price float64) Reason {
	return Check(g.limits, g.orders, g.position, side, qty, price)
}
