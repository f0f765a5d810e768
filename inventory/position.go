package inventory

import "oms-roundtrip-go/order"

// Position 是仓位与已实现盈亏的只读快照。
type Position struct {
	Position    int64   `json:"position"`
	AvgCost     float64 `json:"avg_cost"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Tracker 维护单一标的的净仓位、加权平均成本与已实现盈亏。
// 只在拥有它的事件循环 goroutine 中调用，不加锁。
type Tracker struct {
	position int64
	avgCost  float64
	realized float64
}

// OnFill 按成交更新仓位。qty<=0 时忽略。
//   - 空仓：按成交价开仓
//   - 同向：加权平均成本
//   - 反向：平掉 min(qty,|pos|) 并实现盈亏，剩余部分反手开仓，成本为成交价
func (t *Tracker) OnFill(side order.Side, qty int64, price float64) {
	if qty <= 0 {
		return
	}
	sign := side.Sign()

	if t.position == 0 {
		t.position = sign * qty
		t.avgCost = price
		return
	}

	cur := abs(t.position)
	if (t.position > 0) == (sign > 0) {
		t.avgCost = (t.avgCost*float64(cur) + price*float64(qty)) / float64(cur+qty)
		t.position += sign * qty
		return
	}

	closeQty := min(qty, cur)
	if t.position > 0 {
		t.realized += (price - t.avgCost) * float64(closeQty)
	} else {
		t.realized += (t.avgCost - price) * float64(closeQty)
	}
	t.position += sign * closeQty

	if left := qty - closeQty; left > 0 {
		t.position = sign * left
		t.avgCost = price
		return
	}
	if t.position == 0 {
		t.avgCost = 0
	}
}

// Position 返回带符号的净仓位（>0 多，<0 空）。
func (t *Tracker) Position() int64 { return t.position }

// AvgCost 返回加权平均成本，空仓时为 0。
func (t *Tracker) AvgCost() float64 { return t.avgCost }

// RealizedPnL 返回累计已实现盈亏。
func (t *Tracker) RealizedPnL() float64 { return t.realized }

// Snapshot 返回当前快照。
func (t *Tracker) Snapshot() Position {
	return Position{Position: t.position, AvgCost: t.avgCost, RealizedPnL: t.realized}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
