package order

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

var (
	ErrUnknownOrder     = errors.New("unknown order")
	ErrCancelNotAllowed = errors.New("cancel not allowed")
	ErrCancelPending    = errors.New("cancel already pending")
)

// 协议异常类型，交给 Observer 统计。
const (
	AnomalyUnknownOrder      = "unknown_order"
	AnomalyAfterTerminal     = "after_terminal"
	AnomalyVenueIDMismatch   = "venue_id_mismatch"
	AnomalyIllegalTransition = "illegal_transition"
	AnomalyBadFill           = "bad_fill"
)

// Observer 接收订单变化与协议异常通知，可为空。
type Observer interface {
	OrderUpdated(o Order)
	Anomaly(kind string, clientID int64)
}

// Store 是客户端订单的权威状态表，以 client id 为键。
// 只允许在拥有它的事件循环 goroutine 中调用。
type Store struct {
	orders map[int64]*Order
	sm     *StateMachine
	log    *zap.Logger
	obs    Observer
}

// NewStore 创建订单表；log 为空时不输出告警。
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		orders: make(map[int64]*Order),
		sm:     NewStateMachine(),
		log:    log.Named("orders"),
	}
}

// SetObserver 注册变化通知。
func (s *Store) SetObserver(obs Observer) { s.obs = obs }

// StateMachine 返回内部使用的状态机。
func (s *Store) StateMachine() *StateMachine { return s.sm }

// Submit 以 PendingNew 登记新订单。client id 由调用方保证唯一，重复时直接覆盖。
func (s *Store) Submit(clientID int64, symbol string, side Side, qty int64, price float64) Order {
	o := &Order{
		ClientID: clientID,
		Symbol:   symbol,
		Side:     side,
		Qty:      qty,
		Price:    price,
		VenueID:  NoVenueID,
		State:    StatePendingNew,
	}
	s.orders[clientID] = o
	s.notify(o)
	return *o
}

// OnAck 处理 venue 的确认。已在撤单中的订单保持 PendingCancel，终态订单忽略迟到的 ACK。
func (s *Store) OnAck(clientID, venueID int64) {
	o, ok := s.lookup("ack", clientID)
	if !ok {
		return
	}
	if s.sm.IsFinalState(o.State) {
		if o.State != StateRejected {
			s.log.Warn("ack after terminal state dropped",
				zap.Int64("client_id", clientID),
				zap.Stringer("state", o.State))
			s.anomaly(AnomalyAfterTerminal, clientID)
		}
		return
	}
	o.VenueID = venueID
	if o.State == StatePendingCancel {
		s.notify(o)
		return
	}
	s.transition(o, StateAccepted)
}

// OnFill 累加成交数量（不超过委托数量）。成交总是覆盖撤单请求：
// PendingCancel 的订单部分成交回到 Accepted，全部成交则为 Filled。
// fillQty <= 0 的成交（包括缺字段解析出的 0）直接丢弃。
func (s *Store) OnFill(clientID, venueID, fillQty int64) {
	o, ok := s.lookup("fill", clientID)
	if !ok {
		return
	}
	if fillQty <= 0 {
		s.log.Warn("non-positive fill qty dropped",
			zap.Int64("client_id", clientID),
			zap.Int64("qty", fillQty))
		s.anomaly(AnomalyBadFill, clientID)
		return
	}
	if o.State == StateRejected || o.State == StateCancelled {
		s.log.Warn("fill after terminal state dropped",
			zap.Int64("client_id", clientID),
			zap.Stringer("state", o.State),
			zap.Int64("qty", fillQty))
		s.anomaly(AnomalyAfterTerminal, clientID)
		return
	}
	s.checkVenueID("fill", o, venueID)

	o.VenueID = venueID
	o.FilledQty += fillQty
	if o.FilledQty >= o.Qty {
		o.FilledQty = o.Qty
		s.transition(o, StateFilled)
		return
	}
	s.transition(o, StateAccepted)
}

// RequestCancel 标记撤单请求。终态或已在撤单中时返回错误且不改变状态；ACK 之前也允许撤单。
func (s *Store) RequestCancel(clientID int64) error {
	o, ok := s.lookup("cancel", clientID)
	if !ok {
		return fmt.Errorf("%w: client_id=%d", ErrUnknownOrder, clientID)
	}
	if o.State == StatePendingCancel {
		s.log.Warn("cancel already pending", zap.Int64("client_id", clientID))
		return fmt.Errorf("%w: client_id=%d", ErrCancelPending, clientID)
	}
	if !s.sm.CanCancel(o.State) {
		s.log.Warn("cancel not allowed", zap.Int64("client_id", clientID), zap.Stringer("state", o.State))
		return fmt.Errorf("%w in state=%s", ErrCancelNotAllowed, o.State)
	}
	s.transition(o, StatePendingCancel)
	return nil
}

// OnCancelled 处理撤单确认。除 Rejected 外无条件转为 Cancelled（兼容 venue 主动撤单）。
func (s *Store) OnCancelled(clientID, venueID int64) {
	o, ok := s.lookup("cancelled", clientID)
	if !ok {
		return
	}
	if o.State == StateRejected {
		return
	}
	s.checkVenueID("cancelled", o, venueID)
	o.VenueID = venueID
	s.transition(o, StateCancelled)
}

// MarkRejected 无条件转为 Rejected 并记录原因，本地风控拒单和 venue 拒单共用。
func (s *Store) MarkRejected(clientID int64, reason string) {
	o, ok := s.lookup("reject", clientID)
	if !ok {
		return
	}
	o.RejectReason = reason
	s.transition(o, StateRejected)
}

// OpenOrdersCount 统计 PendingNew/Accepted/PendingCancel 的订单数。
func (s *Store) OpenOrdersCount() int {
	n := 0
	for _, o := range s.orders {
		if s.sm.IsOpenState(o.State) {
			n++
		}
	}
	return n
}

// Get 返回订单副本。
func (s *Store) Get(clientID int64) (Order, bool) {
	o, ok := s.orders[clientID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// List 按 client id 升序返回全部订单副本。
func (s *Store) List() []Order {
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Len 返回订单总数。
func (s *Store) Len() int { return len(s.orders) }

func (s *Store) lookup(op string, clientID int64) (*Order, bool) {
	o, ok := s.orders[clientID]
	if !ok {
		s.log.Warn(op+" for unknown order", zap.Int64("client_id", clientID))
		s.anomaly(AnomalyUnknownOrder, clientID)
		return nil, false
	}
	return o, true
}

func (s *Store) checkVenueID(op string, o *Order, venueID int64) {
	if o.HasVenueID() && o.VenueID != venueID {
		s.log.Warn(op+" venue_id mismatch",
			zap.Int64("client_id", o.ClientID),
			zap.Int64("expected", o.VenueID),
			zap.Int64("got", venueID))
		s.anomaly(AnomalyVenueIDMismatch, o.ClientID)
	}
}

// transition 总是落地目标状态；表外的转换只记告警，MarkRejected/OnCancelled 的语义不受影响。
func (s *Store) transition(o *Order, to State) {
	if err := s.sm.ValidateTransition(o.State, to); err != nil {
		s.log.Warn("order state override",
			zap.Int64("client_id", o.ClientID),
			zap.Error(err))
		s.anomaly(AnomalyIllegalTransition, o.ClientID)
	}
	o.State = to
	s.notify(o)
}

func (s *Store) notify(o *Order) {
	if s.obs != nil {
		s.obs.OrderUpdated(*o)
	}
}

func (s *Store) anomaly(kind string, clientID int64) {
	if s.obs != nil {
		s.obs.Anomaly(kind, clientID)
	}
}
