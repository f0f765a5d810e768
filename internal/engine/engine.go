package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"oms-roundtrip-go/gateway"
	"oms-roundtrip-go/infrastructure/logger"
	"oms-roundtrip-go/inventory"
	"oms-roundtrip-go/ledger"
	"oms-roundtrip-go/order"
	"oms-roundtrip-go/protocol"
	"oms-roundtrip-go/risk"
)

var (
	// ErrRiskRejected 订单被本地风控拒绝，未发往 venue。
	ErrRiskRejected = errors.New("risk rejected")
	// ErrTransport 与 venue 的连接收发失败，事件循环必须结束。
	ErrTransport = errors.New("transport failure")
)

// Config 引擎配置
type Config struct {
	Symbol        string      // 交易标的
	FirstClientID int64       // 第一个 client id
	Limits        risk.Limits // 下单前风控限额
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Symbol:        "ABC",
		FirstClientID: 1001,
		Limits:        risk.DefaultLimits(),
	}
}

// Recorder 是引擎用到的指标接口，*monitor.Monitor 满足该接口。
type Recorder interface {
	RecordOrderSubmitted()
	RecordOrderSent()
	RecordCancelSent()
	RecordOrderRejected(source, reason string)
	RecordAckLatency(seconds float64)
	RecordFill(qty int64)
	UpdatePosition(position int64, avgCost, realizedPnL float64)
	UpdateOpenOrders(n int)
	RecordAnomaly(kind string)
	RecordUnknownMessage()
}

type nopRecorder struct{}

func (nopRecorder) RecordOrderSubmitted()                  {}
func (nopRecorder) RecordOrderSent()                       {}
func (nopRecorder) RecordCancelSent()                      {}
func (nopRecorder) RecordOrderRejected(string, string)     {}
func (nopRecorder) RecordAckLatency(float64)               {}
func (nopRecorder) RecordFill(int64)                       {}
func (nopRecorder) UpdatePosition(int64, float64, float64) {}
func (nopRecorder) UpdateOpenOrders(int)                   {}
func (nopRecorder) RecordAnomaly(string)                   {}
func (nopRecorder) RecordUnknownMessage()                  {}

// Components 引擎依赖组件。Sender 必填，其余可为空。
type Components struct {
	Sender    gateway.LineWriter // 发往 venue 的连接
	Ledger    ledger.Sink        // 成交流水
	Logger    *logger.Logger
	Recorder  Recorder
	Publisher Publisher
	Console   io.Writer // 操作台输出
}

// Engine 是 OMS 核心：风控 -> 订单表 -> 仓位 -> 流水。
// 除 Snapshot 外的方法只能在事件循环 goroutine 中调用。
type Engine struct {
	config Config

	store    *order.Store
	tracker  *inventory.Tracker
	gate     *risk.Gate
	sender   gateway.LineWriter
	ledger   ledger.Sink
	logger   *logger.Logger
	rec      Recorder
	pub      Publisher
	console  io.Writer
	now      func() time.Time
	nextID   int64
	sentAt   map[int64]time.Time
	snapshot atomic.Pointer[Snapshot]
}

// New 创建引擎
func New(cfg Config, c Components) (*Engine, error) {
	if c.Sender == nil {
		return nil, errors.New("engine: sender is required")
	}
	if cfg.Symbol == "" {
		return nil, errors.New("engine: symbol is required")
	}
	if cfg.FirstClientID <= 0 {
		cfg.FirstClientID = 1
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Console == nil {
		c.Console = io.Discard
	}

	e := &Engine{
		config:  cfg,
		store:   order.NewStore(c.Logger.Logger),
		tracker: &inventory.Tracker{},
		sender:  c.Sender,
		ledger:  c.Ledger,
		logger:  c.Logger,
		rec:     c.Recorder,
		pub:     c.Publisher,
		console: c.Console,
		now:     time.Now,
		nextID:  cfg.FirstClientID,
		sentAt:  make(map[int64]time.Time),
	}
	e.gate = risk.NewGate(cfg.Limits, e.store, e.tracker)
	e.store.SetObserver(e)
	e.publishSnapshot()
	return e, nil
}

// Store 返回订单表，只能在事件循环内使用。
func (e *Engine) Store() *order.Store { return e.store }

// Position 返回当前仓位快照。
func (e *Engine) Position() inventory.Position { return e.tracker.Snapshot() }

// Limits 返回风控限额。
func (e *Engine) Limits() risk.Limits { return e.gate.Limits() }

// Snapshot 返回最近一次发布的快照，可在任意 goroutine 调用。
func (e *Engine) Snapshot() *Snapshot { return e.snapshot.Load() }

// Execute 执行一条操作台命令。stop=true 表示操作员要求退出。
// 只有 ErrTransport 需要调用方结束事件循环，其余错误已在操作台提示过。
func (e *Engine) Execute(line string) (stop bool, err error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		e.say(err.Error())
		return false, err
	}
	switch cmd.Kind {
	case CommandExit:
		e.say("exiting")
		return true, nil
	case CommandStatus:
		e.Status()
	case CommandNew:
		_, err = e.Submit(cmd.Side, cmd.Qty, cmd.Price)
	case CommandCancel:
		err = e.Cancel(cmd.ClientID)
	}
	return false, err
}

// Submit 分配 client id 并以 PendingNew 登记，然后做风控检查。
// 风控拒绝的订单标记为 RISK_<code>，不会发往 venue。
func (e *Engine) Submit(side order.Side, qty int64, price float64) (order.Order, error) {
	defer e.publishSnapshot()

	clientID := e.nextID
	e.nextID++
	e.store.Submit(clientID, e.config.Symbol, side, qty, price)
	e.rec.RecordOrderSubmitted()

	if reason := e.gate.PreOrder(side, qty, price); !reason.OK() {
		code := "RISK_" + string(reason)
		e.store.MarkRejected(clientID, code)
		e.rec.RecordOrderRejected("risk", string(reason))
		e.logger.LogRisk("risk_reject", map[string]interface{}{
			"client_id": clientID,
			"reason":    code,
			"qty":       qty,
			"price":     price,
		})
		e.publish(Event{Type: EventReject, Source: "risk", Reason: code, Order: e.view(clientID)})
		e.sayf("RISK_REJECT client_id=%d reason=%s", clientID, code)
		e.printOrder(clientID)
		o, _ := e.store.Get(clientID)
		return o, fmt.Errorf("%w: %w", ErrRiskRejected, reason.Err())
	}

	wire := protocol.FormatNew(protocol.NewOrder{
		ClientID: clientID,
		Symbol:   e.config.Symbol,
		Side:     side.String(),
		Qty:      qty,
		Price:    price,
	})
	o, _ := e.store.Get(clientID)
	if err := e.sender.WriteLine(wire); err != nil {
		e.logger.LogError(err, map[string]interface{}{"op": "send_new", "client_id": clientID})
		return o, fmt.Errorf("%w: send NEW: %w", ErrTransport, err)
	}
	e.sentAt[clientID] = e.now()
	e.rec.RecordOrderSent()
	e.logger.LogOrder("order_sent", clientID, map[string]interface{}{
		"symbol": e.config.Symbol,
		"side":   side.String(),
		"qty":    qty,
		"price":  price,
	})
	e.sayf("sent: %s", strings.TrimSuffix(wire, "\n"))
	return o, nil
}

// Cancel 发起撤单。订单表拒绝时只打印订单现状并返回错误。
func (e *Engine) Cancel(clientID int64) error {
	defer e.publishSnapshot()

	if err := e.store.RequestCancel(clientID); err != nil {
		e.printOrder(clientID)
		return err
	}
	wire := protocol.FormatCancel(clientID)
	if err := e.sender.WriteLine(wire); err != nil {
		e.logger.LogError(err, map[string]interface{}{"op": "send_cancel", "client_id": clientID})
		return fmt.Errorf("%w: send CANCEL: %w", ErrTransport, err)
	}
	e.rec.RecordCancelSent()
	e.logger.LogOrder("cancel_sent", clientID, nil)
	e.sayf("sent: %s", strings.TrimSuffix(wire, "\n"))
	e.printOrder(clientID)
	return nil
}

// Status 打印仓位、挂单数与限额。
func (e *Engine) Status() {
	p := e.tracker.Snapshot()
	l := e.gate.Limits()
	e.say("STATUS")
	fmt.Fprintf(e.console, "  position(%s)=%d\n", e.config.Symbol, p.Position)
	fmt.Fprintf(e.console, "  avg_cost(%s)=%s\n", e.config.Symbol, protocol.FormatPrice(p.AvgCost))
	fmt.Fprintf(e.console, "  realized_pnl=%s\n", protocol.FormatPrice(p.RealizedPnL))
	fmt.Fprintf(e.console, "  open_orders=%d\n", e.store.OpenOrdersCount())
	fmt.Fprintf(e.console, "  limits: max_order_qty=%d max_notional=%s max_open_orders=%d max_abs_position=%d\n",
		l.MaxOrderQty, protocol.FormatPrice(l.MaxNotional), l.MaxOpenOrders, l.MaxAbsPosition)
}

// HandleMessage 处理一行 venue 消息。协议层面的异常只告警，不会返回错误。
func (e *Engine) HandleMessage(line string) {
	defer e.publishSnapshot()

	m := protocol.Parse(line)
	switch m.Kind {
	case protocol.KindAck:
		e.sayf("ACK client_id=%d venue_id=%d", m.ClientID, m.VenueID)
		e.observeAckLatency(m.ClientID)
		e.store.OnAck(m.ClientID, m.VenueID)
		e.printOrder(m.ClientID)

	case protocol.KindFill:
		e.sayf("FILL client_id=%d venue_id=%d qty=%d price=%s liq=%c",
			m.ClientID, m.VenueID, m.Qty, protocol.FormatPrice(m.Price), m.Liquidity)
		if m.Qty <= 0 || m.Price <= 0 {
			// 缺字段的 FILL 解析为 0，不能进入仓位、流水或订单表
			e.rec.RecordAnomaly(order.AnomalyBadFill)
			e.logger.Warn("implausible fill ignored",
				zap.Int64("client_id", m.ClientID),
				zap.Int64("qty", m.Qty),
				zap.Float64("price", m.Price))
			e.say("WARN implausible fill ignored")
			e.printOrder(m.ClientID)
			break
		}
		e.applyFill(m)
		e.store.OnFill(m.ClientID, m.VenueID, m.Qty)
		e.printOrder(m.ClientID)

	case protocol.KindCancelled:
		e.sayf("CANCELLED client_id=%d venue_id=%d", m.ClientID, m.VenueID)
		delete(e.sentAt, m.ClientID)
		e.store.OnCancelled(m.ClientID, m.VenueID)
		e.printOrder(m.ClientID)

	case protocol.KindReject:
		e.sayf("REJECT client_id=%d reason=%s", m.ClientID, m.Reason)
		e.rec.RecordOrderRejected("venue", m.Reason)
		e.logger.LogOrder("venue_reject", m.ClientID, map[string]interface{}{"reason": m.Reason})
		if m.ClientID > 0 {
			delete(e.sentAt, m.ClientID)
			code := "VENUE_" + m.Reason
			e.store.MarkRejected(m.ClientID, code)
			e.publish(Event{Type: EventReject, Source: "venue", Reason: code, Order: e.view(m.ClientID)})
			e.printOrder(m.ClientID)
		}

	default:
		e.rec.RecordUnknownMessage()
		e.logger.Warn("unparsed venue message", zap.String("line", line))
		e.sayf("recv(unparsed): %s", line)
	}
}

// applyFill 先更新仓位再写流水，订单表的状态由调用方随后更新。
// 未知订单无法确定方向，跳过仓位与流水。
func (e *Engine) applyFill(m protocol.Message) {
	o, ok := e.store.Get(m.ClientID)
	if !ok {
		e.logger.Warn("fill for unknown order, cannot update pnl/ledger",
			zap.Int64("client_id", m.ClientID),
			zap.Int64("venue_id", m.VenueID))
		e.say("WARN fill for unknown order, cannot update pnl/ledger")
		return
	}

	e.tracker.OnFill(o.Side, m.Qty, m.Price)
	p := e.tracker.Snapshot()

	rec := ledger.Record{
		TsMicros:      e.now().UnixMicro(),
		ClientID:      m.ClientID,
		VenueID:       m.VenueID,
		Symbol:        o.Symbol,
		Side:          o.Side.String(),
		Qty:           m.Qty,
		Price:         m.Price,
		PositionAfter: p.Position,
	}
	if e.ledger != nil {
		if err := e.ledger.Append(rec); err != nil {
			e.logger.LogError(err, map[string]interface{}{"op": "ledger_append", "client_id": m.ClientID})
		}
	}

	e.rec.RecordFill(m.Qty)
	e.rec.UpdatePosition(p.Position, p.AvgCost, p.RealizedPnL)
	e.logger.LogTrade("fill", map[string]interface{}{
		"client_id":    m.ClientID,
		"venue_id":     m.VenueID,
		"qty":          m.Qty,
		"price":        m.Price,
		"position":     p.Position,
		"realized_pnl": p.RealizedPnL,
	})
	e.publish(Event{Type: EventFill, TsMicros: rec.TsMicros, Fill: &rec, Position: &p})
	e.sayf("position=%d avg_cost=%s realized_pnl=%s",
		p.Position, protocol.FormatPrice(p.AvgCost), protocol.FormatPrice(p.RealizedPnL))
}

func (e *Engine) observeAckLatency(clientID int64) {
	sent, ok := e.sentAt[clientID]
	if !ok {
		return
	}
	delete(e.sentAt, clientID)
	e.rec.RecordAckLatency(e.now().Sub(sent).Seconds())
}

// OrderUpdated 实现 order.Observer。
func (e *Engine) OrderUpdated(o order.Order) {
	v := viewOf(o)
	e.logger.LogOrder("order_update", o.ClientID, map[string]interface{}{"state": v.State})
	e.publish(Event{Type: EventOrder, Order: &v})
}

// Anomaly 实现 order.Observer。
func (e *Engine) Anomaly(kind string, clientID int64) {
	e.rec.RecordAnomaly(kind)
}

func (e *Engine) publish(ev Event) {
	if e.pub == nil {
		return
	}
	if ev.TsMicros == 0 {
		ev.TsMicros = e.now().UnixMicro()
	}
	e.pub.Publish(ev)
}

func (e *Engine) publishSnapshot() {
	orders := e.store.List()
	views := make([]OrderView, len(orders))
	for i, o := range orders {
		views[i] = viewOf(o)
	}
	open := e.store.OpenOrdersCount()
	e.rec.UpdateOpenOrders(open)
	e.snapshot.Store(&Snapshot{
		Symbol:     e.config.Symbol,
		Position:   e.tracker.Snapshot(),
		OpenOrders: open,
		Limits:     limitsView(e.gate.Limits()),
		Orders:     views,
		UpdatedAt:  e.now(),
	})
}

func (e *Engine) view(clientID int64) *OrderView {
	o, ok := e.store.Get(clientID)
	if !ok {
		return nil
	}
	v := viewOf(o)
	return &v
}

func (e *Engine) printOrder(clientID int64) {
	o, ok := e.store.Get(clientID)
	if !ok {
		e.sayf("(no such order) client_id=%d", clientID)
		return
	}
	e.say(o.String())
}

func (e *Engine) say(msg string) {
	fmt.Fprintf(e.console, "oms: %s\n", msg)
}

func (e *Engine) sayf(format string, args ...interface{}) {
	e.say(fmt.Sprintf(format, args...))
}
