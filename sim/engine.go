package sim

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"oms-roundtrip-go/protocol"
)

// venue 拒绝原因
const (
	RejectBadFormat        = "BAD_FORMAT"
	RejectUnknownOrder     = "UNKNOWN_ORDER"
	RejectAlreadyFilled    = "ALREADY_FILLED"
	RejectAlreadyCancelled = "ALREADY_CANCELLED"
	RejectUnknownMsg       = "UNKNOWN_MSG"
)

// Config venue 撮合参数。
type Config struct {
	FillDelay    time.Duration
	FirstVenueID int64
	Liquidity    byte
}

// DefaultConfig 固定 500ms 成交延迟，便于演示时预期成交时间。
func DefaultConfig() Config {
	return Config{
		FillDelay:    500 * time.Millisecond,
		FirstVenueID: 90001,
		Liquidity:    'A',
	}
}

// Recorder 接收 venue 统计，*monitor.Monitor 满足该接口。
type Recorder interface {
	RecordVenueAccepted()
	RecordVenueFill()
	RecordVenueCancel()
	RecordVenueReject(reason string)
	UpdateScheduledFills(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordVenueAccepted()     {}
func (nopRecorder) RecordVenueFill()         {}
func (nopRecorder) RecordVenueCancel()       {}
func (nopRecorder) RecordVenueReject(string) {}
func (nopRecorder) UpdateScheduledFills(int) {}

// Engine 是单连接的撮合模拟：接单即 ACK，延迟后整单成交，支持撤单。
// 只在会话的事件循环 goroutine 中调用。
type Engine struct {
	cfg         Config
	orders      map[int64]*LiveOrder
	sched       schedule
	nextVenueID int64
	log         *zap.Logger
	rec         Recorder
}

// NewEngine 创建撮合引擎，log/rec 可为空。
func NewEngine(cfg Config, log *zap.Logger, rec Recorder) *Engine {
	if cfg.Liquidity == 0 {
		cfg.Liquidity = DefaultConfig().Liquidity
	}
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{
		cfg:         cfg,
		orders:      make(map[int64]*LiveOrder),
		nextVenueID: cfg.FirstVenueID,
		log:         log.Named("venue"),
		rec:         rec,
	}
}

// Handle 处理一行请求，返回需要写回的响应（每条带换行）。
func (e *Engine) Handle(line string, now time.Time) []string {
	req, err := protocol.ParseRequest(line)
	if err != nil {
		if errors.Is(err, protocol.ErrBadFormat) {
			return []string{e.reject(0, RejectBadFormat)}
		}
		return []string{e.reject(0, RejectUnknownMsg)}
	}

	switch req.Kind {
	case protocol.RequestNew:
		return e.accept(req.Order, now)
	case protocol.RequestCancel:
		return []string{e.cancel(req.ClientID)}
	default:
		return []string{e.reject(0, RejectUnknownMsg)}
	}
}

// accept 分配 venue id、立即 ACK 并安排一次整单成交。重复的 client id 覆盖旧记录。
func (e *Engine) accept(o protocol.NewOrder, now time.Time) []string {
	venueID := e.nextVenueID
	e.nextVenueID++

	e.orders[o.ClientID] = &LiveOrder{
		ClientID: o.ClientID,
		VenueID:  venueID,
		Qty:      o.Qty,
		Price:    o.Price,
	}
	e.sched.push(now.Add(e.cfg.FillDelay), o.ClientID)

	e.rec.RecordVenueAccepted()
	e.rec.UpdateScheduledFills(e.sched.len())
	e.log.Debug("order accepted",
		zap.Int64("client_id", o.ClientID),
		zap.Int64("venue_id", venueID),
		zap.Int64("qty", o.Qty),
		zap.Float64("price", o.Price))
	return []string{protocol.FormatAck(o.ClientID, venueID)}
}

func (e *Engine) cancel(clientID int64) string {
	o, ok := e.orders[clientID]
	switch {
	case !ok:
		return e.reject(clientID, RejectUnknownOrder)
	case o.Filled:
		return e.reject(clientID, RejectAlreadyFilled)
	case o.Cancelled:
		return e.reject(clientID, RejectAlreadyCancelled)
	}
	o.Cancelled = true
	e.rec.RecordVenueCancel()
	return protocol.FormatCancelled(o.ClientID, o.VenueID)
}

func (e *Engine) reject(clientID int64, reason string) string {
	e.rec.RecordVenueReject(reason)
	e.log.Debug("reject", zap.Int64("client_id", clientID), zap.String("reason", reason))
	return protocol.FormatReject(clientID, reason)
}

// Due 处理所有已到期的成交计划。已撤、已成交或未知订单的计划直接丢弃，不会重试。
func (e *Engine) Due(now time.Time) []string {
	due := e.sched.popDue(now)
	if len(due) == 0 {
		return nil
	}
	var out []string
	for _, sf := range due {
		o, ok := e.orders[sf.ClientID]
		if !ok || o.Cancelled || o.Filled {
			continue
		}
		o.Filled = true
		e.rec.RecordVenueFill()
		out = append(out, protocol.FormatFill(o.ClientID, o.VenueID, o.Qty, o.Price, e.cfg.Liquidity))
	}
	e.rec.UpdateScheduledFills(e.sched.len())
	return out
}

// NextDue 返回最早的到期时间；没有待处理计划时 ok=false。
func (e *Engine) NextDue() (time.Time, bool) {
	return e.sched.next()
}

// Order 返回 venue 侧订单副本。
func (e *Engine) Order(clientID int64) (LiveOrder, bool) {
	o, ok := e.orders[clientID]
	if !ok {
		return LiveOrder{}, false
	}
	return *o, true
}

// Pending 返回尚未消费的成交计划数。
func (e *Engine) Pending() int { return e.sched.len() }
