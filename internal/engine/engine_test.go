package engine

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"oms-roundtrip-go/infrastructure/logger"
	"oms-roundtrip-go/ledger"
	"oms-roundtrip-go/order"
	"oms-roundtrip-go/risk"
)

type captureSender struct {
	lines []string
	err   error
}

func (c *captureSender) WriteLine(line string) error {
	if c.err != nil {
		return c.err
	}
	c.lines = append(c.lines, line)
	return nil
}

type memLedger struct {
	mu      sync.Mutex
	records []ledger.Record
}

func (m *memLedger) Append(r ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memLedger) Close() error { return nil }

func (m *memLedger) Records() []ledger.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Record(nil), m.records...)
}

type countingRecorder struct {
	nopRecorder
	sent, cancels, fills, unknown int
	rejects                       []string
	anomalies                     []string
	ackLatencies                  int
}

func (c *countingRecorder) RecordOrderSent()  { c.sent++ }
func (c *countingRecorder) RecordCancelSent() { c.cancels++ }
func (c *countingRecorder) RecordFill(int64)  { c.fills++ }
func (c *countingRecorder) RecordAckLatency(float64) {
	c.ackLatencies++
}
func (c *countingRecorder) RecordUnknownMessage() { c.unknown++ }
func (c *countingRecorder) RecordOrderRejected(source, reason string) {
	c.rejects = append(c.rejects, source+":"+reason)
}
func (c *countingRecorder) RecordAnomaly(kind string) { c.anomalies = append(c.anomalies, kind) }

type eventSink struct {
	events []Event
}

func (s *eventSink) Publish(ev Event) { s.events = append(s.events, ev) }

func (s *eventSink) ofType(typ string) []Event {
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	engine  *Engine
	sender  *captureSender
	ledger  *memLedger
	rec     *countingRecorder
	events  *eventSink
	console *bytes.Buffer
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		sender:  &captureSender{},
		ledger:  &memLedger{},
		rec:     &countingRecorder{},
		events:  &eventSink{},
		console: &bytes.Buffer{},
		logs:    logs,
	}
	e, err := New(DefaultConfig(), Components{
		Sender:    f.sender,
		Ledger:    f.ledger,
		Logger:    logger.Wrap(zap.New(core)),
		Recorder:  f.rec,
		Publisher: f.events,
		Console:   f.console,
	})
	require.NoError(t, err)
	e.now = func() time.Time { return time.UnixMicro(1700000000000000) }
	f.engine = e
	return f
}

func TestNewRequiresSender(t *testing.T) {
	_, err := New(DefaultConfig(), Components{})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Symbol = ""
	_, err = New(cfg, Components{Sender: &captureSender{}})
	assert.Error(t, err)
}

func TestSubmitSendsNew(t *testing.T) {
	f := newFixture(t)

	o, err := f.engine.Submit(order.SideBuy, 10, 101.25)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), o.ClientID)
	assert.Equal(t, order.StatePendingNew, o.State)
	assert.Equal(t, order.NoVenueID, o.VenueID)

	assert.Equal(t, []string{"NEW 1001 ABC BUY 10 101.25\n"}, f.sender.lines)
	assert.Equal(t, "oms: sent: NEW 1001 ABC BUY 10 101.25\n", f.console.String())
	assert.Equal(t, 1, f.rec.sent)

	o2, err := f.engine.Submit(order.SideSell, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1002), o2.ClientID)
	assert.Equal(t, 2, f.engine.Store().OpenOrdersCount())
}

func TestSubmitRiskRejectNeverSends(t *testing.T) {
	f := newFixture(t)

	o, err := f.engine.Submit(order.SideBuy, 300, 10.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRiskRejected)
	assert.ErrorIs(t, err, risk.ErrMaxOrderQty)
	assert.Empty(t, f.sender.lines)

	assert.Equal(t, order.StateRejected, o.State)
	assert.Equal(t, "RISK_MAX_ORDER_QTY", o.RejectReason)
	assert.Equal(t,
		"oms: RISK_REJECT client_id=1001 reason=RISK_MAX_ORDER_QTY\n"+
			"oms: order 1001 ABC BUY qty=300 px=10 venue_id=-1 filled=0 state=Rejected reason=RISK_MAX_ORDER_QTY\n",
		f.console.String())
	assert.Equal(t, []string{"risk:MAX_ORDER_QTY"}, f.rec.rejects)
	assert.Equal(t, 0, f.engine.Store().OpenOrdersCount())

	rejects := f.events.ofType(EventReject)
	require.Len(t, rejects, 1)
	assert.Equal(t, "risk", rejects[0].Source)
	assert.Equal(t, "RISK_MAX_ORDER_QTY", rejects[0].Reason)

	// 被拒订单同样消耗 client id
	o2, err := f.engine.Submit(order.SideBuy, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1002), o2.ClientID)
}

func TestSubmitNotionalBoundary(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 100, 500)
	assert.NoError(t, err)
	_, err = f.engine.Submit(order.SideSell, 100, 500.01)
	assert.ErrorIs(t, err, risk.ErrMaxNotional)
}

func TestSubmitTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("broken pipe")

	_, err := f.engine.Submit(order.SideBuy, 10, 100)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, 0, f.rec.sent)
}

func TestAckFillUpdatesEverything(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 10, 100)
	require.NoError(t, err)

	f.engine.HandleMessage("ACK 1001 90001")
	o, _ := f.engine.Store().Get(1001)
	assert.Equal(t, order.StateAccepted, o.State)
	assert.Equal(t, int64(90001), o.VenueID)
	assert.Equal(t, 1, f.rec.ackLatencies)

	f.console.Reset()
	f.engine.HandleMessage("FILL 1001 90001 10 100 A")
	assert.Equal(t,
		"oms: FILL client_id=1001 venue_id=90001 qty=10 price=100 liq=A\n"+
			"oms: position=10 avg_cost=100 realized_pnl=0\n"+
			"oms: order 1001 ABC BUY qty=10 px=100 venue_id=90001 filled=10 state=Filled\n",
		f.console.String())

	o, _ = f.engine.Store().Get(1001)
	assert.Equal(t, order.StateFilled, o.State)
	assert.Equal(t, int64(10), o.FilledQty)

	p := f.engine.Position()
	assert.Equal(t, int64(10), p.Position)
	assert.Equal(t, 100.0, p.AvgCost)

	assert.Equal(t, []ledger.Record{{
		TsMicros:      1700000000000000,
		ClientID:      1001,
		VenueID:       90001,
		Symbol:        "ABC",
		Side:          "BUY",
		Qty:           10,
		Price:         100,
		PositionAfter: 10,
	}}, f.ledger.Records())
	assert.Equal(t, 1, f.rec.fills)

	fills := f.events.ofType(EventFill)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(10), fills[0].Position.Position)

	snap := f.engine.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, int64(10), snap.Position.Position)
	assert.Equal(t, 0, snap.OpenOrders)
	v, ok := snap.Order(1001)
	require.True(t, ok)
	assert.Equal(t, "Filled", v.State)
}

func TestFlipThroughFlat(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 10, 100)
	require.NoError(t, err)
	f.engine.HandleMessage("ACK 1001 90001")
	f.engine.HandleMessage("FILL 1001 90001 10 100 A")

	_, err = f.engine.Submit(order.SideSell, 15, 110)
	require.NoError(t, err)
	f.engine.HandleMessage("ACK 1002 90002")
	f.engine.HandleMessage("FILL 1002 90002 15 110 A")

	p := f.engine.Position()
	assert.Equal(t, int64(-5), p.Position)
	assert.InDelta(t, 110.0, p.AvgCost, 1e-9)
	assert.InDelta(t, 100.0, p.RealizedPnL, 1e-9)

	recs := f.ledger.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "SELL", recs[1].Side)
	assert.Equal(t, int64(-5), recs[1].PositionAfter)
}

func TestFillForUnknownOrderSkipsPositionAndLedger(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleMessage("FILL 4242 1 5 10 A")

	assert.Equal(t, int64(0), f.engine.Position().Position)
	assert.Empty(t, f.ledger.Records())
	assert.Contains(t, f.console.String(), "oms: WARN fill for unknown order, cannot update pnl/ledger\n")
	assert.Contains(t, f.console.String(), "oms: (no such order) client_id=4242\n")
	assert.Equal(t, 1, f.logs.FilterMessage("fill for unknown order, cannot update pnl/ledger").Len())
	assert.Contains(t, f.rec.anomalies, order.AnomalyUnknownOrder)
}

func TestFillAfterVenueRejectMovesPositionOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 10, 100)
	require.NoError(t, err)
	f.engine.HandleMessage("REJECT 1001 SOMETHING")
	f.engine.HandleMessage("FILL 1001 90001 10 100 A")

	o, _ := f.engine.Store().Get(1001)
	assert.Equal(t, order.StateRejected, o.State)
	assert.Equal(t, int64(0), o.FilledQty)
	assert.Equal(t, int64(10), f.engine.Position().Position)
	assert.Len(t, f.ledger.Records(), 1)
	assert.Contains(t, f.rec.anomalies, order.AnomalyAfterTerminal)
}

func TestImplausibleFillIgnored(t *testing.T) {
	tests := []struct {
		name   string
		cancel bool
		line   string
	}{
		{"missing qty and price", false, "FILL 1001 90001"},
		{"zero qty", false, "FILL 1001 90001 0 100 A"},
		{"negative qty", false, "FILL 1001 90001 -3 100 A"},
		{"zero price", false, "FILL 1001 90001 4 0 A"},
		{"missing qty while cancel pending", true, "FILL 1001 90001"},
		{"negative qty while cancel pending", true, "FILL 1001 90001 -3 100 A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.Submit(order.SideBuy, 10, 100)
			require.NoError(t, err)
			f.engine.HandleMessage("ACK 1001 90001")
			f.engine.HandleMessage("FILL 1001 90001 4 100 A")
			wantState := order.StateAccepted
			if tt.cancel {
				require.NoError(t, f.engine.Cancel(1001))
				wantState = order.StatePendingCancel
			}
			f.console.Reset()

			f.engine.HandleMessage(tt.line)

			o, _ := f.engine.Store().Get(1001)
			assert.Equal(t, wantState, o.State)
			assert.Equal(t, int64(4), o.FilledQty)
			assert.Equal(t, int64(4), f.engine.Position().Position)
			assert.Len(t, f.ledger.Records(), 1)
			assert.Equal(t, 1, f.rec.fills)
			assert.Equal(t, []string{order.AnomalyBadFill}, f.rec.anomalies)
			assert.Equal(t, 1, f.logs.FilterMessage("implausible fill ignored").Len())
			assert.Contains(t, f.console.String(), "oms: WARN implausible fill ignored\n")

			v, ok := f.engine.Snapshot().Order(1001)
			require.True(t, ok)
			assert.Equal(t, wantState.String(), v.State)
		})
	}
}

func TestLateAckAfterFillKeepsFilled(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 10, 100)
	require.NoError(t, err)
	f.engine.HandleMessage("FILL 1001 90001 10 100 A")
	f.engine.HandleMessage("ACK 1001 90001")

	o, _ := f.engine.Store().Get(1001)
	assert.Equal(t, order.StateFilled, o.State)
	assert.Equal(t, 0, f.engine.Store().OpenOrdersCount())
	assert.Equal(t, []string{order.AnomalyAfterTerminal}, f.rec.anomalies)
}

func TestVenueReject(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 10, 100)
	require.NoError(t, err)

	f.engine.HandleMessage("REJECT 1001 UNKNOWN_ORDER")
	o, _ := f.engine.Store().Get(1001)
	assert.Equal(t, order.StateRejected, o.State)
	assert.Equal(t, "VENUE_UNKNOWN_ORDER", o.RejectReason)

	f.console.Reset()
	f.engine.HandleMessage("REJECT 0 UNKNOWN_MSG")
	assert.Equal(t, "oms: REJECT client_id=0 reason=UNKNOWN_MSG\n", f.console.String())
	assert.Equal(t, []string{"venue:UNKNOWN_ORDER", "venue:UNKNOWN_MSG"}, f.rec.rejects)
	require.Len(t, f.events.ofType(EventReject), 1)
}

func TestCancelFlow(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Cancel(42)
	assert.ErrorIs(t, err, order.ErrUnknownOrder)
	assert.Equal(t, "oms: (no such order) client_id=42\n", f.console.String())
	assert.Empty(t, f.sender.lines)

	_, err = f.engine.Submit(order.SideBuy, 10, 100)
	require.NoError(t, err)
	f.console.Reset()

	require.NoError(t, f.engine.Cancel(1001))
	assert.Equal(t, []string{"NEW 1001 ABC BUY 10 100\n", "CANCEL 1001\n"}, f.sender.lines)
	assert.Equal(t,
		"oms: sent: CANCEL 1001\n"+
			"oms: order 1001 ABC BUY qty=10 px=100 venue_id=-1 filled=0 state=PendingCancel\n",
		f.console.String())

	err = f.engine.Cancel(1001)
	assert.ErrorIs(t, err, order.ErrCancelPending)
	assert.Len(t, f.sender.lines, 2)

	f.engine.HandleMessage("ACK 1001 90001")
	o, _ := f.engine.Store().Get(1001)
	assert.Equal(t, order.StatePendingCancel, o.State)

	f.engine.HandleMessage("CANCELLED 1001 90001")
	o, _ = f.engine.Store().Get(1001)
	assert.Equal(t, order.StateCancelled, o.State)
	assert.Equal(t, 0, f.engine.Store().OpenOrdersCount())

	err = f.engine.Cancel(1001)
	assert.ErrorIs(t, err, order.ErrCancelNotAllowed)
	assert.Equal(t, 1, f.rec.cancels)
}

func TestFillRacesCancel(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideSell, 5, 50)
	require.NoError(t, err)
	f.engine.HandleMessage("ACK 1001 90001")
	require.NoError(t, f.engine.Cancel(1001))

	f.engine.HandleMessage("FILL 1001 90001 5 50 A")
	f.engine.HandleMessage("REJECT 1001 ALREADY_FILLED")

	o, _ := f.engine.Store().Get(1001)
	assert.Equal(t, order.StateRejected, o.State)
	assert.Equal(t, "VENUE_ALREADY_FILLED", o.RejectReason)
	assert.Equal(t, int64(5), o.FilledQty)
	assert.Equal(t, int64(-5), f.engine.Position().Position)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 10, 100)
	require.NoError(t, err)
	f.engine.HandleMessage("FILL 1001 90001 4 100.5 A")
	f.console.Reset()

	f.engine.Status()
	assert.Equal(t, strings.Join([]string{
		"oms: STATUS",
		"  position(ABC)=4",
		"  avg_cost(ABC)=100.5",
		"  realized_pnl=0",
		"  open_orders=1",
		"  limits: max_order_qty=100 max_notional=50000 max_open_orders=50 max_abs_position=200",
		"",
	}, "\n"), f.console.String())
}

func TestUnparsedMessage(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleMessage("HELLO world")
	assert.Equal(t, "oms: recv(unparsed): HELLO world\n", f.console.String())
	assert.Equal(t, 1, f.rec.unknown)
	assert.Equal(t, 1, f.logs.FilterMessage("unparsed venue message").Len())
}

func TestExecute(t *testing.T) {
	f := newFixture(t)

	stop, err := f.engine.Execute("BUY 10")
	assert.False(t, stop)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Equal(t, "oms: invalid. expected: BUY 10 101.25\n", f.console.String())

	stop, err = f.engine.Execute("")
	assert.False(t, stop)
	assert.NoError(t, err)

	stop, err = f.engine.Execute("SELL 3 9.5")
	assert.False(t, stop)
	assert.NoError(t, err)
	assert.Equal(t, []string{"NEW 1001 ABC SELL 3 9.5\n"}, f.sender.lines)

	_, err = f.engine.Execute("BUY 300 10.0")
	assert.ErrorIs(t, err, ErrRiskRejected)

	stop, err = f.engine.Execute("exit")
	assert.True(t, stop)
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.console.String(), "oms: exiting\n"))
}

func TestOrderEventsPublished(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Submit(order.SideBuy, 1, 1)
	require.NoError(t, err)
	f.engine.HandleMessage("ACK 1001 90001")

	evs := f.events.ofType(EventOrder)
	require.Len(t, evs, 2)
	assert.Equal(t, "PendingNew", evs[0].Order.State)
	assert.Equal(t, "Accepted", evs[1].Order.State)
	assert.Equal(t, int64(1700000000000000), evs[1].TsMicros)
}
