package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig(), nil, nil)
}

func TestNewOrderAckAndDelayedFill(t *testing.T) {
	e := newTestEngine()
	out := e.Handle("NEW 1001 ABC BUY 10 100", t0)
	assert.Equal(t, []string{"ACK 1001 90001\n"}, out)

	due, ok := e.NextDue()
	require.True(t, ok)
	assert.Equal(t, t0.Add(500*time.Millisecond), due)

	assert.Empty(t, e.Due(t0.Add(499*time.Millisecond)))
	assert.Equal(t, 1, e.Pending())

	assert.Equal(t, []string{"FILL 1001 90001 10 100 A\n"}, e.Due(t0.Add(500*time.Millisecond)))
	assert.Equal(t, 0, e.Pending())
	_, ok = e.NextDue()
	assert.False(t, ok)

	o, ok := e.Order(1001)
	require.True(t, ok)
	assert.True(t, o.Filled)
	assert.False(t, o.Cancelled)
}

func TestVenueIDsIncrease(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, []string{"ACK 1 90001\n"}, e.Handle("NEW 1 ABC BUY 1 1", t0))
	assert.Equal(t, []string{"ACK 2 90002\n"}, e.Handle("NEW 2 ABC SELL 1 1", t0))
	assert.Equal(t, []string{"ACK 3 90003\n"}, e.Handle("NEW 3 ABC BUY 1 1", t0))
}

func TestMalformedNewRejected(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, []string{"REJECT 0 BAD_FORMAT\n"}, e.Handle("NEW 1001 ABC BUY", t0))
	assert.Equal(t, []string{"REJECT 0 BAD_FORMAT\n"}, e.Handle("NEW x ABC BUY 10 100", t0))
	_, ok := e.Order(1001)
	assert.False(t, ok)
	assert.Equal(t, 0, e.Pending())

	// 失败的 NEW 不消耗 venue id
	assert.Equal(t, []string{"ACK 1 90001\n"}, e.Handle("NEW 1 ABC BUY 1 1", t0))
}

func TestCancelPaths(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, []string{"REJECT 0 BAD_FORMAT\n"}, e.Handle("CANCEL", t0))
	assert.Equal(t, []string{"REJECT 42 UNKNOWN_ORDER\n"}, e.Handle("CANCEL 42", t0))

	e.Handle("NEW 1 ABC BUY 10 100", t0)
	assert.Equal(t, []string{"CANCELLED 1 90001\n"}, e.Handle("CANCEL 1", t0))
	assert.Equal(t, []string{"REJECT 1 ALREADY_CANCELLED\n"}, e.Handle("CANCEL 1", t0))

	// 已撤订单的成交计划被静默丢弃
	assert.Empty(t, e.Due(t0.Add(time.Second)))
	assert.Equal(t, 0, e.Pending())

	e.Handle("NEW 2 ABC SELL 5 50", t0)
	require.Len(t, e.Due(t0.Add(time.Second)), 1)
	assert.Equal(t, []string{"REJECT 2 ALREADY_FILLED\n"}, e.Handle("CANCEL 2", t0))

	o, _ := e.Order(2)
	assert.True(t, o.Filled)
	assert.False(t, o.Cancelled)
}

func TestUnknownMessage(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, []string{"REJECT 0 UNKNOWN_MSG\n"}, e.Handle("HELLO", t0))
	assert.Equal(t, []string{"REJECT 0 UNKNOWN_MSG\n"}, e.Handle("", t0))
}

func TestDueProcessesInOrderAndRetainsFuture(t *testing.T) {
	e := newTestEngine()
	e.Handle("NEW 1 ABC BUY 1 10", t0)
	e.Handle("NEW 2 ABC BUY 2 20", t0.Add(100*time.Millisecond))
	e.Handle("NEW 3 ABC BUY 3 30", t0.Add(900*time.Millisecond))

	out := e.Due(t0.Add(700 * time.Millisecond))
	assert.Equal(t, []string{"FILL 1 90001 1 10 A\n", "FILL 2 90002 2 20 A\n"}, out)
	assert.Equal(t, 1, e.Pending())

	due, ok := e.NextDue()
	require.True(t, ok)
	assert.Equal(t, t0.Add(1400*time.Millisecond), due)
}

func TestDuplicateClientIDFillsOnce(t *testing.T) {
	e := newTestEngine()
	e.Handle("NEW 1 ABC BUY 1 10", t0)
	e.Handle("NEW 1 ABC BUY 2 20", t0.Add(100*time.Millisecond))
	out := e.Due(t0.Add(time.Second))
	assert.Equal(t, []string{"FILL 1 90002 2 20 A\n"}, out)
}

func TestConfigurableLiquidityAndDelay(t *testing.T) {
	e := NewEngine(Config{FillDelay: 10 * time.Millisecond, FirstVenueID: 7, Liquidity: 'P'}, nil, nil)
	assert.Equal(t, []string{"ACK 1 7\n"}, e.Handle("NEW 1 ABC BUY 1 10", t0))
	assert.Equal(t, []string{"FILL 1 7 1 10 P\n"}, e.Due(t0.Add(10*time.Millisecond)))
}

type countingRecorder struct {
	accepted, fills, cancels int
	rejects                  []string
	scheduled                int
}

func (c *countingRecorder) RecordVenueAccepted()            { c.accepted++ }
func (c *countingRecorder) RecordVenueFill()                { c.fills++ }
func (c *countingRecorder) RecordVenueCancel()              { c.cancels++ }
func (c *countingRecorder) RecordVenueReject(reason string) { c.rejects = append(c.rejects, reason) }
func (c *countingRecorder) UpdateScheduledFills(n int)      { c.scheduled = n }

func TestRecorderCounts(t *testing.T) {
	rec := &countingRecorder{}
	e := NewEngine(DefaultConfig(), nil, rec)
	e.Handle("NEW 1 ABC BUY 1 10", t0)
	e.Handle("NEW 2 ABC BUY 1 10", t0)
	assert.Equal(t, 2, rec.scheduled)
	e.Handle("CANCEL 2", t0)
	e.Handle("BOGUS", t0)
	e.Due(t0.Add(time.Second))

	assert.Equal(t, 2, rec.accepted)
	assert.Equal(t, 1, rec.fills)
	assert.Equal(t, 1, rec.cancels)
	assert.Equal(t, []string{RejectUnknownMsg}, rec.rejects)
	assert.Equal(t, 0, rec.scheduled)
}
