package sim

import (
	"container/heap"
	"time"
)

// LiveOrder 是 venue 侧接受的订单。
type LiveOrder struct {
	ClientID  int64
	VenueID   int64
	Qty       int64
	Price     float64
	Cancelled bool
	Filled    bool
}

// ScheduledFill 记录一笔到期后整单成交的计划，最多消费一次。
type ScheduledFill struct {
	Due      time.Time
	ClientID int64
	seq      uint64
}

// fillQueue 是按到期时间排序的最小堆，同一时刻按入队顺序。
type fillQueue []ScheduledFill

func (q fillQueue) Len() int { return len(q) }

func (q fillQueue) Less(i, j int) bool {
	if q[i].Due.Equal(q[j].Due) {
		return q[i].seq < q[j].seq
	}
	return q[i].Due.Before(q[j].Due)
}

func (q fillQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *fillQueue) Push(x any) { *q = append(*q, x.(ScheduledFill)) }

func (q *fillQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// schedule 包装 fillQueue，提供 push / 取到期项 / 查看最早到期时间。
type schedule struct {
	q   fillQueue
	seq uint64
}

func (s *schedule) push(due time.Time, clientID int64) {
	s.seq++
	heap.Push(&s.q, ScheduledFill{Due: due, ClientID: clientID, seq: s.seq})
}

// popDue 取出所有 Due<=now 的项，未到期的保留。
func (s *schedule) popDue(now time.Time) []ScheduledFill {
	var out []ScheduledFill
	for len(s.q) > 0 && !s.q[0].Due.After(now) {
		out = append(out, heap.Pop(&s.q).(ScheduledFill))
	}
	return out
}

func (s *schedule) next() (time.Time, bool) {
	if len(s.q) == 0 {
		return time.Time{}, false
	}
	return s.q[0].Due, true
}

func (s *schedule) len() int { return len(s.q) }
