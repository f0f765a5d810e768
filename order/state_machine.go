package order

import (
	"fmt"
	"sort"
)

// StateTransition 状态转换
type StateTransition struct {
	From State
	To   State
}

// StateMachine 订单状态机。转换表在构造后只读，单线程事件循环内使用无需加锁。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从 PendingNew 可以转到
		{StatePendingNew, StateAccepted},
		{StatePendingNew, StatePendingCancel}, // ACK 之前即可撤单
		{StatePendingNew, StateRejected},
		{StatePendingNew, StateFilled},    // FILL 先于 ACK 到达
		{StatePendingNew, StateCancelled}, // CANCELLED 先于 ACK 到达

		// 从 Accepted 可以转到
		{StateAccepted, StatePendingCancel},
		{StateAccepted, StateFilled},
		{StateAccepted, StateCancelled}, // venue 主动撤单
		{StateAccepted, StateRejected},

		// 从 PendingCancel 可以转到
		{StatePendingCancel, StateCancelled},
		{StatePendingCancel, StateAccepted}, // 撤单途中部分成交
		{StatePendingCancel, StateFilled},   // 撤单途中全部成交
		{StatePendingCancel, StateRejected}, // venue 拒绝撤单

		// 终态不能转换（Filled, Cancelled, Rejected）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to State) error {
	// 相同状态允许（多次部分成交、重复 ACK）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current State) []State {
	allowed := make([]State, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(st State) bool {
	switch st {
	case StateFilled, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// IsOpenState 判断订单是否仍占用挂单额度
func (sm *StateMachine) IsOpenState(st State) bool {
	switch st {
	case StatePendingNew, StateAccepted, StatePendingCancel:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以发起撤单
func (sm *StateMachine) CanCancel(st State) bool {
	switch st {
	case StatePendingNew, StateAccepted:
		return true
	default:
		return false
	}
}
