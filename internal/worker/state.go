package worker

import (
	"errors"
	"fmt"
	"sync"
)

// State 是 worker 生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ErrIllegalTransition 表示状态迁移不在迁移表中。
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// ErrWaiting 表示 worker 已安装但未调用 SkipWaiting，仍处于等待阶段。
var ErrWaiting = errors.New("installed worker is waiting; call SkipWaiting first")

// transitions 列出合法迁移；任意非终态都可以进入 redundant。
var transitions = map[State][]State{
	StateParsed:     {StateInstalling},
	StateInstalling: {StateInstalled},
	StateInstalled:  {StateActivating},
	StateActivating: {StateActivated},
}

// CanTransition 报告 from -> to 是否合法。
func CanTransition(from, to State) bool {
	if from == StateRedundant {
		return false
	}
	if to == StateRedundant {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle 保存当前状态，并发安全。
type Lifecycle struct {
	mu          sync.RWMutex
	state       State
	skipWaiting bool
}

// NewLifecycle 从 parsed 开始。
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateParsed}
}

// State 返回当前状态。
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Transition 执行一次迁移，非法迁移返回 ErrIllegalTransition。
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(to)
}

func (l *Lifecycle) transitionLocked(to State) error {
	if !CanTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, l.state, to)
	}
	l.state = to
	return nil
}

// SkipWaiting 跳过等待阶段：已安装时立即进入 activating，
// 尚在安装时记下标记，安装完成后 activate 事件据此直接推进。
func (l *Lifecycle) SkipWaiting() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipWaiting = true
	if l.state == StateInstalled {
		return l.transitionLocked(StateActivating)
	}
	return nil
}

// WaitingSkipped 报告是否调用过 SkipWaiting。
func (l *Lifecycle) WaitingSkipped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.skipWaiting
}

// Controlling 报告 worker 是否已接管请求。
func (l *Lifecycle) Controlling() bool {
	return l.State() == StateActivated
}
