package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/metrics"
)

// ErrShuttingDown 表示 worker 正在关闭，不再接受新任务。
var ErrShuttingDown = errors.New("worker is shutting down")

// Task 是一个延长 worker 生命周期的异步任务。
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Name 返回任务名。
func (t *Task) Name() string {
	return t.name
}

// Done 在任务结束时关闭。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait 等待任务结束；调用方 ctx 取消只结束等待，不会取消任务本身。
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tasks 登记所有未完成任务，Drain 前等待它们全部结束。
type Tasks struct {
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	closing bool
	pending int
	wg      sync.WaitGroup
}

// NewTasks 创建任务登记表。
func NewTasks(logger *logrus.Logger, m *metrics.Metrics) *Tasks {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tasks{logger: logger, metrics: m}
}

// WaitUntil 登记并启动任务。任务使用与 ctx 脱钩的上下文运行（保留 ctx 中的值），
// 触发方断开不会中断缓存写入或通知展示。
func (t *Tasks) WaitUntil(ctx context.Context, name string, fn func(context.Context) error) (*Task, error) {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil, ErrShuttingDown
	}
	t.pending++
	t.wg.Add(1)
	t.mu.Unlock()
	t.metrics.TaskStarted()

	task := &Task{name: name, done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)
	go func() {
		defer t.finish(task)
		defer func() {
			if r := recover(); r != nil {
				task.err = fmt.Errorf("task %s panicked: %v", name, r)
				t.logger.WithFields(logrus.Fields{
					"action": "task",
					"task":   name,
					"panic":  r,
					"stack":  string(debug.Stack()),
				}).Error("task_panic")
			}
		}()
		task.err = fn(detached)
	}()
	return task, nil
}

func (t *Tasks) finish(task *Task) {
	t.mu.Lock()
	t.pending--
	t.mu.Unlock()
	t.metrics.TaskFinished()
	close(task.done)
	t.wg.Done()
}

// Pending 返回未完成任务数量。
func (t *Tasks) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Drain 拒绝新任务并等待已有任务结束，ctx 到期时返回 ctx.Err()。
func (t *Tasks) Drain(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain tasks (%d pending): %w", t.Pending(), ctx.Err())
	}
}
