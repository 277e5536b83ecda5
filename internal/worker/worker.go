package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/fetch"
	"github.com/aurora-watch/aurora-agent/internal/logging"
	"github.com/aurora-watch/aurora-agent/internal/metrics"
	"github.com/aurora-watch/aurora-agent/internal/namespace"
	"github.com/aurora-watch/aurora-agent/internal/notify"
	"github.com/aurora-watch/aurora-agent/internal/push"
	"github.com/aurora-watch/aurora-agent/internal/strategy"
)

// Cache 是命名空间管理器在分发器中的视图。
type Cache interface {
	Install(ctx context.Context) (namespace.InstallReport, error)
	Activate(ctx context.Context) ([]string, error)
	CurrentName() string
	Namespaces(ctx context.Context) ([]string, error)
	Entries(ctx context.Context) (int, error)
}

// Classifier 为请求选择策略。
type Classifier interface {
	Classify(req strategy.Request) (strategy.Class, bool)
}

// Responder 按策略解析请求。
type Responder interface {
	Respond(ctx context.Context, req *fetch.Request, class strategy.Class) (*fetch.Response, error)
}

// PushHandler 处理推送负载。
type PushHandler interface {
	Handle(ctx context.Context, msg push.Message) (push.State, error)
}

// Notifications 按 ID 查找可见通知。
type Notifications interface {
	Get(id string) (notify.Notification, bool)
}

// ClickRouter 处理通知点击。
type ClickRouter interface {
	Route(ctx context.Context, n notify.Notification) (notify.ClickResult, error)
}

// Claimer 接管已打开的窗口。
type Claimer interface {
	Claim() int
}

// Options 汇总分发器依赖。
type Options struct {
	Cache         Cache
	Router        Classifier
	Interceptor   Responder
	Network       fetch.Fetcher
	Push          PushHandler
	Notifications Notifications
	Clicks        ClickRouter
	Clients       Claimer
	Logger        *logrus.Logger
	Metrics       *metrics.Metrics
}

// Worker 是唯一的事件分发器。
type Worker struct {
	lifecycle *Lifecycle
	tasks     *Tasks
	opts      Options
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

// New 校验依赖并创建处于 parsed 状态的 worker。
func New(opts Options) (*Worker, error) {
	switch {
	case opts.Cache == nil:
		return nil, errors.New("cache manager is required")
	case opts.Router == nil || opts.Interceptor == nil || opts.Network == nil:
		return nil, errors.New("router, interceptor and network are required")
	case opts.Push == nil:
		return nil, errors.New("push handler is required")
	case opts.Clicks == nil:
		return nil, errors.New("click router is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		lifecycle: NewLifecycle(),
		tasks:     NewTasks(logger, opts.Metrics),
		opts:      opts,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// State 返回生命周期状态。
func (w *Worker) State() State {
	return w.lifecycle.State()
}

// Lifecycle 暴露生命周期，用于 SkipWaiting。
func (w *Worker) Lifecycle() *Lifecycle {
	return w.lifecycle
}

// PendingTasks 返回未完成任务数。
func (w *Worker) PendingTasks() int {
	return w.tasks.Pending()
}

// CurrentNamespace 返回当前命名空间名称。
func (w *Worker) CurrentNamespace() string {
	return w.opts.Cache.CurrentName()
}

// Namespaces 列出存储中的全部命名空间。
func (w *Worker) Namespaces(ctx context.Context) ([]string, error) {
	return w.opts.Cache.Namespaces(ctx)
}

// Entries 返回当前命名空间的条目数量。
func (w *Worker) Entries(ctx context.Context) (int, error) {
	return w.opts.Cache.Entries(ctx)
}

// Start 执行启动序列：install -> skip waiting -> activate。
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Dispatch(ctx, &InstallEvent{}); err != nil {
		return err
	}
	if err := w.lifecycle.SkipWaiting(); err != nil {
		return err
	}
	return w.Dispatch(ctx, &ActivateEvent{})
}

// Dispatch 将事件作为登记任务运行并等待其结束。调用方 ctx 取消时立即返回，
// 任务继续运行直到完成，Shutdown 会等待它。
func (w *Worker) Dispatch(ctx context.Context, ev Event) error {
	task, err := w.tasks.WaitUntil(ctx, ev.Kind(), func(taskCtx context.Context) error {
		return w.handle(taskCtx, ev)
	})
	if err != nil {
		w.metrics.ObserveEvent(ev.Kind(), err)
		return err
	}
	err = task.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// 调用方已离开，响应体由任务结束后回收
		if fe, ok := ev.(*FetchEvent); ok {
			go func() {
				<-task.Done()
				if resp := fe.Response(); resp != nil {
					_ = resp.Close()
				}
			}()
		}
	}
	w.metrics.ObserveEvent(ev.Kind(), err)
	return err
}

func (w *Worker) handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case *InstallEvent:
		return w.install(ctx, e)
	case *ActivateEvent:
		return w.activate(ctx, e)
	case *FetchEvent:
		return w.fetch(ctx, e)
	case *PushEvent:
		return w.push(ctx, e)
	case *NotificationClickEvent:
		return w.click(ctx, e)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (w *Worker) install(ctx context.Context, e *InstallEvent) error {
	if err := w.lifecycle.Transition(StateInstalling); err != nil {
		return err
	}
	report, err := w.opts.Cache.Install(ctx)
	e.Report = report
	if err != nil {
		_ = w.lifecycle.Transition(StateRedundant)
		return fmt.Errorf("install: %w", err)
	}
	if err := w.lifecycle.Transition(StateInstalled); err != nil {
		return err
	}
	fields := logging.EventFields(e.Kind(), string(StateInstalled), report.Namespace)
	fields["stored"] = len(report.Stored)
	w.logger.WithFields(fields).Info("worker_installed")
	return nil
}

// activate 先清理旧命名空间，再接管窗口，最后才进入 activated 开始拦截请求。
// 已激活时重复 activate 只再做一次清理。
func (w *Worker) activate(ctx context.Context, e *ActivateEvent) error {
	switch w.lifecycle.State() {
	case StateActivated:
		evicted, err := w.opts.Cache.Activate(ctx)
		e.Evicted = evicted
		if err != nil {
			w.logger.WithError(err).WithField("action", "activate").Warn("namespace_cleanup_incomplete")
		}
		fields := logging.EventFields(e.Kind(), string(StateActivated), w.opts.Cache.CurrentName())
		fields["evicted"] = len(evicted)
		w.logger.WithFields(fields).Info("worker_reactivated")
		return nil
	case StateInstalled:
		if !w.lifecycle.WaitingSkipped() {
			return ErrWaiting
		}
		if err := w.lifecycle.Transition(StateActivating); err != nil {
			return err
		}
	}
	if w.lifecycle.State() != StateActivating {
		return fmt.Errorf("%w: activate from %s", ErrIllegalTransition, w.lifecycle.State())
	}

	evicted, err := w.opts.Cache.Activate(ctx)
	e.Evicted = evicted
	if err != nil {
		w.logger.WithError(err).WithField("action", "activate").Warn("namespace_cleanup_incomplete")
	}
	if w.opts.Clients != nil {
		e.Claimed = w.opts.Clients.Claim()
	}
	if err := w.lifecycle.Transition(StateActivated); err != nil {
		return err
	}
	fields := logging.EventFields(e.Kind(), string(StateActivated), w.opts.Cache.CurrentName())
	fields["evicted"] = len(evicted)
	fields["claimed"] = e.Claimed
	w.logger.WithFields(fields).Info("worker_activated")
	return nil
}

func (w *Worker) fetch(ctx context.Context, e *FetchEvent) error {
	if e.Request == nil || e.Request.URL == nil {
		return errors.New("fetch event without request")
	}
	if w.lifecycle.Controlling() {
		if class, ok := w.opts.Router.Classify(e.Request.Route()); ok {
			e.Strategy = string(class)
			resp, err := w.opts.Interceptor.Respond(ctx, e.Request, class)
			if err != nil {
				return err
			}
			e.SetResponse(resp)
			return nil
		}
	}

	e.Strategy = strategy.Passthrough
	resp, err := w.opts.Network.Fetch(ctx, e.Request)
	if err != nil {
		w.metrics.ObserveFetch(strategy.Passthrough, "error")
		return err
	}
	w.metrics.ObserveFetch(strategy.Passthrough, string(resp.Source))
	e.SetResponse(resp)
	return nil
}

func (w *Worker) push(ctx context.Context, e *PushEvent) error {
	state, err := w.opts.Push.Handle(ctx, e.Message)
	e.State = state
	return err
}

func (w *Worker) click(ctx context.Context, e *NotificationClickEvent) error {
	n := notify.Notification{ID: e.ID, Data: notify.Data{URL: e.URL}}
	if w.opts.Notifications != nil {
		if visible, ok := w.opts.Notifications.Get(e.ID); ok {
			n = visible
		}
	}
	result, err := w.opts.Clicks.Route(ctx, n)
	e.Result = result
	return err
}

// Shutdown 等待全部任务结束后进入 redundant。
func (w *Worker) Shutdown(ctx context.Context) error {
	err := w.tasks.Drain(ctx)
	if state := w.lifecycle.State(); state != StateRedundant {
		_ = w.lifecycle.Transition(StateRedundant)
	}
	return err
}
