package worker

import (
	"github.com/aurora-watch/aurora-agent/internal/fetch"
	"github.com/aurora-watch/aurora-agent/internal/namespace"
	"github.com/aurora-watch/aurora-agent/internal/notify"
	"github.com/aurora-watch/aurora-agent/internal/push"
	"github.com/aurora-watch/aurora-agent/internal/strategy"
)

// 事件类型名，同时用作日志与指标标签。
const (
	KindInstall           = "install"
	KindActivate          = "activate"
	KindFetch             = "fetch"
	KindPush              = "push"
	KindNotificationClick = "notificationclick"
)

// Event 是分发器接收的事件。处理结果写回事件本身，Dispatch 成功返回后可读。
type Event interface {
	Kind() string
}

// InstallEvent 触发预缓存。
type InstallEvent struct {
	Report namespace.InstallReport
}

func (*InstallEvent) Kind() string { return KindInstall }

// ActivateEvent 触发旧命名空间清理与接管窗口。
type ActivateEvent struct {
	Evicted []string
	Claimed int
}

func (*ActivateEvent) Kind() string { return KindActivate }

// FetchEvent 是一次被拦截的请求。
type FetchEvent struct {
	Request *fetch.Request

	// Strategy 是实际使用的策略；未拦截时为 strategy.Passthrough。
	Strategy string
	response *fetch.Response
}

func (*FetchEvent) Kind() string { return KindFetch }

// Response 返回处理结果，调用方负责关闭。
func (e *FetchEvent) Response() *fetch.Response {
	return e.response
}

// SetResponse 记录事件的处理结果。
func (e *FetchEvent) SetResponse(resp *fetch.Response) {
	e.response = resp
}

// Intercepted 报告请求是否经过缓存策略处理。
func (e *FetchEvent) Intercepted() bool {
	return e.Strategy != "" && e.Strategy != strategy.Passthrough
}

// PushEvent 携带一次推送负载。
type PushEvent struct {
	Message push.Message
	State   push.State
}

func (*PushEvent) Kind() string { return KindPush }

// NotificationClickEvent 是一次通知点击；URL 在通知已不可见时作为目标地址。
type NotificationClickEvent struct {
	ID     string
	URL    string
	Result notify.ClickResult
}

func (*NotificationClickEvent) Kind() string { return KindNotificationClick }
