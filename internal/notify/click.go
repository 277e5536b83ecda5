package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/clients"
	"github.com/aurora-watch/aurora-agent/internal/metrics"
)

// 点击后的动作。
const (
	ActionFocus = "focus"
	ActionOpen  = "open"
)

const defaultClickURL = "/"

// Windows 是点击路由需要的窗口操作。
type Windows interface {
	MatchAll(opts clients.MatchOptions) []clients.Window
	Focus(ctx context.Context, windowID string) (clients.Window, error)
	OpenWindow(ctx context.Context, url string) (clients.Window, error)
}

// Closer 关闭通知，需要幂等。
type Closer interface {
	Close(id string) bool
}

// ClickResult 记录一次点击实际执行的动作。
type ClickResult struct {
	Action string         `json:"action"`
	Window clients.Window `json:"window"`
}

// ClickRouter 处理通知点击：先关闭通知，再聚焦已有窗口或打开新窗口。
type ClickRouter struct {
	closer  Closer
	windows Windows
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewClickRouter 创建点击路由。
func NewClickRouter(closer Closer, windows Windows, logger *logrus.Logger, m *metrics.Metrics) *ClickRouter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ClickRouter{closer: closer, windows: windows, logger: logger, metrics: m}
}

// Route 对每次点击恰好执行一次 focus 或 open。
func (r *ClickRouter) Route(ctx context.Context, n Notification) (ClickResult, error) {
	if r.closer != nil {
		r.closer.Close(n.ID)
	}

	matches := r.windows.MatchAll(clients.MatchOptions{Type: clients.TypeWindow, IncludeUncontrolled: true})
	if len(matches) > 0 {
		window, err := r.windows.Focus(ctx, matches[0].ID)
		switch {
		case err == nil:
			return r.done(n, ClickResult{Action: ActionFocus, Window: window}), nil
		case errors.Is(err, clients.ErrWindowNotFound):
			// 窗口在枚举后已断开，按无匹配处理
		default:
			return ClickResult{}, err
		}
	}

	target := n.Data.URL
	if target == "" {
		target = defaultClickURL
	}
	window, err := r.windows.OpenWindow(ctx, target)
	if err != nil {
		return ClickResult{}, fmt.Errorf("notification %s: %w", n.ID, err)
	}
	return r.done(n, ClickResult{Action: ActionOpen, Window: window}), nil
}

func (r *ClickRouter) done(n Notification, result ClickResult) ClickResult {
	r.metrics.ObserveClick(result.Action)
	r.logger.WithFields(logrus.Fields{
		"action":          "notification_click",
		"notification_id": n.ID,
		"result":          result.Action,
		"window_id":       result.Window.ID,
		"url":             result.Window.URL,
	}).Info("notification_click_routed")
	return result
}
