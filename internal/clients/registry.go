package clients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TypeWindow 是唯一支持的客户端类型。
const TypeWindow = "window"

// 服务端与窗口之间的消息类型。
const (
	MessageAttached          = "attached"
	MessageNotification      = "notification"
	MessageCloseNotification = "close-notification"
	MessageFocus             = "focus"
	MessageNavigate          = "navigate"
)

// ErrWindowNotFound 表示窗口不存在或已断开。
var ErrWindowNotFound = errors.New("client window not found")

// Window 是某个已连接（或等待连接）的应用窗口的快照。
type Window struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Type        string    `json:"type"`
	Focused     bool      `json:"focused"`
	Controlled  bool      `json:"controlled"`
	Pending     bool      `json:"pending,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Message 是窗口通道上的 JSON 消息。
type Message struct {
	Type         string `json:"type"`
	WindowID     string `json:"window_id,omitempty"`
	URL          string `json:"url,omitempty"`
	Tag          string `json:"tag,omitempty"`
	Notification any    `json:"notification,omitempty"`
}

// Sender 向单个窗口投递消息。
type Sender interface {
	Send(msg Message) error
	Close() error
}

// MatchOptions 对应 clients.matchAll 的查询参数。
type MatchOptions struct {
	Type                string
	IncludeUncontrolled bool
}

// Registry 保存全部窗口，所有方法并发安全。
type Registry struct {
	launcher Launcher
	logger   *logrus.Logger
	now      func() time.Time

	mu          sync.RWMutex
	seq         uint64
	controlling bool
	windows     map[string]*entry
}

type entry struct {
	window Window
	sender Sender
	seq    uint64
}

// NewRegistry 创建窗口注册表；launcher 为空时只记录打开请求。
func NewRegistry(launcher Launcher, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if launcher == nil {
		launcher = LogLauncher{Logger: logger}
	}
	return &Registry{
		launcher: launcher,
		logger:   logger,
		now:      time.Now,
		windows:  make(map[string]*entry),
	}
}

// Attach 注册一个连接上来的窗口。windowID 命中待连接窗口时复用该记录。
func (r *Registry) Attach(windowID, url string, sender Sender) Window {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.windows[windowID]; ok && windowID != "" && e.window.Pending {
		e.sender = sender
		e.window.Pending = false
		if url != "" {
			e.window.URL = url
		}
		e.window.ConnectedAt = r.now()
		return e.window
	}

	r.seq++
	e := &entry{
		window: Window{
			ID:          uuid.NewString(),
			URL:         url,
			Type:        TypeWindow,
			Controlled:  r.controlling,
			ConnectedAt: r.now(),
		},
		sender: sender,
		seq:    r.seq,
	}
	r.windows[e.window.ID] = e
	return e.window
}

// Detach 移除窗口，重复调用无副作用。
func (r *Registry) Detach(windowID string) {
	r.mu.Lock()
	e, ok := r.windows[windowID]
	delete(r.windows, windowID)
	r.mu.Unlock()
	if ok && e.sender != nil {
		_ = e.sender.Close()
	}
}

// Get 返回指定窗口快照。
func (r *Registry) Get(windowID string) (Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.windows[windowID]
	if !ok {
		return Window{}, false
	}
	return e.window, true
}

// Navigate 记录窗口当前地址。
func (r *Registry) Navigate(windowID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.windows[windowID]
	if !ok {
		return ErrWindowNotFound
	}
	e.window.URL = url
	return nil
}

// MatchAll 返回符合条件的窗口：聚焦窗口在前，其余按连接顺序。
func (r *Registry) MatchAll(opts MatchOptions) []Window {
	r.mu.RLock()
	matched := make([]*entry, 0, len(r.windows))
	for _, e := range r.windows {
		if opts.Type != "" && opts.Type != "all" && e.window.Type != opts.Type {
			continue
		}
		if !opts.IncludeUncontrolled && !e.window.Controlled {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].window.Focused != matched[j].window.Focused {
			return matched[i].window.Focused
		}
		return matched[i].seq < matched[j].seq
	})
	out := make([]Window, len(matched))
	for i, e := range matched {
		out[i] = e.window
	}
	r.mu.RUnlock()
	return out
}

// Focus 将窗口置为聚焦状态并通知该窗口。
func (r *Registry) Focus(_ context.Context, windowID string) (Window, error) {
	r.mu.Lock()
	target, ok := r.windows[windowID]
	if !ok {
		r.mu.Unlock()
		return Window{}, ErrWindowNotFound
	}
	r.markFocusedLocked(windowID)
	window := target.window
	sender := target.sender
	r.mu.Unlock()

	if sender != nil {
		if err := sender.Send(Message{Type: MessageFocus, WindowID: windowID}); err != nil {
			return window, fmt.Errorf("focus window %s: %w", windowID, err)
		}
	}
	return window, nil
}

// MarkFocused 记录窗口主动上报的聚焦事件。
func (r *Registry) MarkFocused(windowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.windows[windowID]; !ok {
		return ErrWindowNotFound
	}
	r.markFocusedLocked(windowID)
	return nil
}

func (r *Registry) markFocusedLocked(windowID string) {
	for id, e := range r.windows {
		e.window.Focused = id == windowID
	}
}

// OpenWindow 创建待连接窗口并请求 Launcher 打开它。
func (r *Registry) OpenWindow(ctx context.Context, url string) (Window, error) {
	r.mu.Lock()
	r.seq++
	e := &entry{
		window: Window{
			ID:          uuid.NewString(),
			URL:         url,
			Type:        TypeWindow,
			Focused:     true,
			Controlled:  r.controlling,
			Pending:     true,
			ConnectedAt: r.now(),
		},
		seq: r.seq,
	}
	r.markFocusedLocked("")
	r.windows[e.window.ID] = e
	window := e.window
	r.mu.Unlock()

	if err := r.launcher.Launch(ctx, LaunchRequest{WindowID: window.ID, URL: url}); err != nil {
		r.mu.Lock()
		delete(r.windows, window.ID)
		r.mu.Unlock()
		return Window{}, fmt.Errorf("open window %s: %w", url, err)
	}
	return window, nil
}

// Claim 让当前 worker 控制全部已知窗口，之后新连接的窗口也默认受控。
func (r *Registry) Claim() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controlling = true
	claimed := 0
	for _, e := range r.windows {
		if !e.window.Controlled {
			e.window.Controlled = true
			claimed++
		}
	}
	return claimed
}

// Broadcast 向所有已连接窗口投递消息，返回成功数量。
func (r *Registry) Broadcast(msg Message) int {
	r.mu.RLock()
	type target struct {
		id     string
		sender Sender
	}
	targets := make([]target, 0, len(r.windows))
	for id, e := range r.windows {
		if e.sender != nil {
			targets = append(targets, target{id: id, sender: e.sender})
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if err := t.sender.Send(msg); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"action":    "broadcast",
				"window_id": t.id,
				"type":      msg.Type,
			}).Warn("window_send_failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Len 返回窗口数量（含待连接窗口）。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.windows)
}
