package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/clients"
	"github.com/aurora-watch/aurora-agent/internal/metrics"
)

// Notification 是一次展示的通知记录。
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Badge     string    `json:"badge"`
	Vibrate   []int     `json:"vibrate"`
	Tag       string    `json:"tag"`
	Data      Data      `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Fallback  bool      `json:"fallback,omitempty"`
}

// Data 是通知附带的点击目标。
type Data struct {
	URL string `json:"url"`
}

// Broadcaster 将通知推送到已连接窗口。
type Broadcaster interface {
	Broadcast(msg clients.Message) int
}

// Center 保存当前可见通知，同一 tag 只保留最新一条。
type Center struct {
	windows Broadcaster
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	byTag map[string]Notification
}

// NewCenter 创建通知中心，windows 可以为空。
func NewCenter(windows Broadcaster, logger *logrus.Logger, m *metrics.Metrics) *Center {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Center{
		windows: windows,
		logger:  logger,
		metrics: m,
		byTag:   make(map[string]Notification),
	}
}

func dedupKey(n Notification) string {
	if n.Tag != "" {
		return n.Tag
	}
	return n.ID
}

// Show 展示通知；已有同 tag 通知时直接替换。
func (c *Center) Show(_ context.Context, n Notification) error {
	key := dedupKey(n)
	c.mu.Lock()
	previous, replaced := c.byTag[key]
	c.byTag[key] = n
	c.mu.Unlock()

	kind := "payload"
	if n.Fallback {
		kind = "fallback"
	}
	c.metrics.ObserveNotification(kind)

	fields := logrus.Fields{
		"action":          "show_notification",
		"notification_id": n.ID,
		"tag":             n.Tag,
		"title":           n.Title,
	}
	if replaced {
		fields["replaced_id"] = previous.ID
	}
	c.logger.WithFields(fields).Info("notification_shown")

	if c.windows != nil {
		c.windows.Broadcast(clients.Message{Type: clients.MessageNotification, Tag: n.Tag, Notification: n})
	}
	return nil
}

// Get 按 ID 查找可见通知。
func (c *Center) Get(id string) (Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range c.byTag {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// Close 关闭通知，重复关闭返回 false 且无副作用。
func (c *Center) Close(id string) bool {
	c.mu.Lock()
	var closed *Notification
	for key, n := range c.byTag {
		if n.ID == id {
			delete(c.byTag, key)
			closed = &n
			break
		}
	}
	c.mu.Unlock()
	if closed == nil {
		return false
	}
	if c.windows != nil {
		c.windows.Broadcast(clients.Message{Type: clients.MessageCloseNotification, Tag: closed.Tag, Notification: closed.ID})
	}
	return true
}

// Visible 返回全部可见通知，按时间先后排列。
func (c *Center) Visible() []Notification {
	c.mu.RLock()
	out := make([]Notification, 0, len(c.byTag))
	for _, n := range c.byTag {
		out = append(out, n)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
