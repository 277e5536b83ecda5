package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/notify"
)

// State 是处理一次推送时经过的状态。
type State string

const (
	StateIdle               State = "idle"
	StateReceiving          State = "receiving"
	StateParsing            State = "parsing"
	StateDisplaying         State = "displaying"
	StateFallbackDisplaying State = "fallback_displaying"
)

// Message 是一次推送事件。Data 为 nil 表示没有负载。
type Message struct {
	Data []byte
}

// HasPayload 报告推送是否携带负载。
func (m Message) HasPayload() bool {
	return m.Data != nil
}

// Defaults 是通知字段的缺省值。
type Defaults struct {
	Title         string
	Body          string
	Icon          string
	Badge         string
	Tag           string
	URL           string
	Vibrate       []int
	FallbackTitle string
	FallbackBody  string
}

// DefaultDefaults 返回内置的通知缺省值。
func DefaultDefaults() Defaults {
	return Defaults{
		Title:         "Aurora Watch",
		Body:          "New aurora activity detected",
		Icon:          "/icons/icon-192x192.png",
		Badge:         "/icons/badge-72x72.png",
		Tag:           "aurora-alert",
		URL:           "/",
		Vibrate:       []int{100, 50, 100},
		FallbackTitle: "Notification Error",
		FallbackBody:  "A notification arrived but its content could not be read.",
	}
}

// Displayer 执行通知展示副作用。
type Displayer interface {
	Show(ctx context.Context, n notify.Notification) error
}

// payloadString 取对象中的字符串字段；非对象或非字符串都视为缺失。
func payloadString(doc any, field string) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	value, _ := obj[field].(string)
	return strings.TrimSpace(value)
}

// Handler 解析推送并展示通知。
type Handler struct {
	defaults Defaults
	display  Displayer
	logger   *logrus.Logger
	now      func() time.Time
	newID    func() string
}

// NewHandler 创建推送处理器。
func NewHandler(defaults Defaults, display Displayer, logger *logrus.Logger) (*Handler, error) {
	if display == nil {
		return nil, errors.New("notification displayer is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		defaults: defaults,
		display:  display,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Handle 处理一次推送，返回最终经过的展示状态；没有负载时返回 StateIdle。
// 只有展示本身失败才返回 error，负载格式错误会转为兜底通知。
func (h *Handler) Handle(ctx context.Context, msg Message) (State, error) {
	h.trace(StateReceiving, len(msg.Data))
	if !msg.HasPayload() {
		h.logger.WithField("action", "push").Info("push_without_payload")
		return StateIdle, nil
	}

	h.trace(StateParsing, len(msg.Data))
	n, state := h.Build(msg.Data)
	h.trace(state, len(msg.Data))

	if err := h.display.Show(ctx, n); err != nil {
		return state, fmt.Errorf("display notification: %w", err)
	}
	return state, nil
}

// Build 根据原始负载构造通知记录。
func (h *Handler) Build(data []byte) (notify.Notification, State) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "push",
			"raw":    truncate(string(data), 128),
		}).Warn("push_payload_malformed")
		n := h.base()
		n.Title = h.defaults.FallbackTitle
		n.Body = h.defaults.FallbackBody
		n.Fallback = true
		return n, StateFallbackDisplaying
	}

	// 合法 JSON 但结构不符时按缺失字段处理
	n := h.base()
	if title := payloadString(doc, "title"); title != "" {
		n.Title = title
	}
	if body := payloadString(doc, "body"); body != "" {
		n.Body = body
	}
	if url := payloadString(doc, "url"); url != "" {
		n.Data.URL = url
	}
	return n, StateDisplaying
}

func (h *Handler) base() notify.Notification {
	return notify.Notification{
		ID:        h.newID(),
		Title:     h.defaults.Title,
		Body:      h.defaults.Body,
		Icon:      h.defaults.Icon,
		Badge:     h.defaults.Badge,
		Vibrate:   append([]int(nil), h.defaults.Vibrate...),
		Tag:       h.defaults.Tag,
		Data:      notify.Data{URL: h.defaults.URL},
		Timestamp: h.now(),
	}
}

func (h *Handler) trace(state State, size int) {
	h.logger.WithFields(logrus.Fields{
		"action": "push",
		"state":  state,
		"bytes":  size,
	}).Debug("push_state")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
