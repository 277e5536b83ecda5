package routes

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/notify"
	"github.com/aurora-watch/aurora-agent/internal/push"
	"github.com/aurora-watch/aurora-agent/internal/server"
	"github.com/aurora-watch/aurora-agent/internal/version"
	"github.com/aurora-watch/aurora-agent/internal/worker"
)

// Agent 是诊断接口依赖的 worker 能力。
type Agent interface {
	State() worker.State
	CurrentNamespace() string
	Namespaces(ctx context.Context) ([]string, error)
	Entries(ctx context.Context) (int, error)
	PendingTasks() int
	Dispatch(ctx context.Context, ev worker.Event) error
}

// NotificationLister 返回当前可见通知。
type NotificationLister interface {
	Visible() []notify.Notification
}

// WindowCounter 返回已连接窗口数量。
type WindowCounter interface {
	Len() int
}

// Options 汇总 /-/ 诊断路由的依赖，Windows/Origins/Metrics 可为空。
type Options struct {
	Agent         Agent
	Notifications NotificationLister
	Windows       WindowCounter
	Origins       *server.OriginRegistry
	Metrics       http.Handler
	Logger        *logrus.Logger
}

// Register 在 app 上挂载诊断与事件入口，需在 server.NewApp 之后调用。
func Register(app *fiber.App, opts Options) error {
	if app == nil {
		return errors.New("app is required")
	}
	if opts.Agent == nil {
		return errors.New("agent is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	h := &handlers{opts: opts}
	app.Get("/-/status", h.status)
	app.Get("/-/notifications", h.notifications)
	app.Post("/-/push", h.push)
	app.Post("/-/notifications/:id/click", h.click)
	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics))
	}
	return nil
}

type handlers struct {
	opts Options
}

type statusPayload struct {
	Service      string          `json:"service"`
	Version      string          `json:"version"`
	State        worker.State    `json:"state"`
	Namespace    string          `json:"namespace"`
	Namespaces   []string        `json:"namespaces"`
	Entries      int             `json:"entries"`
	PendingTasks int             `json:"pending_tasks"`
	Windows      int             `json:"windows"`
	Origins      []originPayload `json:"origins,omitempty"`
}

type originPayload struct {
	Host     string `json:"host"`
	Kind     string `json:"kind"`
	Upstream string `json:"upstream"`
}

func (h *handlers) status(c fiber.Ctx) error {
	agent := h.opts.Agent
	namespaces, err := agent.Namespaces(c.Context())
	if err != nil {
		h.opts.Logger.WithError(err).WithField("action", "status").Warn("namespace_list_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "namespace_list_failed"})
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	entries, err := agent.Entries(c.Context())
	if err != nil {
		h.opts.Logger.WithError(err).WithField("action", "status").Warn("entry_count_failed")
	}

	payload := statusPayload{
		Service:      version.Service,
		Version:      version.Version,
		State:        agent.State(),
		Namespace:    agent.CurrentNamespace(),
		Namespaces:   namespaces,
		Entries:      entries,
		PendingTasks: agent.PendingTasks(),
	}
	if h.opts.Windows != nil {
		payload.Windows = h.opts.Windows.Len()
	}
	for _, route := range h.opts.Origins.List() {
		payload.Origins = append(payload.Origins, originPayload{
			Host:     route.Host,
			Kind:     route.Kind,
			Upstream: route.UpstreamURL.String(),
		})
	}
	return c.JSON(payload)
}

func (h *handlers) notifications(c fiber.Ctx) error {
	visible := []notify.Notification{}
	if h.opts.Notifications != nil {
		if list := h.opts.Notifications.Visible(); list != nil {
			visible = list
		}
	}
	return c.JSON(fiber.Map{"notifications": visible})
}

// push 把原始请求体作为推送负载；空请求体视为无负载推送。
func (h *handlers) push(c fiber.Ctx) error {
	var data []byte
	if body := c.Body(); len(body) > 0 {
		data = append([]byte(nil), body...)
	}
	ev := &worker.PushEvent{Message: push.Message{Data: data}}
	if err := h.opts.Agent.Dispatch(c.Context(), ev); err != nil {
		return h.eventFailed(c, ev.Kind(), err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"state": ev.State})
}

type clickRequest struct {
	URL string `json:"url"`
}

func (h *handlers) click(c fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "notification_id_required"})
	}
	var req clickRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_click_body"})
		}
	}

	ev := &worker.NotificationClickEvent{ID: id, URL: req.URL}
	if err := h.opts.Agent.Dispatch(c.Context(), ev); err != nil {
		return h.eventFailed(c, ev.Kind(), err)
	}
	payload := fiber.Map{"action": ev.Result.Action}
	if ev.Result.Window.ID != "" {
		payload["window"] = ev.Result.Window
	}
	return c.JSON(payload)
}

func (h *handlers) eventFailed(c fiber.Ctx, kind string, err error) error {
	h.opts.Logger.WithError(err).WithFields(logrus.Fields{
		"action":     kind,
		"request_id": server.RequestID(c),
	}).Warn("event_failed")

	status := fiber.StatusInternalServerError
	code := "event_failed"
	if errors.Is(err, worker.ErrShuttingDown) {
		status = fiber.StatusServiceUnavailable
		code = "shutting_down"
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}
