package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/fetch"
	"github.com/aurora-watch/aurora-agent/internal/logging"
	"github.com/aurora-watch/aurora-agent/internal/server"
	"github.com/aurora-watch/aurora-agent/internal/worker"
)

// Dispatcher 将 fetch 事件交给 worker 处理。
type Dispatcher interface {
	Dispatch(ctx context.Context, ev worker.Event) error
}

// Handler 把页面请求转换为 fetch 事件，并把事件结果写回 Fiber 响应。
type Handler struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler around the worker dispatcher.
func NewHandler(dispatcher Dispatcher, logger *logrus.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{dispatcher: dispatcher, logger: logger}, nil
}

// Handle 实现 server.ProxyHandler；处理过程中的 panic 会被转换为 500 JSON。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) (err error) {
	requestID := server.RequestID(c)
	defer func() {
		if r := recover(); r != nil {
			err = h.respondPanic(c, route, r, requestID)
		}
	}()
	return h.serve(c, route, requestID)
}

func (h *Handler) serve(c fiber.Ctx, route *server.OriginRoute, requestID string) error {
	started := time.Now()
	req, err := buildRequest(c, route)
	if err != nil {
		h.logResult(requestID, c.Method(), string(c.Request().RequestURI()), "", "", 0, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ev := &worker.FetchEvent{Request: req}
	if err := h.dispatcher.Dispatch(ctx, ev); err != nil {
		h.logResult(requestID, req.Method, req.URL.String(), ev.Strategy, "", 0, started, err)
		if errors.Is(err, worker.ErrShuttingDown) {
			return h.writeError(c, fiber.StatusServiceUnavailable, "shutting_down")
		}
		return h.writeError(c, fiber.StatusBadGateway, "network_failed")
	}

	resp := ev.Response()
	if resp == nil {
		err := fmt.Errorf("no response for %s", req.URL)
		h.logResult(requestID, req.Method, req.URL.String(), ev.Strategy, "", 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "network_failed")
	}
	defer resp.Close()

	return h.writeResponse(c, ev, resp, requestID, started)
}

func (h *Handler) writeResponse(c fiber.Ctx, ev *worker.FetchEvent, resp *fetch.Response, requestID string, started time.Time) error {
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Aurora-Strategy", ev.Strategy)
	c.Set("X-Aurora-Source", string(resp.Source))
	if !resp.StoredAt.IsZero() {
		c.Set("X-Aurora-Cached-At", resp.StoredAt.UTC().Format(http.TimeFormat))
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	url := ev.Request.URL.String()
	if ev.Request.Method == http.MethodHead || resp.Body == nil {
		h.logResult(requestID, ev.Request.Method, url, ev.Strategy, string(resp.Source), resp.Status, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(requestID, ev.Request.Method, url, ev.Strategy, string(resp.Source), resp.Status, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("response stream failed: %v", err))
	}
	return nil
}

// buildRequest 还原页面视角的请求：逻辑 URL、请求模式、请求头与请求体。
func buildRequest(c fiber.Ctx, route *server.OriginRoute) (*fetch.Request, error) {
	logical, err := route.LogicalURL(string(c.Request().RequestURI()))
	if err != nil {
		return nil, err
	}
	header := fiberHeadersAsHTTP(c)
	header.Del("Host")

	req := fetch.NewRequest(c.Method(), logical, requestMode(c.Method(), header))
	req.Header = header
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req, nil
}

// requestMode 依据 Fetch Metadata 头推断请求模式；没有该头的 GET 请求若接受 HTML 则视为导航。
func requestMode(method string, header http.Header) fetch.Mode {
	if strings.EqualFold(header.Get("Sec-Fetch-Dest"), "document") {
		return fetch.ModeNavigate
	}
	if raw := header.Get("Sec-Fetch-Mode"); raw != "" {
		return fetch.ParseMode(raw)
	}
	if method == http.MethodGet && strings.Contains(header.Get("Accept"), "text/html") {
		return fetch.ModeNavigate
	}
	return fetch.ModeNoCORS
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) respondPanic(c fiber.Ctx, route *server.OriginRoute, recovered any, requestID string) error {
	fields := logrus.Fields{
		"action":     "fetch",
		"request_id": requestID,
		"error":      "proxy_panic",
	}
	if route != nil {
		fields["host"] = route.Host
	}
	h.logger.WithFields(fields).Error(fmt.Sprintf("panic: %v", recovered))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return h.writeError(c, fiber.StatusInternalServerError, "proxy_panic")
}

func (h *Handler) logResult(
	requestID string,
	method string,
	url string,
	strategy string,
	source string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.FetchFields(requestID, method, url, strategy, source, status)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 逐值追加，保留多值头（如 Set-Cookie）；Content-Length 由 Fiber 按实际正文计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		c.Response().Header.Del(key)
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
