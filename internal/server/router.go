package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler answers page requests for a mapped origin. Tests inject fakes.
type ProxyHandler interface {
	Handle(fiber.Ctx, *OriginRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *OriginRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *OriginRoute) error {
	return f(c, route)
}

// AppOptions 描述 HTTP 前端的依赖。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *OriginRegistry
	Proxy      ProxyHandler
	ListenPort int
}

func (o AppOptions) validate() error {
	switch {
	case o.Logger == nil:
		return errors.New("logger is required")
	case o.Registry == nil:
		return errors.New("origin registry is required")
	case o.Proxy == nil:
		return errors.New("proxy handler is required")
	case o.ListenPort <= 0:
		return fmt.Errorf("invalid listen port: %d", o.ListenPort)
	}
	return nil
}

const (
	localsRoute     = "_aurora_route"
	localsRequestID = "_aurora_request_id"

	// DiagnosticsPrefix 下的路径不参与 Host 映射，由 routes 包注册。
	DiagnosticsPrefix = "/-/"

	// 页面请求体原样转发，放宽 fiber 默认的 4MB
	maxRequestBody = 16 << 20
)

// front 把请求按 Host 分派给代理，诊断路径交给后续注册的路由。
type front struct {
	opts AppOptions
}

// NewApp builds the Fiber front: panic recovery, request IDs, Host lookup and
// a catch-all that hands mapped requests to the proxy. Diagnostics routes are
// registered by the caller afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	f := &front{opts: opts}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     maxRequestBody,
	})
	app.Use(recover.New())
	app.Use(assignRequestID)
	app.Use(f.resolveOrigin)
	app.All("/*", f.serve)
	return app, nil
}

func assignRequestID(c fiber.Ctx) error {
	id := uuid.NewString()
	c.Locals(localsRequestID, id)
	c.Set("X-Request-ID", id)
	return c.Next()
}

// resolveOrigin 按 Host 查找 OriginRoute，未映射的 Host 直接返回 404。
func (f *front) resolveOrigin(c fiber.Ctx) error {
	if diagnostics(c) {
		return c.Next()
	}
	host := requestHost(c)
	route, ok := f.opts.Registry.Lookup(host)
	if !ok {
		return f.hostUnmapped(c, host)
	}
	c.Locals(localsRoute, route)
	return c.Next()
}

func (f *front) serve(c fiber.Ctx) error {
	if diagnostics(c) {
		return c.Next()
	}
	route, ok := c.Locals(localsRoute).(*OriginRoute)
	if !ok || route == nil {
		return f.hostUnmapped(c, "")
	}
	return f.opts.Proxy.Handle(c, route)
}

func (f *front) hostUnmapped(c fiber.Ctx, host string) error {
	f.opts.Logger.WithFields(logrus.Fields{
		"action":     "host_lookup",
		"host":       host,
		"port":       f.opts.ListenPort,
		"request_id": RequestID(c),
	}).Warn("host_unmapped")

	if host != "" {
		c.Set("X-Aurora-Host", host)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "host_unmapped"})
}

// requestHost 优先取原始 Host 头（保留端口），缺失时退回 fiber 的解析结果。
func requestHost(c fiber.Ctx) string {
	host := string(c.Request().Header.Peek(fiber.HeaderHost))
	if host == "" {
		host = c.Hostname()
	}
	return strings.TrimSpace(host)
}

func diagnostics(c fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().URI().Path()), DiagnosticsPrefix)
}

// RequestID 返回中间件分配的请求 ID。
func RequestID(c fiber.Ctx) string {
	id, _ := c.Locals(localsRequestID).(string)
	return id
}
