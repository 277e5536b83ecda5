package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/aurora-watch/aurora-agent/internal/config"
)

// 源的种类：应用源或需要新鲜数据的 API Host。
const (
	OriginApp = "app"
	OriginAPI = "api"
)

// OriginRoute 描述一个逻辑源（页面看到的 scheme://host）及其真实上游，
// 在构造 Registry 时提前解析完成，供路由/代理层直接复用。
type OriginRoute struct {
	// Host 是逻辑主机名（小写、不含端口）。
	Host string
	Kind string
	// Scheme 是页面看到的协议；应用源沿用配置，API Host 固定为 https。
	Scheme string
	// UpstreamURL 是实际回源地址。
	UpstreamURL *url.URL
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int

	// authority 是逻辑 URL 中的 host[:port]，应用源可能带端口。
	authority string
}

// LogicalURL 拼出页面视角的完整 URL，requestURI 形如 /path?query。
func (r *OriginRoute) LogicalURL(requestURI string) (*url.URL, error) {
	if requestURI == "" {
		requestURI = "/"
	}
	rel, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return nil, fmt.Errorf("invalid request uri %q: %w", requestURI, err)
	}
	authority := r.authority
	if authority == "" {
		authority = r.Host
	}
	return &url.URL{
		Scheme:   r.Scheme,
		Host:     authority,
		Path:     rel.Path,
		RawPath:  rel.RawPath,
		RawQuery: rel.RawQuery,
	}, nil
}

// OriginRegistry 提供 Host/Host:port 到 OriginRoute 的查询，所有源共享同一个监听端口。
type OriginRegistry struct {
	routes  map[string]*OriginRoute
	ordered []*OriginRoute
	appHost string
}

// NewOriginRegistry 根据配置构建 Host 映射：应用源 + 全部 API Host，
// API Host 默认回源 https://<host>，可被 [[Origin]] 覆盖。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{routes: make(map[string]*OriginRoute)}

	appOrigin, err := url.Parse(cfg.App.Origin)
	if err != nil || appOrigin.Host == "" {
		return nil, fmt.Errorf("invalid app origin %q", cfg.App.Origin)
	}
	appUpstream, err := url.Parse(cfg.App.Upstream)
	if err != nil || appUpstream.Host == "" {
		return nil, fmt.Errorf("invalid app upstream %q", cfg.App.Upstream)
	}
	registry.appHost = normalizeDomain(appOrigin.Host)
	if err := registry.add(&OriginRoute{
		Host:        registry.appHost,
		Kind:        OriginApp,
		Scheme:      appOrigin.Scheme,
		UpstreamURL: appUpstream,
		ListenPort:  cfg.Global.ListenPort,
		authority:   strings.ToLower(appOrigin.Host),
	}); err != nil {
		return nil, err
	}

	overrides := make(map[string]string, len(cfg.Origins))
	for _, origin := range cfg.Origins {
		overrides[normalizeDomain(origin.Host)] = origin.Upstream
	}

	for _, host := range cfg.App.APIHosts {
		normalized := normalizeDomain(host)
		if normalized == "" {
			return nil, fmt.Errorf("invalid api host %q", host)
		}
		rawUpstream := "https://" + normalized
		if override, ok := overrides[normalized]; ok {
			rawUpstream = override
			delete(overrides, normalized)
		}
		upstream, err := url.Parse(rawUpstream)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream for %s: %w", normalized, err)
		}
		if err := registry.add(&OriginRoute{
			Host:        normalized,
			Kind:        OriginAPI,
			Scheme:      "https",
			UpstreamURL: upstream,
			ListenPort:  cfg.Global.ListenPort,
		}); err != nil {
			return nil, err
		}
	}

	for host := range overrides {
		return nil, fmt.Errorf("origin override %s is not an api host", host)
	}

	return registry, nil
}

func (r *OriginRegistry) add(route *OriginRoute) error {
	if _, exists := r.routes[route.Host]; exists {
		return fmt.Errorf("duplicate origin mapping detected for %s", route.Host)
	}
	r.routes[route.Host] = route
	r.ordered = append(r.ordered, route)
	return nil
}

// Lookup 根据 Host 或 Host:port 查找 OriginRoute。
func (r *OriginRegistry) Lookup(host string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}
	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}
	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Resolve 将逻辑 URL 映射为上游 URL，供网络层使用。
func (r *OriginRegistry) Resolve(logical *url.URL) (*url.URL, error) {
	if logical == nil {
		return nil, errors.New("logical url is nil")
	}
	route, ok := r.Lookup(logical.Host)
	if !ok {
		return nil, fmt.Errorf("host %s is not mapped", logical.Host)
	}
	relative := &url.URL{Path: logical.Path, RawPath: logical.RawPath, RawQuery: logical.RawQuery}
	return route.UpstreamURL.ResolveReference(relative), nil
}

// AppHost 返回应用源主机名。
func (r *OriginRegistry) AppHost() string {
	if r == nil {
		return ""
	}
	return r.appHost
}

// List 返回按注册顺序排列的源，用于 /-/status 输出。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
