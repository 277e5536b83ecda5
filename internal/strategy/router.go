package strategy

import (
	"net/http"
	"net/url"
	"strings"
)

// Class 描述请求在缓存与网络之间的解析策略。
type Class string

const (
	NetworkOnly     Class = "network-only"
	NetworkFirst    Class = "network-first-cache-fallback"
	NavigationFirst Class = "navigation-network-first"
	CacheFirst      Class = "cache-first-network-fallback"
)

// Passthrough 仅用于日志/响应头，表示请求未被拦截。
const Passthrough = "passthrough"

// Request 是分类所需的最小请求视图。
type Request struct {
	Method   string
	URL      *url.URL
	Navigate bool
}

// Tables 是静态配置的路由表。
type Tables struct {
	NetworkOnlyPaths []string
	APIHosts         []string
}

// Router 根据静态表为请求选择策略，构造后只读，可并发使用。
type Router struct {
	networkOnly map[string]struct{}
	apiHosts    map[string]struct{}
}

// NewRouter 构建路由表，host 统一小写并去掉端口。
func NewRouter(tables Tables) *Router {
	r := &Router{
		networkOnly: make(map[string]struct{}, len(tables.NetworkOnlyPaths)),
		apiHosts:    make(map[string]struct{}, len(tables.APIHosts)),
	}
	for _, p := range tables.NetworkOnlyPaths {
		if p = strings.TrimSpace(p); p != "" {
			r.networkOnly[p] = struct{}{}
		}
	}
	for _, h := range tables.APIHosts {
		if h = normalizeHost(h); h != "" {
			r.apiHosts[h] = struct{}{}
		}
	}
	return r
}

// Classify 按优先级匹配：非 GET 不拦截 → network-only 路径 → API host →
// 导航请求 → 其余全部 cache-first。第二个返回值为 false 表示直接透传。
func (r *Router) Classify(req Request) (Class, bool) {
	if !strings.EqualFold(req.Method, http.MethodGet) || req.URL == nil {
		return "", false
	}
	// 实时数据接口即便同时命中 API host 也不能被缓存遮蔽
	if _, ok := r.networkOnly[requestPath(req.URL)]; ok {
		return NetworkOnly, true
	}
	if _, ok := r.apiHosts[normalizeHost(req.URL.Host)]; ok {
		return NetworkFirst, true
	}
	if req.Navigate {
		return NavigationFirst, true
	}
	return CacheFirst, true
}

func requestPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func normalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.LastIndex(host, ":"); idx > -1 && !strings.HasSuffix(host, "]") {
		host = host[:idx]
	}
	return strings.TrimSuffix(host, ".")
}
