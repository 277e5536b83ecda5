package fetch

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/aurora-watch/aurora-agent/internal/cache"
	"github.com/aurora-watch/aurora-agent/internal/strategy"
)

// Mode 对应浏览器 Request.mode，决定跨域响应是否可检查。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// ParseMode 解析 Sec-Fetch-Mode 头，未知值按 no-cors 处理。
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeNavigate:
		return ModeNavigate
	case ModeSameOrigin:
		return ModeSameOrigin
	case ModeCORS:
		return ModeCORS
	default:
		return ModeNoCORS
	}
}

// Request 是被拦截的一次请求，URL 为页面视角的逻辑地址（非上游地址）。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	Mode   Mode
}

// NewRequest 构造 GET 请求，主要用于预缓存与测试。
func NewRequest(method string, u *url.URL, mode Mode) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: http.Header{},
		Mode:   mode,
	}
}

// IsNavigation 报告是否为顶层文档加载。
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// Key 返回缓存键（方法 + 完整 URL）。
func (r *Request) Key() cache.Key {
	if r.URL == nil {
		return cache.NewKey(r.Method, "")
	}
	return cache.NewKey(r.Method, r.URL.String())
}

// Route 返回策略路由所需的最小视图。
func (r *Request) Route() strategy.Request {
	return strategy.Request{
		Method:   r.Method,
		URL:      r.URL,
		Navigate: r.IsNavigation(),
	}
}
