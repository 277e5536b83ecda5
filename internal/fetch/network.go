package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aurora-watch/aurora-agent/internal/server"
)

// Fetcher 执行一次网络请求。任何 HTTP 状态码都视为成功返回，
// 只有传输层失败才返回 error（与浏览器 fetch 语义一致）。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc 将函数适配为 Fetcher。
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Resolver 将页面视角的逻辑 URL 映射为真实上游地址。
type Resolver interface {
	Resolve(logical *url.URL) (*url.URL, error)
}

// NetworkError 表示传输层失败（DNS、连接、超时等）。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Network 使用共享 http.Client 访问上游。
type Network struct {
	client   *http.Client
	resolver Resolver
	appHost  string
}

// NewNetwork 构造网络 Fetcher，appHost 用于区分同源与跨域响应类型。
func NewNetwork(client *http.Client, resolver Resolver, appHost string) *Network {
	if client == nil {
		client = http.DefaultClient
	}
	return &Network{
		client:   client,
		resolver: resolver,
		appHost:  strings.ToLower(appHost),
	}
}

func (n *Network) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, &NetworkError{URL: "", Err: fmt.Errorf("request url required")}
	}
	logical := req.URL.String()

	target := req.URL
	if n.resolver != nil {
		resolved, err := n.resolver.Resolve(req.URL)
		if err != nil {
			return nil, &NetworkError{URL: logical, Err: err}
		}
		target = resolved
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &NetworkError{URL: logical, Err: err}
	}
	if req.Header != nil {
		server.CopyHeaders(upstreamReq.Header, req.Header)
	}
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Host = target.Host
	upstreamReq.Header.Set("X-Forwarded-Host", req.URL.Host)

	resp, err := n.client.Do(upstreamReq)
	if err != nil {
		return nil, &NetworkError{URL: logical, Err: err}
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   resp.Body,
		Type:   n.responseType(req),
		Source: SourceNetwork,
	}, nil
}

func (n *Network) responseType(req *Request) Type {
	host := strings.ToLower(req.URL.Hostname())
	if n.appHost == "" || host == n.appHost {
		return TypeBasic
	}
	if req.Mode == ModeNoCORS {
		return TypeOpaque
	}
	return TypeCORS
}
