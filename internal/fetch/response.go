package fetch

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/aurora-watch/aurora-agent/internal/cache"
)

// Source 记录响应来自哪里，写入 X-Aurora-Source 头。
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceSynthesized Source = "synthesized"
)

// Type 对应浏览器 Response.type。
type Type string

const (
	TypeBasic  Type = "basic"
	TypeCORS   Type = "cors"
	TypeOpaque Type = "opaque"
)

// UnavailableBody 是 network-only 请求失败时的固定正文。
const UnavailableBody = "Live data is unavailable right now. Check your connection and try again."

// Response 是拦截交换的结果。Body 只能读取一次，需要同时缓存与返回时先 Clone。
type Response struct {
	Status   int
	Header   http.Header
	Body     io.ReadCloser
	Type     Type
	Source   Source
	StoredAt time.Time
}

// OK 对应 Response.ok（2xx）。
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Cacheable 报告 cache-first 是否允许写入：仅 200 且非 opaque。
func (r *Response) Cacheable() bool {
	return r.Status == http.StatusOK && r.Type != TypeOpaque
}

// Clone 将正文读入内存，原响应与副本各自获得独立的 Reader。
func (r *Response) Clone() (*Response, error) {
	var buf []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			r.Body = io.NopCloser(bytes.NewReader(data))
			return nil, err
		}
		buf = data
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))

	clone := *r
	clone.Header = r.Header.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(buf))
	return &clone, nil
}

// Snapshot 消费正文并生成缓存快照。
func (r *Response) Snapshot() (cache.Snapshot, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return cache.Snapshot{}, err
		}
		body = data
	}
	return cache.Snapshot{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   body,
	}, nil
}

// Close 释放正文，可重复调用。
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// FromSnapshot 将缓存快照还原为响应。
func FromSnapshot(snap *cache.Snapshot) *Response {
	header := snap.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status:   snap.Status,
		Header:   header,
		Body:     io.NopCloser(bytes.NewReader(snap.Body)),
		Type:     TypeBasic,
		Source:   SourceCache,
		StoredAt: snap.StoredAt,
	}
}

// Unavailable 构造 network-only 失败时的 503 text/plain 响应。
func Unavailable() *Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader([]byte(UnavailableBody))),
		Type:   TypeBasic,
		Source: SourceSynthesized,
	}
}
