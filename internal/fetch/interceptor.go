package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/cache"
	"github.com/aurora-watch/aurora-agent/internal/metrics"
	"github.com/aurora-watch/aurora-agent/internal/strategy"
)

// Namespaces 是当前缓存命名空间的唯一访问入口。
type Namespaces interface {
	Current(ctx context.Context) (cache.Namespace, error)
}

// Options 控制 Interceptor 的依赖注入。
type Options struct {
	Network    Fetcher
	Namespaces Namespaces
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
	// OfflineFallback 是导航请求网络与缓存均失败时回退的应用外壳地址。
	OfflineFallback *url.URL
}

// Interceptor 按策略在网络与缓存之间解析请求，除策略定义的单次回退外不做重试。
type Interceptor struct {
	network    Fetcher
	namespaces Namespaces
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	fallback   *url.URL
}

// NewInterceptor 构造 Interceptor，Network 与 Namespaces 不能为空。
func NewInterceptor(opts Options) (*Interceptor, error) {
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	if opts.Namespaces == nil {
		return nil, errors.New("namespace accessor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Interceptor{
		network:    opts.Network,
		namespaces: opts.Namespaces,
		logger:     logger,
		metrics:    opts.Metrics,
		fallback:   opts.OfflineFallback,
	}, nil
}

// Respond 执行策略并返回页面应得到的响应；error 表示没有可用回退。
func (i *Interceptor) Respond(ctx context.Context, req *Request, class strategy.Class) (*Response, error) {
	var (
		resp *Response
		err  error
	)
	switch class {
	case strategy.NetworkOnly:
		resp = i.networkOnly(ctx, req)
	case strategy.NetworkFirst:
		resp, err = i.networkFirst(ctx, req, nil)
	case strategy.NavigationFirst:
		resp, err = i.networkFirst(ctx, req, i.fallback)
	case strategy.CacheFirst:
		resp, err = i.cacheFirst(ctx, req)
	default:
		return nil, fmt.Errorf("unknown strategy %q", class)
	}

	if err != nil {
		i.metrics.ObserveFetch(string(class), "error")
		return nil, err
	}
	i.metrics.ObserveFetch(string(class), string(resp.Source))
	return resp, nil
}

// networkOnly 从不读写缓存，失败时返回合成的 503。
func (i *Interceptor) networkOnly(ctx context.Context, req *Request) *Response {
	resp, err := i.network.Fetch(ctx, req)
	if err != nil {
		i.logger.WithError(err).WithFields(logrus.Fields{
			"action":   "fetch",
			"strategy": strategy.NetworkOnly,
			"url":      req.URL.String(),
		}).Warn("network_only_failed")
		return Unavailable()
	}
	return resp
}

// networkFirst 成功时克隆写缓存后返回原响应（任何 2xx，包括 opaque）；
// 失败时回退缓存，fallback 非空时（导航）再回退到离线外壳。
func (i *Interceptor) networkFirst(ctx context.Context, req *Request, fallback *url.URL) (*Response, error) {
	resp, err := i.network.Fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			i.store(ctx, req.Key(), resp)
		}
		return resp, nil
	}

	if cached := i.match(ctx, req.Key()); cached != nil {
		return cached, nil
	}
	if fallback != nil {
		if cached := i.match(ctx, NewRequest("GET", fallback, ModeNavigate).Key()); cached != nil {
			return cached, nil
		}
	}
	return nil, err
}

// cacheFirst 命中直接返回且不访问网络；未命中时回源，只缓存 200 且非 opaque 的响应。
func (i *Interceptor) cacheFirst(ctx context.Context, req *Request) (*Response, error) {
	key := req.Key()
	if cached := i.match(ctx, key); cached != nil {
		return cached, nil
	}

	resp, err := i.network.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.Cacheable() {
		return resp, nil
	}
	i.store(ctx, key, resp)
	return resp, nil
}

func (i *Interceptor) match(ctx context.Context, key cache.Key) *Response {
	ns, err := i.namespaces.Current(ctx)
	if err != nil {
		i.logger.WithError(err).WithField("action", "cache_match").Warn("cache_namespace_unavailable")
		return nil
	}
	snap, err := ns.Match(ctx, key)
	switch {
	case err == nil:
		return FromSnapshot(snap)
	case errors.Is(err, cache.ErrNotFound):
		return nil
	default:
		i.logger.WithError(err).WithFields(logrus.Fields{
			"action":    "cache_match",
			"namespace": ns.Name(),
			"key":       key.String(),
		}).Warn("cache_match_failed")
		// 读不出的条目删除，下次成功回源时重写
		if delErr := ns.Delete(ctx, key); delErr != nil {
			i.logger.WithError(delErr).WithField("key", key.String()).Warn("cache_entry_delete_failed")
		}
		return nil
	}
}

// store 克隆响应并写入当前命名空间；写入失败不影响返回给页面的原响应。
func (i *Interceptor) store(ctx context.Context, key cache.Key, resp *Response) {
	clone, err := resp.Clone()
	if err != nil {
		i.logger.WithError(err).WithField("key", key.String()).Warn("response_clone_failed")
		i.metrics.ObserveCacheWrite(err)
		return
	}
	snap, err := clone.Snapshot()
	if err == nil {
		var ns cache.Namespace
		ns, err = i.namespaces.Current(ctx)
		if err == nil {
			err = ns.Put(ctx, key, snap)
		}
	}
	i.metrics.ObserveCacheWrite(err)
	if err != nil {
		i.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_put",
			"key":    key.String(),
		}).Warn("cache_put_failed")
	}
}
