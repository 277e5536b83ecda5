package namespace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aurora-watch/aurora-agent/internal/cache"
	"github.com/aurora-watch/aurora-agent/internal/fetch"
	"github.com/aurora-watch/aurora-agent/internal/metrics"
)

const defaultConcurrency = 4

// Options 描述 Manager 的依赖。
type Options struct {
	Storage cache.Storage
	Version cache.Version
	// Network 用于预缓存抓取。
	Network fetch.Fetcher
	// Origin 是应用源，预缓存路径基于它解析。
	Origin *url.URL
	// Precache 是应用外壳路径列表，按顺序处理。
	Precache    []string
	Concurrency int
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
}

// Manager 管理当前版本命名空间的安装与清理。
type Manager struct {
	storage     cache.Storage
	version     cache.Version
	network     fetch.Fetcher
	origin      *url.URL
	precache    []string
	concurrency int
	logger      *logrus.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	current cache.Namespace
}

// InstallReport 汇总一次预缓存的结果。
type InstallReport struct {
	Namespace string   `json:"namespace"`
	Stored    []string `json:"stored"`
	Missed    []string `json:"missed"`
}

// Complete 报告预缓存列表是否全部写入。
func (r InstallReport) Complete() bool {
	return len(r.Missed) == 0
}

// New 校验依赖并构造 Manager。
func New(opts Options) (*Manager, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Version.Product == "" {
		return nil, errors.New("cache version product is required")
	}
	if len(opts.Precache) > 0 && (opts.Network == nil || opts.Origin == nil) {
		return nil, errors.New("precache requires network and origin")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		storage:     opts.Storage,
		version:     opts.Version,
		network:     opts.Network,
		origin:      opts.Origin,
		precache:    append([]string(nil), opts.Precache...),
		concurrency: concurrency,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// CurrentName 返回当前命名空间名称。
func (m *Manager) CurrentName() string {
	return m.version.Name()
}

// Current 是访问当前命名空间的唯一入口，首次调用时打开（必要时创建）。
func (m *Manager) Current(ctx context.Context) (cache.Namespace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return m.current, nil
	}
	ns, err := m.storage.Open(ctx, m.version.Name())
	if err != nil {
		return nil, fmt.Errorf("open namespace %s: %w", m.version.Name(), err)
	}
	m.current = ns
	return ns, nil
}

// Namespaces 返回存储中的全部命名空间名称。
func (m *Manager) Namespaces(ctx context.Context) ([]string, error) {
	return m.storage.Keys(ctx)
}

// Entries 返回当前命名空间中的条目数量。
func (m *Manager) Entries(ctx context.Context) (int, error) {
	ns, err := m.Current(ctx)
	if err != nil {
		return 0, err
	}
	keys, err := ns.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entries of %s: %w", ns.Name(), err)
	}
	return len(keys), nil
}

// Install 打开当前命名空间并并发预缓存应用外壳。单个地址失败只记录，
// 不会使安装失败；只有命名空间打不开才返回 error。
func (m *Manager) Install(ctx context.Context) (InstallReport, error) {
	report := InstallReport{Namespace: m.version.Name()}
	ns, err := m.Current(ctx)
	if err != nil {
		return report, err
	}

	stored := make([]bool, len(m.precache))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for idx, path := range m.precache {
		g.Go(func() error {
			stored[idx] = m.precacheOne(gctx, ns, path)
			return nil
		})
	}
	_ = g.Wait()

	for idx, path := range m.precache {
		if stored[idx] {
			report.Stored = append(report.Stored, path)
		} else {
			report.Missed = append(report.Missed, path)
		}
	}
	m.logger.WithFields(logrus.Fields{
		"action":    "install",
		"namespace": report.Namespace,
		"stored":    len(report.Stored),
		"missed":    len(report.Missed),
	}).Info("precache_complete")
	return report, nil
}

func (m *Manager) precacheOne(ctx context.Context, ns cache.Namespace, path string) bool {
	target, err := m.origin.Parse(path)
	if err != nil {
		m.missed(path, err)
		return false
	}
	req := fetch.NewRequest(http.MethodGet, target, fetch.ModeSameOrigin)
	resp, err := m.network.Fetch(ctx, req)
	if err != nil {
		m.missed(path, err)
		return false
	}
	defer resp.Close()
	if !resp.OK() || resp.Type == fetch.TypeOpaque {
		m.missed(path, fmt.Errorf("unexpected status %d", resp.Status))
		return false
	}
	snap, err := resp.Snapshot()
	if err == nil {
		err = ns.Put(ctx, req.Key(), snap)
	}
	m.metrics.ObserveCacheWrite(err)
	if err != nil {
		m.missed(path, err)
		return false
	}
	m.metrics.ObservePrecache(true)
	return true
}

func (m *Manager) missed(path string, err error) {
	m.metrics.ObservePrecache(false)
	m.logger.WithError(err).WithFields(logrus.Fields{
		"action":    "install",
		"namespace": m.version.Name(),
		"url":       path,
	}).Warn("precache_miss")
}

// Activate 删除除当前版本外的全部命名空间，可重复调用。
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	current := m.version.Name()
	var evicted []string
	var errs []error
	for _, name := range names {
		if name == current {
			continue
		}
		removed, err := m.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete namespace %s: %w", name, err))
			continue
		}
		if removed {
			evicted = append(evicted, name)
			m.logger.WithFields(logrus.Fields{
				"action":    "activate",
				"namespace": name,
				"current":   current,
			}).Info("namespace_evicted")
		}
	}
	sort.Strings(evicted)
	m.metrics.ObserveEvictions(len(evicted))
	return evicted, errors.Join(errs...)
}
