package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aurora-watch/aurora-agent/internal/bus"
	"github.com/aurora-watch/aurora-agent/internal/cache"
	"github.com/aurora-watch/aurora-agent/internal/clients"
	"github.com/aurora-watch/aurora-agent/internal/config"
	"github.com/aurora-watch/aurora-agent/internal/fetch"
	"github.com/aurora-watch/aurora-agent/internal/metrics"
	"github.com/aurora-watch/aurora-agent/internal/namespace"
	"github.com/aurora-watch/aurora-agent/internal/notify"
	"github.com/aurora-watch/aurora-agent/internal/proxy"
	"github.com/aurora-watch/aurora-agent/internal/push"
	"github.com/aurora-watch/aurora-agent/internal/server"
	"github.com/aurora-watch/aurora-agent/internal/server/routes"
	"github.com/aurora-watch/aurora-agent/internal/strategy"
	"github.com/aurora-watch/aurora-agent/internal/worker"
)

// ClientsPath 是窗口通道的 WebSocket 路径。
const ClientsPath = "/-/clients"

// Agent 持有全部运行期组件。
type Agent struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	Origins *server.OriginRegistry
	Windows *clients.Registry
	Center  *notify.Center
	Worker  *worker.Worker
	App     *fiber.App

	clientHTTP *http.Server
	nc         *nats.Conn
	subscriber *bus.PushSubscriber
}

// New 按 “配置 → 源注册表 → 磁盘缓存 → 命名空间 → 网络/拦截器 → 通知/窗口 → worker → Fiber” 的顺序装配组件。
// 配置了 NatsURL 时会先连接 NATS，连接失败直接返回错误。
func New(cfg *config.Config, logger *logrus.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	a := &Agent{cfg: cfg, logger: logger, metrics: metrics.New()}

	origins, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("build origin registry: %w", err)
	}
	a.Origins = origins

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init cache storage: %w", err)
	}

	network := fetch.NewNetwork(server.NewUpstreamClient(cfg), origins, origins.AppHost())

	manager, err := namespace.New(namespace.Options{
		Storage:     store,
		Version:     cache.Version{Product: cfg.App.Product, Number: cfg.App.CacheVersion},
		Network:     network,
		Origin:      cfg.App.OriginURL(),
		Precache:    cfg.App.Precache,
		Concurrency: cfg.Global.PrecacheConcurrency,
		Logger:      logger,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init namespace manager: %w", err)
	}

	interceptor, err := fetch.NewInterceptor(fetch.Options{
		Network:         network,
		Namespaces:      manager,
		Logger:          logger,
		Metrics:         a.metrics,
		OfflineFallback: cfg.App.OfflineFallbackURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("init interceptor: %w", err)
	}

	router := strategy.NewRouter(strategy.Tables{
		NetworkOnlyPaths: cfg.App.NetworkOnlyPaths,
		APIHosts:         cfg.App.APIHosts,
	})

	var launcher clients.Launcher
	if cfg.Global.NatsEnabled() {
		nc, err := bus.Connect(cfg.Global.NatsURL, logger)
		if err != nil {
			return nil, err
		}
		a.nc = nc
		launcher = bus.NewWindowLauncher(nc, cfg.Global.WindowSubject)
	}
	a.Windows = clients.NewRegistry(launcher, logger)
	a.Center = notify.NewCenter(a.Windows, logger, a.metrics)
	clicks := notify.NewClickRouter(a.Center, a.Windows, logger, a.metrics)

	pushHandler, err := push.NewHandler(pushDefaults(cfg.Notification), a.Center, logger)
	if err != nil {
		a.closeBus()
		return nil, fmt.Errorf("init push handler: %w", err)
	}

	a.Worker, err = worker.New(worker.Options{
		Cache:         manager,
		Router:        router,
		Interceptor:   interceptor,
		Network:       network,
		Push:          pushHandler,
		Notifications: a.Center,
		Clicks:        clicks,
		Clients:       a.Windows,
		Logger:        logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		a.closeBus()
		return nil, fmt.Errorf("init worker: %w", err)
	}

	if err := a.buildApp(); err != nil {
		a.closeBus()
		return nil, err
	}

	if cfg.Global.ClientListenPort > 0 {
		mux := http.NewServeMux()
		mux.Handle(ClientsPath, clients.NewServer(a.Windows, logger))
		a.clientHTTP = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Global.ClientListenPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	a.subscriber = bus.NewPushSubscriber(a.nc, cfg.Global.PushSubject, a.Worker, logger)
	return a, nil
}

func (a *Agent) buildApp() error {
	handler, err := proxy.NewHandler(a.Worker, a.logger)
	if err != nil {
		return err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     a.logger,
		Registry:   a.Origins,
		Proxy:      handler,
		ListenPort: a.cfg.Global.ListenPort,
	})
	if err != nil {
		return fmt.Errorf("build http app: %w", err)
	}
	err = routes.Register(app, routes.Options{
		Agent:         a.Worker,
		Notifications: a.Center,
		Windows:       a.Windows,
		Origins:       a.Origins,
		Metrics:       a.metrics.Handler(),
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("register diagnostics routes: %w", err)
	}
	a.App = app
	return nil
}

func pushDefaults(n config.NotificationConfig) push.Defaults {
	return push.Defaults{
		Title:         n.Title,
		Body:          n.Body,
		Icon:          n.Icon,
		Badge:         n.Badge,
		Tag:           n.Tag,
		URL:           n.URL,
		Vibrate:       append([]int(nil), n.Vibrate...),
		FallbackTitle: n.FallbackTitle,
		FallbackBody:  n.FallbackBody,
	}
}

// Start 执行 worker 启动序列并开始订阅推送。
// 安装失败时 worker 进入 redundant，请求继续以透传方式服务，因此这里只记录不返回。
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Worker.Start(ctx); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action": "startup",
			"state":  a.Worker.State(),
		}).Error("worker_start_failed")
	}
	if a.subscriber != nil {
		if err := a.subscriber.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Run 启动全部监听并阻塞到 ctx 取消或任一服务失败，随后执行有序关闭。
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   a.cfg.Global.ListenPort,
		}).Info("http_server_started")
		return a.App.Listen(fmt.Sprintf(":%d", a.cfg.Global.ListenPort), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	})
	if a.clientHTTP != nil {
		g.Go(func() error {
			a.logger.WithFields(logrus.Fields{
				"action": "listen",
				"port":   a.cfg.Global.ClientListenPort,
			}).Info("client_channel_started")
			if err := a.clientHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown 先停止接收新请求，再等待在途任务结束，最后断开 NATS。
func (a *Agent) Shutdown(ctx context.Context) error {
	var errs []error
	if a.App != nil {
		if err := a.App.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http app: %w", err))
		}
	}
	if a.clientHTTP != nil {
		if err := a.clientHTTP.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown client channel: %w", err))
		}
	}
	if a.subscriber != nil {
		if err := a.subscriber.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Worker.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain worker tasks: %w", err))
	}
	a.closeBus()

	err := errors.Join(errs...)
	fields := logrus.Fields{"action": "shutdown", "state": a.Worker.State()}
	if err != nil {
		a.logger.WithError(err).WithFields(fields).Warn("shutdown_incomplete")
		return err
	}
	a.logger.WithFields(fields).Info("shutdown_complete")
	return nil
}

func (a *Agent) closeBus() {
	if a.nc != nil {
		a.nc.Close()
		a.nc = nil
	}
}

func (a *Agent) shutdownTimeout() time.Duration {
	if d := a.cfg.Global.ShutdownTimeout.DurationValue(); d > 0 {
		return d
	}
	return 15 * time.Second
}
