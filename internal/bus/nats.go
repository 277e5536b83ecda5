package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/clients"
	"github.com/aurora-watch/aurora-agent/internal/push"
	"github.com/aurora-watch/aurora-agent/internal/worker"
)

const (
	clientName    = "aurora-agent"
	reconnectWait = 2 * time.Second
)

// Connect 建立 NATS 连接并记录断线/重连事件。
func Connect(url string, logger *logrus.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("nats url is empty")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).WithField("action", "nats").Warn("nats_disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.WithFields(logrus.Fields{"action": "nats", "url": conn.ConnectedUrl()}).Info("nats_reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// Dispatcher 是 worker 的事件入口。
type Dispatcher interface {
	Dispatch(ctx context.Context, ev worker.Event) error
}

// PushSubscriber 订阅推送主题并把消息转成 push 事件。
type PushSubscriber struct {
	nc           *nats.Conn
	subject      string
	dispatcher   Dispatcher
	logger       *logrus.Logger
	subscription *nats.Subscription
}

// NewPushSubscriber 创建订阅者，nc 为空时返回 nil。
func NewPushSubscriber(nc *nats.Conn, subject string, dispatcher Dispatcher, logger *logrus.Logger) *PushSubscriber {
	if nc == nil {
		return nil
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PushSubscriber{nc: nc, subject: subject, dispatcher: dispatcher, logger: logger}
}

// Start 开始订阅，应在启动序列完成后调用一次。
func (s *PushSubscriber) Start() error {
	sub, err := s.nc.Subscribe(s.subject, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.subscription = sub
	s.logger.WithFields(logrus.Fields{"action": "nats", "subject": s.subject}).Info("push_subscriber_started")
	return nil
}

// Stop 排空订阅，已收到的消息处理完后返回。
func (s *PushSubscriber) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Drain(); err != nil {
			return fmt.Errorf("drain subscription %s: %w", s.subject, err)
		}
	}
	s.logger.WithFields(logrus.Fields{"action": "nats", "subject": s.subject}).Info("push_subscriber_stopped")
	return nil
}

func (s *PushSubscriber) handle(msg *nats.Msg) {
	ev := &worker.PushEvent{Message: messageFrom(msg)}
	if err := s.dispatcher.Dispatch(context.Background(), ev); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "push",
			"subject": msg.Subject,
		}).Warn("push_dispatch_failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"action":  "push",
		"subject": msg.Subject,
		"state":   ev.State,
	}).Debug("push_dispatched")
}

// messageFrom 将空消息体视为无负载推送。
func messageFrom(msg *nats.Msg) push.Message {
	if len(msg.Data) == 0 {
		return push.Message{}
	}
	return push.Message{Data: append([]byte(nil), msg.Data...)}
}

// Publisher 是发布消息所需的最小接口，*nats.Conn 满足它。
type Publisher interface {
	Publish(subject string, data []byte) error
}

// WindowLauncher 通过 NATS 发布打开窗口请求。
type WindowLauncher struct {
	publisher Publisher
	subject   string
}

// NewWindowLauncher 创建基于 NATS 的 Launcher。
func NewWindowLauncher(publisher Publisher, subject string) *WindowLauncher {
	return &WindowLauncher{publisher: publisher, subject: subject}
}

var _ clients.Launcher = (*WindowLauncher)(nil)

func (l *WindowLauncher) Launch(ctx context.Context, req clients.LaunchRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode launch request: %w", err)
	}
	if err := l.publisher.Publish(l.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", l.subject, err)
	}
	return nil
}
