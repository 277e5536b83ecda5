package clients

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
)

// Server 是窗口通道的 WebSocket 入口：/-/clients?url=<path>&window=<id>。
type Server struct {
	registry     *Registry
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewServer 基于 Registry 构建 WebSocket 处理器。
func NewServer(registry *Registry, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			// 窗口与代理同机部署，不做 Origin 校验
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: defaultPingInterval,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("action", "client_connect").Warn("websocket_upgrade_failed")
		return
	}

	sender := &connSender{conn: conn}
	query := r.URL.Query()
	window := s.registry.Attach(query.Get("window"), query.Get("url"), sender)
	defer s.registry.Detach(window.ID)

	fields := logrus.Fields{"action": "client_connect", "window_id": window.ID, "url": window.URL}
	s.logger.WithFields(fields).Info("client_attached")

	if err := sender.Send(Message{Type: MessageAttached, WindowID: window.ID, URL: window.URL}); err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("client_hello_failed")
		return
	}

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(sender, done)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).WithFields(fields).Warn("client_read_failed")
			}
			s.logger.WithFields(fields).Info("client_detached")
			return
		}
		s.handle(window.ID, msg)
	}
}

func (s *Server) handle(windowID string, msg Message) {
	var err error
	switch msg.Type {
	case MessageNavigate:
		err = s.registry.Navigate(windowID, msg.URL)
	case MessageFocus:
		err = s.registry.MarkFocused(windowID)
	default:
		s.logger.WithFields(logrus.Fields{
			"action":    "client_message",
			"window_id": windowID,
			"type":      msg.Type,
		}).Debug("client_message_ignored")
		return
	}
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":    "client_message",
			"window_id": windowID,
			"type":      msg.Type,
		}).Warn("client_message_failed")
	}
}

func (s *Server) keepAlive(sender *connSender, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sender.ping(); err != nil {
				return
			}
		}
	}
}

// connSender 串行化同一连接上的写操作（gorilla 连接不支持并发写）。
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connSender) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *connSender) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *connSender) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return c.conn.Close()
}
