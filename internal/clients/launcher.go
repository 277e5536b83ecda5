package clients

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LaunchRequest 描述一次打开窗口请求；窗口连接时携带 WindowID 以认领记录。
type LaunchRequest struct {
	WindowID string `json:"window_id"`
	URL      string `json:"url"`
}

// Launcher 负责真正打开应用窗口（桌面壳、消息总线等）。
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) error
}

// LauncherFunc 将函数适配为 Launcher。
type LauncherFunc func(ctx context.Context, req LaunchRequest) error

func (f LauncherFunc) Launch(ctx context.Context, req LaunchRequest) error {
	return f(ctx, req)
}

// LogLauncher 只记录请求，没有配置消息总线时使用。
type LogLauncher struct {
	Logger *logrus.Logger
}

func (l LogLauncher) Launch(_ context.Context, req LaunchRequest) error {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"action":    "open_window",
		"window_id": req.WindowID,
		"url":       req.URL,
	}).Info("window_launch_requested")
	return nil
}
