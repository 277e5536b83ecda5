package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// EventFields 描述一次 worker 事件（install/activate/fetch/push/notificationclick）。
func EventFields(kind, state, namespace string) logrus.Fields {
	return logrus.Fields{
		"action":    kind,
		"state":     state,
		"namespace": namespace,
	}
}

// FetchFields 提供被拦截请求的策略与来源字段，供请求日志复用。
func FetchFields(requestID, method, url, strategy, source string, status int) logrus.Fields {
	return logrus.Fields{
		"action":     "fetch",
		"request_id": requestID,
		"method":     method,
		"url":        url,
		"strategy":   strategy,
		"source":     source,
		"status":     status,
		"cache_hit":  source == "cache",
	}
}
