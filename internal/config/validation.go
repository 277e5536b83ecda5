package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if err := c.Global.validate(); err != nil {
		return err
	}
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Notification.validate(); err != nil {
		return err
	}

	seen := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		origin.Host = strings.ToLower(strings.TrimSpace(origin.Host))
		if err := validateDomain(origin.Host); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Host, "Host"), err)
		}
		if origin.Host == c.App.OriginURL().Hostname() {
			return newFieldError(originField(origin.Host, "Host"), "应用源请使用 App.Upstream")
		}
		if _, exists := seen[origin.Host]; exists {
			return newFieldError(originField(origin.Host, "Host"), "重复")
		}
		seen[origin.Host] = struct{}{}
		if err := validateUpstream(origin.Upstream); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Host, "Upstream"), err)
		}
	}
	return nil
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.ClientListenPort < 0 || g.ClientListenPort > 65535 {
		return newFieldError("Global.ClientListenPort", "必须在 0-65535（0 表示关闭窗口通道）")
	}
	if g.ClientListenPort == g.ListenPort {
		return newFieldError("Global.ClientListenPort", "不能与 ListenPort 相同")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}
	if g.PrecacheConcurrency <= 0 {
		return newFieldError("Global.PrecacheConcurrency", "必须大于 0")
	}
	if g.NatsEnabled() {
		if _, err := url.Parse(g.NatsURL); err != nil {
			return newFieldError("Global.NatsURL", err.Error())
		}
		if strings.TrimSpace(g.PushSubject) == "" {
			return newFieldError("Global.PushSubject", "启用 NATS 时不能为空")
		}
		if strings.TrimSpace(g.WindowSubject) == "" {
			return newFieldError("Global.WindowSubject", "启用 NATS 时不能为空")
		}
	}
	return nil
}

func (a AppConfig) validate() error {
	if a.Product == "" {
		return newFieldError("App.Product", "不能为空")
	}
	if strings.ContainsAny(a.Product, `/\ `) || strings.HasPrefix(a.Product, ".") {
		return newFieldError("App.Product", "不能包含路径分隔符或空格")
	}
	if a.CacheVersion < 1 {
		return newFieldError("App.CacheVersion", "必须大于等于 1")
	}
	if err := validateUpstream(a.Origin); err != nil {
		return fmt.Errorf("App.Origin: %w", err)
	}
	if parsed, _ := url.Parse(a.Origin); parsed != nil && parsed.Path != "" && parsed.Path != "/" {
		return newFieldError("App.Origin", "不允许包含路径")
	}
	if err := validateUpstream(a.Upstream); err != nil {
		return fmt.Errorf("App.Upstream: %w", err)
	}
	if !strings.HasPrefix(a.OfflineFallback, "/") {
		return newFieldError("App.OfflineFallback", "必须以 / 开头")
	}
	for i, path := range a.Precache {
		if !strings.HasPrefix(path, "/") {
			return newFieldError(listField("App.Precache", i), "必须以 / 开头")
		}
	}
	for i, path := range a.NetworkOnlyPaths {
		if !strings.HasPrefix(path, "/") {
			return newFieldError(listField("App.NetworkOnlyPaths", i), "必须以 / 开头")
		}
	}
	appHost := ""
	if parsed, _ := url.Parse(a.Origin); parsed != nil {
		appHost = strings.ToLower(parsed.Hostname())
	}
	for i, host := range a.APIHosts {
		if err := validateDomain(host); err != nil {
			return fmt.Errorf("%s: %w", listField("App.APIHosts", i), err)
		}
		if host == appHost {
			return newFieldError(listField("App.APIHosts", i), "不能与应用源相同")
		}
	}
	return nil
}

func (n NotificationConfig) validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return newFieldError("Notification.Title", "不能为空")
	}
	if strings.TrimSpace(n.Tag) == "" {
		return newFieldError("Notification.Tag", "不能为空")
	}
	if strings.TrimSpace(n.FallbackTitle) == "" {
		return newFieldError("Notification.FallbackTitle", "不能为空")
	}
	if !strings.HasPrefix(n.URL, "/") {
		return newFieldError("Notification.URL", "必须以 / 开头")
	}
	for _, ms := range n.Vibrate {
		if ms < 0 {
			return newFieldError("Notification.Vibrate", "不能包含负数")
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Host 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Host 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Host 不允许包含空格")
	}
	if strings.Contains(domain, "://") {
		return errors.New("Host 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
