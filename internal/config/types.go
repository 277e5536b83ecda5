package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	ClientListenPort    int      `mapstructure:"ClientListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StoragePath         string   `mapstructure:"StoragePath"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	ShutdownTimeout     Duration `mapstructure:"ShutdownTimeout"`
	PrecacheConcurrency int      `mapstructure:"PrecacheConcurrency"`
	NatsURL             string   `mapstructure:"NatsURL"`
	PushSubject         string   `mapstructure:"PushSubject"`
	WindowSubject       string   `mapstructure:"WindowSubject"`
}

// AppConfig 描述被代理的应用以及静态策略表。
type AppConfig struct {
	Product      string `mapstructure:"Product"`
	CacheVersion int    `mapstructure:"CacheVersion"`
	// Origin 是页面看到的应用源，例如 https://aurora.local。
	Origin string `mapstructure:"Origin"`
	// Upstream 是应用源实际的上游地址。
	Upstream         string   `mapstructure:"Upstream"`
	OfflineFallback  string   `mapstructure:"OfflineFallback"`
	Precache         []string `mapstructure:"Precache"`
	NetworkOnlyPaths []string `mapstructure:"NetworkOnlyPaths"`
	APIHosts         []string `mapstructure:"APIHosts"`
}

// OriginConfig 覆盖某个 API Host 的上游地址（默认 https://<host>）。
type OriginConfig struct {
	Host     string `mapstructure:"Host"`
	Upstream string `mapstructure:"Upstream"`
}

// NotificationConfig 是推送通知字段的缺省值。
type NotificationConfig struct {
	Title         string `mapstructure:"Title"`
	Body          string `mapstructure:"Body"`
	Icon          string `mapstructure:"Icon"`
	Badge         string `mapstructure:"Badge"`
	Tag           string `mapstructure:"Tag"`
	URL           string `mapstructure:"URL"`
	Vibrate       []int  `mapstructure:"Vibrate"`
	FallbackTitle string `mapstructure:"FallbackTitle"`
	FallbackBody  string `mapstructure:"FallbackBody"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	App          AppConfig          `mapstructure:"App"`
	Notification NotificationConfig `mapstructure:"Notification"`
	Origins      []OriginConfig     `mapstructure:"Origin"`
}

// OriginURL 返回解析后的应用源（假定 Validate 已通过）。
func (a AppConfig) OriginURL() *url.URL {
	u, err := url.Parse(a.Origin)
	if err != nil {
		return &url.URL{Scheme: "https", Host: a.Origin}
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
}

// OfflineFallbackURL 返回离线外壳的绝对地址。
func (a AppConfig) OfflineFallbackURL() *url.URL {
	fallback, err := a.OriginURL().Parse(a.OfflineFallback)
	if err != nil {
		return a.OriginURL()
	}
	return fallback
}

// NamespaceName 返回当前版本的缓存命名空间名称，仅用于日志。
func (a AppConfig) NamespaceName() string {
	return fmt.Sprintf("%s-cache-v%d", a.Product, a.CacheVersion)
}

// NatsEnabled 表示是否配置了 NATS。
func (g GlobalConfig) NatsEnabled() bool {
	return strings.TrimSpace(g.NatsURL) != ""
}
