package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 静态表：预缓存外壳、仅走网络的路径、需要新鲜数据的 API Host。
var (
	defaultPrecache = []string{
		"/",
		"/index.html",
		"/manifest.json",
		"/icons/icon-192x192.png",
		"/icons/icon-512x512.png",
	}
	defaultNetworkOnlyPaths = []string{"/api/aurora/live"}
	defaultAPIHosts         = []string{"services.swpc.noaa.gov", "api.open-meteo.com"}
	defaultVibrate          = []int{100, 50, 100}
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAppDefaults(&cfg.App)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("ClientListenPort", 5001)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ShutdownTimeout", "15s")
	v.SetDefault("PrecacheConcurrency", 4)
	v.SetDefault("NatsURL", "")
	v.SetDefault("PushSubject", "aurora.push")
	v.SetDefault("WindowSubject", "aurora.windows.open")

	v.SetDefault("App.Product", "aurora")
	v.SetDefault("App.CacheVersion", 1)
	v.SetDefault("App.Origin", "https://aurora.local")
	v.SetDefault("App.OfflineFallback", "/")
	v.SetDefault("App.Precache", defaultPrecache)
	v.SetDefault("App.NetworkOnlyPaths", defaultNetworkOnlyPaths)
	v.SetDefault("App.APIHosts", defaultAPIHosts)

	v.SetDefault("Notification.Title", "Aurora Watch")
	v.SetDefault("Notification.Body", "New aurora activity detected")
	v.SetDefault("Notification.Icon", "/icons/icon-192x192.png")
	v.SetDefault("Notification.Badge", "/icons/badge-72x72.png")
	v.SetDefault("Notification.Tag", "aurora-alert")
	v.SetDefault("Notification.URL", "/")
	v.SetDefault("Notification.Vibrate", defaultVibrate)
	v.SetDefault("Notification.FallbackTitle", "Notification Error")
	v.SetDefault("Notification.FallbackBody", "A notification arrived but its content could not be read.")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(15 * time.Second)
	}
	if g.PrecacheConcurrency <= 0 {
		g.PrecacheConcurrency = 4
	}
}

func applyAppDefaults(a *AppConfig) {
	a.Product = strings.TrimSpace(a.Product)
	a.Origin = strings.TrimRight(strings.TrimSpace(a.Origin), "/")
	if a.OfflineFallback == "" {
		a.OfflineFallback = "/"
	}
	hosts := make([]string, 0, len(a.APIHosts))
	for _, host := range a.APIHosts {
		hosts = append(hosts, strings.ToLower(strings.TrimSpace(host)))
	}
	a.APIHosts = hosts
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
