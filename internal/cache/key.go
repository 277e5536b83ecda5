package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
)

// Key 唯一定位一个缓存条目（请求方法 + 完整 URL）。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey 规范化请求方法，空方法视为 GET。
func NewKey(method, rawURL string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: rawURL}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Cacheable 报告该键是否允许写入缓存。
func (k Key) Cacheable() bool {
	return k.Method == http.MethodGet && k.URL != ""
}

func (k Key) digest() string {
	sum := sha1.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}
