package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Storage 管理全部缓存命名空间，磁盘布局遵循：
//
//	<StoragePath>/<namespace>/<sha1(method + " " + url)>
//
// 每个条目是单个文件：首行为 JSON 元数据，其后为原始正文。
type Storage interface {
	// Open 打开（必要时创建）指定命名空间。
	Open(ctx context.Context, name string) (Namespace, error)

	// Has 判断命名空间是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Keys 返回全部命名空间名称，按字典序排列。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除整个命名空间，返回是否真的删除了内容；不存在时不报错。
	Delete(ctx context.Context, name string) (bool, error)
}

// Namespace 是单个版本化缓存，条目写入后不可变，同键写入整体替换。
type Namespace interface {
	Name() string

	// Match 返回 key 对应的快照，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Snapshot, error)

	// Put 写入快照，实现需通过临时文件 + rename 保证原子替换。
	Put(ctx context.Context, key Key, snap Snapshot) error

	// Delete 删除单个条目，不存在时不报错。
	Delete(ctx context.Context, key Key) error

	// Keys 列出当前命名空间中的全部条目键。
	Keys(ctx context.Context) ([]Key, error)
}

// Snapshot 是一次成功响应的不可变副本。
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

var (
	// ErrNotFound 表示缓存不存在，属于正常分支而非故障。
	ErrNotFound = errors.New("cache entry not found")
	// ErrMethodNotCacheable 表示只允许缓存 GET 请求。
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")
	// ErrInvalidNamespace 表示命名空间名称非法（空、包含路径分隔符等）。
	ErrInvalidNamespace = errors.New("invalid cache namespace name")
)
