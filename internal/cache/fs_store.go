package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是条目文件首行的 JSON 元数据。
type entryMeta struct {
	Key      Key                 `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header,omitempty"`
	StoredAt time.Time           `json:"stored_at"`
}

func (s *fileStore) Open(ctx context.Context, name string) (Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.namespaceDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create namespace %s: %w", name, err)
	}
	return &fileNamespace{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.namespaceDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !validNamespace(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, err := s.namespaceDir(name)
	if err != nil {
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete namespace %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) namespaceDir(name string) (string, error) {
	if !validNamespace(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
	}
	return filepath.Join(s.basePath, name), nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// fileNamespace 是单个命名空间目录的视图。
type fileNamespace struct {
	store *fileStore
	name  string
	dir   string
}

func (n *fileNamespace) Name() string {
	return n.name
}

func (n *fileNamespace) Match(ctx context.Context, key Key) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !key.Cacheable() {
		return nil, ErrNotFound
	}

	f, err := os.Open(n.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	meta, body, err := decodeEntry(f)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	// digest 冲突时视为未命中
	if meta.Key != key {
		return nil, ErrNotFound
	}

	return &Snapshot{
		Status:   meta.Status,
		Header:   cloneHeader(meta.Header),
		Body:     body,
		StoredAt: meta.StoredAt,
	}, nil
}

func (n *fileNamespace) Put(ctx context.Context, key Key, snap Snapshot) error {
	if !key.Cacheable() {
		return ErrMethodNotCacheable
	}

	unlock := n.store.lockEntry(n.name + "::" + key.String())
	defer unlock()

	// 命名空间可能已在激活阶段被清理，写入前重新创建目录
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return err
	}

	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = n.store.now().UTC()
	}
	meta := entryMeta{
		Key:      key,
		Status:   snap.Status,
		Header:   cloneHeader(snap.Header),
		StoredAt: storedAt,
	}

	tempFile, err := os.CreateTemp(n.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	err = encodeEntry(ctx, tempFile, meta, snap.Body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	filePath := n.entryPath(key)
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return os.Chtimes(filePath, storedAt, storedAt)
}

func (n *fileNamespace) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := n.store.lockEntry(n.name + "::" + key.String())
	defer unlock()

	if err := os.Remove(n.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (n *fileNamespace) Keys(ctx context.Context) ([]Key, error) {
	entries, err := os.ReadDir(n.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]Key, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		meta, err := readMeta(filepath.Join(n.dir, entry.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

func (n *fileNamespace) entryPath(key Key) string {
	return filepath.Join(n.dir, key.digest())
}

func encodeEntry(ctx context.Context, dst io.Writer, meta entryMeta, body []byte) error {
	line, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := dst.Write(line); err != nil {
		return err
	}
	_, err = copyWithContext(ctx, dst, bytes.NewReader(body))
	return err
}

func decodeEntry(r io.Reader) (entryMeta, []byte, error) {
	reader := bufio.NewReader(r)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return entryMeta{}, nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return entryMeta{}, nil, err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return entryMeta{}, nil, err
	}
	return meta, body, nil
}

func readMeta(filePath string) (entryMeta, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return entryMeta{}, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	err = json.Unmarshal(line, &meta)
	return meta, err
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func cloneHeader(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}
