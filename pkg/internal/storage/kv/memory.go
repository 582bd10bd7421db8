package kv

import (
	"context"
	"sync"
	"time"

	"github.com/yeisme/syncvault/pkg/configs"
)

type memoryEntry struct {
	value    []byte
	deadline time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

// MemoryKV 基于 sync.Map 的进程内 KV 实现，过期键在访问时惰性删除.
type MemoryKV struct {
	data sync.Map
}

// NewMemoryKV 创建内存 KV 实例.
func NewMemoryKV(_ context.Context, _ *configs.KVConfig) (KVStore, error) {
	return &MemoryKV{}, nil
}

func (m *MemoryKV) load(key string) (memoryEntry, bool) {
	v, ok := m.data.Load(key)
	if !ok {
		return memoryEntry{}, false
	}

	entry, _ := v.(memoryEntry)
	if entry.expired(time.Now()) {
		m.data.CompareAndDelete(key, v)
		return memoryEntry{}, false
	}

	return entry, true
}

// Get 获取键的值副本.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.load(key)
	if !ok {
		return nil, notFound(key)
	}

	return append([]byte(nil), entry.value...), nil
}

// Set 设置键的值.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.deadline = time.Now().Add(ttl)
	}

	m.data.Store(key, entry)

	return nil
}

// Delete 删除键.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

// Exists 检查键是否存在.
func (m *MemoryKV) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.load(key)
	return ok, nil
}

// Keys 获取匹配模式的键.
func (m *MemoryKV) Keys(_ context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)

	m.data.Range(func(k, _ any) bool {
		key, _ := k.(string)
		if _, ok := m.load(key); ok && match(pattern, key) {
			keys = append(keys, key)
		}

		return true
	})

	return keys, nil
}

// Close 内存实现无需释放资源.
func (m *MemoryKV) Close() error {
	return nil
}

func init() {
	RegisterKVFactory(configs.KVTypeMemory, NewMemoryKV)
}
