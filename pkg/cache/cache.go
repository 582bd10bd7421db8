// Package cache 提供基于键值存储的泛型缓存.
//
// 值以 JSON（sonic）编码，TTL 交给底层 KV 处理.缓存只作为读路径的加速，
// 权威状态始终在数据库中：写路径在状态变化后调用 Delete 失效对应键.
//
// 基本用法:
//
//	c := cache.NewCache(kvClient, "session.")
//	sess, err := cache.GetOrSet(ctx, c, id, func() (model.UploadSession, error) {
//		return repo.GetSession(ctx, id)
//	}, 10*time.Minute)
//
// 未命中时 Get 返回的错误满足 errors.Is(err, kv.ErrKeyNotFound).
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/yeisme/syncvault/pkg/internal/storage/kv"
)

// Cache 基于 KV 存储的缓存，所有键加上命名空间前缀.
type Cache struct {
	kvStore   kv.KVStore
	namespace string
}

// NewCache 创建一个新的缓存实例.
func NewCache(kvStore kv.KVStore, namespace string) *Cache {
	return &Cache{kvStore: kvStore, namespace: namespace}
}

func (c *Cache) key(k string) string { return c.namespace + k }

// Get 泛型获取缓存值.
func Get[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var value T

	data, err := c.kvStore.Get(ctx, c.key(key))
	if err != nil {
		return value, err
	}

	if err := sonic.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return value, nil
}

// Set 泛型设置缓存值.
func Set[T any](ctx context.Context, c *Cache, key string, value T, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return c.kvStore.Set(ctx, c.key(key), data, ttl)
}

// Delete 删除缓存键.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.kvStore.Delete(ctx, c.key(key))
}

// Exists 检查缓存键是否存在.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	return c.kvStore.Exists(ctx, c.key(key))
}

// GetOrSet 命中时直接返回，否则调用 getter 并回填；回填失败不影响返回值.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, getter func() (T, error), ttl time.Duration) (T, error) {
	if value, err := Get[T](ctx, c, key); err == nil {
		return value, nil
	}

	value, err := getter()
	if err != nil {
		return value, err
	}

	_ = Set(ctx, c, key, value, ttl)

	return value, nil
}

// Clear 清空命名空间下的所有键.
func (c *Cache) Clear(ctx context.Context) error {
	keys, err := c.kvStore.Keys(ctx, c.namespace+"*")
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := c.kvStore.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}
