// Package kv 提供用于键值存储的接口和实现.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/yeisme/syncvault/pkg/configs"
)

// ErrKeyNotFound 键不存在或已过期.
var ErrKeyNotFound = errors.New("key not found")

// Client 带前缀的 KV 客户端.
type Client struct {
	KVStore
	prefix string
}

// KVStore 定义键值存储接口.
type KVStore interface {
	// Get 获取键的值，不存在时返回 ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 设置键的值，ttl<=0 表示不过期.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete 删除键.
	Delete(ctx context.Context, key string) error
	// Exists 检查键是否存在.
	Exists(ctx context.Context, key string) (bool, error)
	// Keys 获取匹配 glob 模式的键，空模式返回全部.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Close 关闭存储连接.
	Close() error
}

// KVFactory 定义创建 KVStore 的工厂函数类型.
type KVFactory func(ctx context.Context, cfg *configs.KVConfig) (KVStore, error)

// kvFactories 存储 KV 类型到工厂的映射.
var kvFactories = make(map[configs.KVType]KVFactory)

// RegisterKVFactory 注册 KV 工厂函数.
func RegisterKVFactory(kvType configs.KVType, factory KVFactory) {
	kvFactories[kvType] = factory
}

// GetRegisteredKVTypes 返回已注册的 KV 类型列表.
func GetRegisteredKVTypes() []configs.KVType {
	types := make([]configs.KVType, 0, len(kvFactories))
	for kvType := range kvFactories {
		types = append(types, kvType)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// NewKVStore 根据类型创建 KVStore 实例.
func NewKVStore(ctx context.Context, cfg *configs.KVConfig) (KVStore, error) {
	kvType := cfg.Type
	if kvType == "" {
		kvType = configs.KVTypeMemory
	}

	factory, exists := kvFactories[kvType]
	if !exists {
		return nil, fmt.Errorf("unsupported KV type: %s", kvType)
	}

	return factory(ctx, cfg)
}

// NewKVClient 使用全局配置创建 KV 客户端.
func NewKVClient(ctx context.Context) (*Client, error) {
	cfg := configs.GetConfig().KV

	return Open(ctx, &cfg)
}

// Open 按配置创建 KV 客户端，所有键自动加上 cfg.Prefix.
func Open(ctx context.Context, cfg *configs.KVConfig) (*Client, error) {
	store, err := NewKVStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Client{KVStore: store, prefix: cfg.Prefix}, nil
}

// Wrap 用已有存储构造客户端.
func Wrap(store KVStore, prefix string) *Client {
	return &Client{KVStore: store, prefix: prefix}
}

// Get 获取键的值.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.KVStore.Get(ctx, c.prefix+key)
}

// Set 设置键的值.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.KVStore.Set(ctx, c.prefix+key, value, ttl)
}

// Delete 删除键.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.KVStore.Delete(ctx, c.prefix+key)
}

// Exists 检查键是否存在.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return c.KVStore.Exists(ctx, c.prefix+key)
}

// Keys 返回去掉前缀的键.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	keys, err := c.KVStore.Keys(ctx, c.prefix+pattern)
	if err != nil {
		return nil, err
	}

	for i, k := range keys {
		keys[i] = k[len(c.prefix):]
	}

	sort.Strings(keys)

	return keys, nil
}

// HealthCheck 写入并读回一个探测键.
func (c *Client) HealthCheck(ctx context.Context) error {
	const probe = "health.probe"

	if err := c.Set(ctx, probe, []byte("ok"), time.Minute); err != nil {
		return err
	}

	if _, err := c.Get(ctx, probe); err != nil {
		return err
	}

	return c.Delete(ctx, probe)
}

// match 判断键是否符合 glob 模式.
func match(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	ok, err := path.Match(pattern, key)

	return err == nil && ok
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}
