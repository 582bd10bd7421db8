package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/yeisme/syncvault/pkg/configs"
)

// BadgerKV 嵌入式 Badger KV，Path 为空时使用内存模式.
type BadgerKV struct {
	db *badger.DB
}

// NewBadgerKV 打开 Badger 数据库.
func NewBadgerKV(_ context.Context, cfg *configs.KVConfig) (KVStore, error) {
	opts := badger.DefaultOptions(cfg.Badger.Path).WithLoggingLevel(badger.WARNING)
	if cfg.Badger.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &BadgerKV{db: db}, nil
}

// Get 获取键的值.
func (b *BadgerKV) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)

		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(key)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return value, nil
}

// Set 设置键的值，ttl 使用 Badger 原生过期.
func (b *BadgerKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}

		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	return nil
}

// Delete 删除键.
func (b *BadgerKV) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

// Exists 检查键是否存在.
func (b *BadgerKV) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}

	return err == nil, err
}

// Keys 遍历匹配模式的键.
func (b *BadgerKV) Keys(_ context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().KeyCopy(nil))
			if match(pattern, key) {
				keys = append(keys, key)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}

	return keys, nil
}

// Close 关闭数据库.
func (b *BadgerKV) Close() error {
	return b.db.Close()
}

func init() {
	RegisterKVFactory(configs.KVTypeBadger, NewBadgerKV)
}
