package kv_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/storage/kv"
)

func openStores(t testing.TB) map[string]kv.KVStore {
	t.Helper()

	ctx := context.Background()
	stores := map[string]kv.KVStore{}

	for _, typ := range []configs.KVType{configs.KVTypeMemory, configs.KVTypeBadger} {
		store, err := kv.NewKVStore(ctx, &configs.KVConfig{Type: typ})
		require.NoError(t, err)

		t.Cleanup(func() { _ = store.Close() })
		stores[string(typ)] = store
	}

	return stores
}

// TestStoreBasics 测试各嵌入式后端的读写删.
func TestStoreBasics(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, kv.ErrKeyNotFound)

			require.NoError(t, store.Set(ctx, "a.1", []byte("one"), 0))
			require.NoError(t, store.Set(ctx, "a.2", []byte("two"), 0))
			require.NoError(t, store.Set(ctx, "b.1", []byte("three"), 0))

			got, err := store.Get(ctx, "a.1")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), got)

			ok, err := store.Exists(ctx, "b.1")
			require.NoError(t, err)
			assert.True(t, ok)

			keys, err := store.Keys(ctx, "a.*")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a.1", "a.2"}, keys)

			require.NoError(t, store.Delete(ctx, "a.1"))
			ok, err = store.Exists(ctx, "a.1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// TestMemoryTTL 测试内存后端的过期.
func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	store, err := kv.NewKVStore(ctx, &configs.KVConfig{Type: configs.KVTypeMemory})
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "short", []byte("x"), 20*time.Millisecond))
	require.NoError(t, store.Set(ctx, "long", []byte("y"), time.Hour))

	time.Sleep(50 * time.Millisecond)

	_, err = store.Get(ctx, "short")
	require.ErrorIs(t, err, kv.ErrKeyNotFound)

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, keys)
}

// TestMemoryCopiesValues 测试返回值与存储互不影响.
func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	store, err := kv.NewKVStore(ctx, &configs.KVConfig{Type: configs.KVTypeMemory})
	require.NoError(t, err)

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

// TestClientPrefix 测试客户端键前缀.
func TestClientPrefix(t *testing.T) {
	ctx := context.Background()

	client, err := kv.Open(ctx, &configs.KVConfig{Type: configs.KVTypeMemory, Prefix: "sv."})
	require.NoError(t, err)

	require.NoError(t, client.Set(ctx, "feed.cursor", []byte("42"), 0))

	raw, err := client.KVStore.Get(ctx, "sv.feed.cursor")
	require.NoError(t, err)
	assert.Equal(t, []byte("42"), raw)

	keys, err := client.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"feed.cursor"}, keys)

	require.NoError(t, client.HealthCheck(ctx))
}

// TestUnsupportedType 测试未注册类型.
func TestUnsupportedType(t *testing.T) {
	_, err := kv.NewKVStore(context.Background(), &configs.KVConfig{Type: "etcd"})
	require.Error(t, err)
	assert.Contains(t, kv.GetRegisteredKVTypes(), configs.KVTypeBadger)
}

func BenchmarkEmbeddedKV(b *testing.B) {
	for name, store := range openStores(b) {
		benchKV(b, name, store)
	}
}

// BenchmarkNATSKV 需要 ENABLE_NATS_BENCH=1，NATS_URL 默认 nats://127.0.0.1:4222.
func BenchmarkNATSKV(b *testing.B) {
	if os.Getenv("ENABLE_NATS_BENCH") == "" {
		b.Skip("set ENABLE_NATS_BENCH=1 to enable")
	}

	cfg := configs.Defaults().KV
	cfg.Type = configs.KVTypeNATS

	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}

	store, err := kv.NewKVStore(context.Background(), &cfg)
	if err != nil {
		b.Skipf("nats not available: %v", err)
	}

	defer func() { _ = store.Close() }()

	benchKV(b, "nats", store)
}

// BenchmarkRedisKV 需要 ENABLE_REDIS_BENCH=1，REDIS_ADDR 默认 127.0.0.1:6379.
func BenchmarkRedisKV(b *testing.B) {
	if os.Getenv("ENABLE_REDIS_BENCH") == "" {
		b.Skip("set ENABLE_REDIS_BENCH=1 to enable")
	}

	cfg := configs.Defaults().KV
	cfg.Type = configs.KVTypeRedis

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	store, err := kv.NewKVStore(context.Background(), &cfg)
	if err != nil {
		b.Skipf("redis not available: %v", err)
	}

	defer func() { _ = store.Close() }()

	benchKV(b, "redis", store)
}

// benchKV 执行 Set/Get/Delete 基准测试.
func benchKV(b *testing.B, name string, store kv.KVStore) {
	ctx := context.Background()
	payload := make([]byte, 1024)

	var ctr uint64

	b.Run(name+"/parallel", func(b *testing.B) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				// NATS KV 键只允许 [-/_=.a-zA-Z0-9]
				key := fmt.Sprintf("bench-%s-%d", name, atomic.AddUint64(&ctr, 1))

				if err := store.Set(ctx, key, payload, 5*time.Second); err != nil {
					b.Fatalf("set failed: %v", err)
				}

				if _, err := store.Get(ctx, key); err != nil {
					b.Fatalf("get failed: %v", err)
				}

				if err := store.Delete(ctx, key); err != nil {
					b.Fatalf("delete failed: %v", err)
				}
			}
		})
	})
}
