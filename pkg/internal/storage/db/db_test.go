package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/model"
	"github.com/yeisme/syncvault/pkg/internal/storage/db"
)

// TestOpenSQLiteAndMigrate 测试打开内存 SQLite 并迁移全部表.
func TestOpenSQLiteAndMigrate(t *testing.T) {
	ctx := context.Background()

	client, err := db.Open(ctx, configs.DBConfig{
		Type:         configs.SQLite,
		Database:     ":memory:",
		MaxOpenConns: 1,
	}, false)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Migrate(ctx))
	assert.NoError(t, client.HealthCheck(ctx))

	for _, m := range model.AllModels() {
		assert.True(t, client.Migrator().HasTable(m), "%T", m)
	}
}

// TestRegisteredDBTypes 测试各数据库类型的 dialector 均已注册.
func TestRegisteredDBTypes(t *testing.T) {
	registered := db.GetRegisteredDBTypes()

	for _, want := range []configs.DBType{configs.PostgreSQL, configs.Pg, configs.MySQL, configs.MariaDB, configs.SQLite} {
		assert.Contains(t, registered, want)
	}
}

// TestOpenUnsupported 测试未知类型.
func TestOpenUnsupported(t *testing.T) {
	_, err := db.Open(context.Background(), configs.DBConfig{Type: "oracle"}, false)
	assert.Error(t, err)
}
