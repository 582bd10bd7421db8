// Package storage 聚合元数据库、对象存储、消息队列与 KV 四类存储资源.
//
// Example:
//
//	mgr, err := storage.Init(ctx)
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	repo := repository.New(mgr.GetDBClient().DB)
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yeisme/syncvault/pkg/configs"
	dbc "github.com/yeisme/syncvault/pkg/internal/storage/db"
	kvc "github.com/yeisme/syncvault/pkg/internal/storage/kv"
	mqc "github.com/yeisme/syncvault/pkg/internal/storage/mq"
	s3c "github.com/yeisme/syncvault/pkg/internal/storage/s3"
	nlog "github.com/yeisme/syncvault/pkg/log"
)

// Manager 聚合所有存储资源.
type Manager struct {
	DB *dbc.Client
	S3 s3c.Store
	MQ *mqc.Client
	KV *kvc.Client
}

var (
	mgr     *Manager
	mgrErr  error
	mgrOnce sync.Once
)

// Init 使用全局配置初始化全部存储，重复调用返回同一实例.
func Init(ctx context.Context) (*Manager, error) {
	mgrOnce.Do(func() {
		mgr, mgrErr = open(ctx)
	})

	return mgr, mgrErr
}

func open(ctx context.Context) (*Manager, error) {
	cfg := configs.GetConfig()
	m := &Manager{}

	var err error

	if m.DB, err = dbc.New(ctx); err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	if m.S3, err = s3c.New(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("s3: %w", err)
	}

	if m.MQ, err = mqc.New(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("mq: %w", err)
	}

	if m.KV, err = kvc.NewKVClient(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("kv: %w", err)
	}

	nlog.Logger().Info().
		Str("db", string(cfg.DB.Type)).
		Str("s3", string(cfg.S3.Type)).
		Str("mq", string(m.MQ.Type())).
		Str("kv", string(cfg.KV.Type)).
		Msg("storage manager initialized")

	return m, nil
}

// GetDBClient 获取 DB 客户端.
func (m *Manager) GetDBClient() *dbc.Client { return m.DB }

// GetS3Client 获取对象存储.
func (m *Manager) GetS3Client() s3c.Store { return m.S3 }

// GetMQClient 获取 MQ 客户端.
func (m *Manager) GetMQClient() *mqc.Client { return m.MQ }

// GetKVClient 获取 KV 客户端.
func (m *Manager) GetKVClient() *kvc.Client { return m.KV }

// Close 释放已打开的资源.
func (m *Manager) Close() error {
	var errs []error

	if m.MQ != nil {
		errs = append(errs, m.MQ.Close())
	}

	if m.KV != nil {
		errs = append(errs, m.KV.Close())
	}

	if m.S3 != nil {
		errs = append(errs, m.S3.Close())
	}

	if m.DB != nil {
		errs = append(errs, m.DB.Close())
	}

	return errors.Join(errs...)
}
