// Package repository 是元数据库的读写层：上传会话、分片、文件、配额与变更 outbox.
//
// 所有会话状态迁移都是带条件的 UPDATE（比较并交换），影响行数为 0 时返回 ErrConflict.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/syncvault/pkg/internal/model"
)

var (
	// ErrNotFound 记录不存在.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict 条件更新未命中，状态已被其他请求改变.
	ErrConflict = errors.New("repository: conflict")
)

// Repository 基于 gorm 的元数据存储.
type Repository struct {
	db *gorm.DB
}

// New 创建 Repository.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB 返回底层 *gorm.DB.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

// EnsureUsage 返回用户的用量记录，不存在时以 defaultQuota 创建.
func (r *Repository) EnsureUsage(ctx context.Context, userID string, defaultQuota int64) (model.StorageUsage, error) {
	var usage model.StorageUsage

	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUsage(tx, userID, defaultQuota); err != nil {
			return err
		}

		return tx.Where("user_id = ?", userID).First(&usage).Error
	})

	return usage, mapErr(err)
}

// GetUsage 返回用户的用量记录.
func (r *Repository) GetUsage(ctx context.Context, userID string) (model.StorageUsage, error) {
	var usage model.StorageUsage
	err := r.conn(ctx).Where("user_id = ?", userID).First(&usage).Error

	return usage, mapErr(err)
}

// SetQuota 修改用户配额.
func (r *Repository) SetQuota(ctx context.Context, userID string, quota int64) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUsage(tx, userID, quota); err != nil {
			return err
		}

		return tx.Model(&model.StorageUsage{}).Where("user_id = ?", userID).Update("quota", quota).Error
	})
}

func ensureUsage(tx *gorm.DB, userID string, quota int64) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.StorageUsage{UserID: userID, Quota: quota}).Error
}

func appendChange(tx *gorm.DB, fileID, userID string, op model.ChangeOp) error {
	return tx.Create(&model.FileChange{FileID: fileID, UserID: userID, Op: op}).Error
}
