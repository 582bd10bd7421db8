package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/syncvault/pkg/internal/model"
)

// ListOptions 列表分页参数.
type ListOptions struct {
	Limit  int
	Offset int
}

// ListFiles 返回用户拥有或被共享的未删除文件，按更新时间倒序.
func (r *Repository) ListFiles(ctx context.Context, userID string, opts ListOptions) ([]model.File, error) {
	db := r.conn(ctx)
	shared := db.Model(&model.FileShare{}).Select("file_id").Where("user_id = ?", userID)

	q := db.Where(db.Where("user_id = ?", userID).Or("id IN (?)", shared)).
		Order("updated_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}

	var files []model.File
	err := q.Find(&files).Error

	return files, err
}

// GetFile 读取未删除的文件及其共享列表.
func (r *Repository) GetFile(ctx context.Context, id string) (*model.File, error) {
	var f model.File
	if err := r.conn(ctx).Preload("Shares").Where("id = ?", id).First(&f).Error; err != nil {
		return nil, mapErr(err)
	}

	return &f, nil
}

// GetFileUnscoped 读取文件及共享列表，包含已软删除的记录.
func (r *Repository) GetFileUnscoped(ctx context.Context, id string) (*model.File, error) {
	var f model.File
	if err := r.conn(ctx).Unscoped().Preload("Shares").Where("id = ?", id).First(&f).Error; err != nil {
		return nil, mapErr(err)
	}

	return &f, nil
}

// FilePatch 文件元数据修改，nil 字段保持不变.
type FilePatch struct {
	Filename *string
	Path     *string
}

// UpdateFile 修改文件名或路径，版本号加一并追加 update 变更.
func (r *Repository) UpdateFile(ctx context.Context, id, ownerID string, patch FilePatch) (*model.File, error) {
	updates := map[string]any{"version": gorm.Expr("version + 1")}
	if patch.Filename != nil {
		updates["filename"] = *patch.Filename
	}

	if patch.Path != nil {
		updates["path"] = *patch.Path
	}

	return r.mutateFile(ctx, id, func(tx *gorm.DB) error {
		return found(tx.Model(&model.File{}).Where("id = ? AND user_id = ?", id, ownerID).Updates(updates))
	})
}

// SoftDeleteFile 软删除文件，配额不释放，变更以 update 形式携带完整文档.
func (r *Repository) SoftDeleteFile(ctx context.Context, id, ownerID string) (*model.File, error) {
	return r.mutateFile(ctx, id, func(tx *gorm.DB) error {
		return found(tx.Model(&model.File{}).Where("id = ? AND user_id = ?", id, ownerID).
			Updates(map[string]any{"deleted_at": time.Now(), "version": gorm.Expr("version + 1")}))
	})
}

// RestoreFile 恢复软删除的文件.
func (r *Repository) RestoreFile(ctx context.Context, id, ownerID string) (*model.File, error) {
	return r.mutateFile(ctx, id, func(tx *gorm.DB) error {
		return found(tx.Unscoped().Model(&model.File{}).
			Where("id = ? AND user_id = ? AND deleted_at IS NOT NULL", id, ownerID).
			Updates(map[string]any{"deleted_at": nil, "version": gorm.Expr("version + 1")}))
	})
}

// ShareFile 授予 targetUserID 只读访问，重复授予不报错.
func (r *Repository) ShareFile(ctx context.Context, id, ownerID, targetUserID string) (*model.File, error) {
	return r.mutateFile(ctx, id, func(tx *gorm.DB) error {
		if err := bumpVersion(tx, id, ownerID); err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.FileShare{FileID: id, UserID: targetUserID}).Error
	})
}

// UnshareFile 撤销共享，撤销不存在的共享不报错.
func (r *Repository) UnshareFile(ctx context.Context, id, ownerID, targetUserID string) (*model.File, error) {
	return r.mutateFile(ctx, id, func(tx *gorm.DB) error {
		if err := bumpVersion(tx, id, ownerID); err != nil {
			return err
		}

		return tx.Where("file_id = ? AND user_id = ?", id, targetUserID).Delete(&model.FileShare{}).Error
	})
}

func bumpVersion(tx *gorm.DB, id, ownerID string) error {
	return found(tx.Model(&model.File{}).Where("id = ? AND user_id = ?", id, ownerID).
		Update("version", gorm.Expr("version + 1")))
}

// found 将影响行数为 0 的更新转换为 ErrNotFound.
func found(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// mutateFile 执行一次文件更新并在同一事务中追加 update 变更，返回更新后的记录.
func (r *Repository) mutateFile(ctx context.Context, id string, apply func(tx *gorm.DB) error) (*model.File, error) {
	var f model.File

	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := apply(tx); err != nil {
			return err
		}

		if err := tx.Unscoped().Preload("Shares").Where("id = ?", id).First(&f).Error; err != nil {
			return err
		}

		return appendChange(tx, f.ID, f.UserID, model.ChangeUpdate)
	})
	if err != nil {
		return nil, mapErr(err)
	}

	return &f, nil
}

// PurgeFile 硬删除文件（含已软删除的），释放配额并追加 delete 变更.
// ownerID 为空时不校验归属，供后台清理使用. 返回被删除的记录以便调用方删除对象.
func (r *Repository) PurgeFile(ctx context.Context, id, ownerID string) (*model.File, error) {
	var f model.File

	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Unscoped().Where("id = ?", id)
		if ownerID != "" {
			q = q.Where("user_id = ?", ownerID)
		}

		if err := q.First(&f).Error; err != nil {
			return err
		}

		if err := tx.Where("file_id = ?", id).Delete(&model.FileShare{}).Error; err != nil {
			return err
		}

		if err := tx.Unscoped().Delete(&model.File{}, "id = ?", id).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.StorageUsage{}).Where("user_id = ?", f.UserID).
			Update("consumed", gorm.Expr("CASE WHEN consumed >= ? THEN consumed - ? ELSE 0 END", f.Size, f.Size)).Error; err != nil {
			return err
		}

		return appendChange(tx, f.ID, f.UserID, model.ChangeDelete)
	})
	if err != nil {
		return nil, mapErr(err)
	}

	return &f, nil
}

// ListTrash 返回软删除时间早于 before 的文件.
func (r *Repository) ListTrash(ctx context.Context, before time.Time, limit int) ([]model.File, error) {
	var files []model.File
	err := r.conn(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", before).
		Order("deleted_at").Limit(limit).Find(&files).Error

	return files, err
}
