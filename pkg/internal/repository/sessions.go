package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/syncvault/pkg/internal/model"
)

// CreateSession 持久化新会话.
func (r *Repository) CreateSession(ctx context.Context, s *model.UploadSession) error {
	return r.conn(ctx).Create(s).Error
}

// GetSession 按 ID 读取会话.
func (r *Repository) GetSession(ctx context.Context, id string) (*model.UploadSession, error) {
	var s model.UploadSession
	if err := r.conn(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, mapErr(err)
	}

	return &s, nil
}

// ListParts 按分片号升序返回已确认的分片.
func (r *Repository) ListParts(ctx context.Context, sessionID string) ([]model.UploadPart, error) {
	var parts []model.UploadPart
	err := r.conn(ctx).Where("session_id = ?", sessionID).Order("part_number").Find(&parts).Error

	return parts, err
}

// UpsertPart 记录一个分片；同号分片指纹不同则整体替换旧记录，superseded 为 true.
// 会话必须处于 uploading 且未被 Complete 占用，否则返回 ErrConflict.
func (r *Repository) UpsertPart(ctx context.Context, part model.UploadPart) (superseded bool, err error) {
	err = r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		// 先更新会话，既校验状态又在支持行锁的数据库上串行化同一会话的写入
		res := tx.Model(&model.UploadSession{}).
			Where("id = ? AND status = ? AND claim_token = ''", part.SessionID, model.SessionUploading).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return ErrConflict
		}

		var existing model.UploadPart

		err := tx.Where("session_id = ? AND part_number = ?", part.SessionID, part.PartNumber).
			Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}

		superseded = existing.SessionID != "" && existing.Fingerprint != part.Fingerprint

		return upsertParts(tx, []model.UploadPart{part})
	})

	return superseded, err
}

func upsertParts(tx *gorm.DB, parts []model.UploadPart) error {
	if len(parts) == 0 {
		return nil
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "part_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"fingerprint", "checksum", "size", "updated_at"}),
	}).Create(&parts).Error
}

// ClaimSession 为 Complete 占用会话；会话不在 uploading 或已被占用时返回 ErrConflict.
func (r *Repository) ClaimSession(ctx context.Context, id, token string) error {
	res := r.conn(ctx).Model(&model.UploadSession{}).
		Where("id = ? AND status = ? AND claim_token = ''", id, model.SessionUploading).
		Updates(map[string]any{"claim_token": token, "updated_at": time.Now()})

	return affected(res)
}

// FailSession 将会话标记为 failed；claimToken 为空表示调用方是 Abort，只能作用于未被占用的会话.
func (r *Repository) FailSession(ctx context.Context, id, claimToken string) error {
	res := r.conn(ctx).Model(&model.UploadSession{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, model.SessionUploading, claimToken).
		Updates(map[string]any{"status": model.SessionFailed, "claim_token": "", "updated_at": time.Now()})

	return affected(res)
}

// ForceFailSession 回收闲置会话，不论是否被占用；仅当 updated_at 早于 idleBefore 时生效.
func (r *Repository) ForceFailSession(ctx context.Context, id string, idleBefore time.Time) error {
	res := r.conn(ctx).Model(&model.UploadSession{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, model.SessionUploading, idleBefore).
		Updates(map[string]any{"status": model.SessionFailed, "claim_token": "", "updated_at": time.Now()})

	return affected(res)
}

// ClearUploadHandle 清除已中止会话的对象存储句柄.
func (r *Repository) ClearUploadHandle(ctx context.Context, id string) error {
	return r.conn(ctx).Model(&model.UploadSession{}).
		Where("id = ? AND status <> ?", id, model.SessionUploading).
		Update("upload_handle", "").Error
}

// ListStaleSessions 返回 updated_at 早于 before 的 uploading 会话.
func (r *Repository) ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]model.UploadSession, error) {
	var out []model.UploadSession
	err := r.conn(ctx).
		Where("status = ? AND updated_at < ?", model.SessionUploading, before).
		Order("updated_at").Limit(limit).Find(&out).Error

	return out, err
}

// ListAbandonedHandles 返回已失败但仍持有对象存储句柄的会话.
func (r *Repository) ListAbandonedHandles(ctx context.Context, limit int) ([]model.UploadSession, error) {
	var out []model.UploadSession
	err := r.conn(ctx).
		Where("status = ? AND upload_handle <> ''", model.SessionFailed).
		Order("updated_at").Limit(limit).Find(&out).Error

	return out, err
}

// FinalizeInput 完成会话所需的数据.
type FinalizeInput struct {
	SessionID        string
	ClaimToken       string
	WholeFingerprint string
	Parts            []model.UploadPart
	DefaultQuota     int64
}

// FinalizeSession 在一个事务中完成会话：状态置为 completed 并清空句柄、写入分片、
// 创建文件记录、累加用量并追加 insert 变更. 占用令牌不匹配时返回 ErrConflict.
func (r *Repository) FinalizeSession(ctx context.Context, in FinalizeInput) (*model.File, error) {
	var file model.File

	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.UploadSession{}).
			Where("id = ? AND status = ? AND claim_token = ?", in.SessionID, model.SessionUploading, in.ClaimToken).
			Updates(map[string]any{
				"status":            model.SessionCompleted,
				"upload_handle":     "",
				"claim_token":       "",
				"whole_fingerprint": in.WholeFingerprint,
				"updated_at":        time.Now(),
			})
		if err := affected(res); err != nil {
			return err
		}

		var s model.UploadSession
		if err := tx.Where("id = ?", in.SessionID).First(&s).Error; err != nil {
			return err
		}

		if err := upsertParts(tx, in.Parts); err != nil {
			return fmt.Errorf("record parts: %w", err)
		}

		file = model.File{
			ID:               s.ID,
			UserID:           s.UserID,
			Filename:         s.Filename,
			Path:             s.Path,
			Size:             s.Size,
			MimeType:         s.MimeType,
			StorageKey:       s.StorageKey,
			WholeFingerprint: in.WholeFingerprint,
			Status:           model.SessionCompleted,
			Version:          1,
		}
		if err := tx.Create(&file).Error; err != nil {
			return fmt.Errorf("create file: %w", err)
		}

		if err := ensureUsage(tx, s.UserID, in.DefaultQuota); err != nil {
			return err
		}

		if err := tx.Model(&model.StorageUsage{}).Where("user_id = ?", s.UserID).
			Update("consumed", gorm.Expr("consumed + ?", s.Size)).Error; err != nil {
			return fmt.Errorf("charge quota: %w", err)
		}

		return appendChange(tx, file.ID, file.UserID, model.ChangeInsert)
	})
	if err != nil {
		return nil, mapErr(err)
	}

	return &file, nil
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrConflict
	}

	return nil
}
