package repository

import (
	"context"
	"time"

	"github.com/yeisme/syncvault/pkg/internal/model"
)

// ListChanges 返回 id 大于 afterID 的 outbox 记录，按 id 升序.
func (r *Repository) ListChanges(ctx context.Context, afterID uint64, limit int) ([]model.FileChange, error) {
	var out []model.FileChange
	err := r.conn(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&out).Error

	return out, err
}

// MaxChangeID 返回当前最大的 outbox id，空表返回 0.
func (r *Repository) MaxChangeID(ctx context.Context) (uint64, error) {
	var maxID int64

	row := r.conn(ctx).Model(&model.FileChange{}).Select("COALESCE(MAX(id), 0)").Row()
	if err := row.Scan(&maxID); err != nil {
		return 0, err
	}

	return uint64(maxID), nil
}

// PruneChanges 删除 id 不超过 upToID 且早于 before 的 outbox 记录.
func (r *Repository) PruneChanges(ctx context.Context, upToID uint64, before time.Time) (int64, error) {
	res := r.conn(ctx).Where("id <= ? AND created_at < ?", upToID, before).Delete(&model.FileChange{})

	return res.RowsAffected, res.Error
}
