// Package jobs 负责注册与实现后台维护任务（基于 scheduler）.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/service"
	"github.com/yeisme/syncvault/pkg/log"
	"github.com/yeisme/syncvault/pkg/scheduler"
)

// Reaper 回收闲置上传会话，由 service.UploadService 实现.
type Reaper interface {
	ReapStale(ctx context.Context, idle time.Duration, limit int) (service.ReapResult, error)
}

// TrashPurger 清理过期回收站，由 service.FileService 实现.
type TrashPurger interface {
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxPruner 删除已投递的 outbox 记录，由 repository.Repository 实现.
type OutboxPruner interface {
	PruneChanges(ctx context.Context, upToID uint64, before time.Time) (int64, error)
}

// CursorSource 返回 relay 已投递的位置，由 feed.Relay 实现.
type CursorSource interface {
	Cursor(ctx context.Context) (uint64, error)
}

// Deps 任务依赖，为空的依赖对应的任务不会注册.
type Deps struct {
	Reaper Reaper
	Trash  TrashPurger
	Outbox OutboxPruner
	Cursor CursorSource
	Upload configs.UploadConfig
	Sync   configs.SyncConfig
	Batch  int
}

// RegisterCronJobs 配置维护任务：
//   - 每 10 分钟回收闲置上传会话
//   - 每天 03:30 清理过期回收站
//   - 每小时删除 relay 游标之前的过期 outbox 记录
func RegisterCronJobs(sched *scheduler.Scheduler, d Deps) error {
	if sched == nil {
		return errors.New("scheduler is nil")
	}

	var errs []error

	if d.Reaper != nil {
		errs = append(errs, sched.AddInterval(JobReapSessions, ReapInterval, func(ctx context.Context) error {
			return ReapSessions(ctx, d)
		}))
	}

	if d.Trash != nil {
		errs = append(errs, sched.AddCron(JobPurgeTrash, CronPurgeTrash, func(ctx context.Context) error {
			return PurgeTrash(ctx, d, time.Now())
		}))
	}

	if d.Outbox != nil && d.Cursor != nil {
		errs = append(errs, sched.AddInterval(JobPruneOutbox, PruneInterval, func(ctx context.Context) error {
			return PruneOutbox(ctx, d, time.Now())
		}))
	}

	return errors.Join(errs...)
}

func (d Deps) batch() int {
	if d.Batch > 0 {
		return d.Batch
	}

	return defaultBatch
}

// ReapSessions 执行一次会话回收.
func ReapSessions(ctx context.Context, d Deps) error {
	l := log.Logger().With().Str("job", JobReapSessions).Logger()

	idle := d.Upload.SessionTTL
	if idle <= 0 {
		idle = configs.DefaultSessionTTL
	}

	res, err := d.Reaper.ReapStale(ctx, idle, d.batch())
	if err != nil {
		return err
	}

	if res.Expired > 0 || res.Released > 0 {
		l.Info().Int("expired", res.Expired).Int("released", res.Released).Msg("reaped upload sessions")
	}

	return nil
}

// PurgeTrash 永久删除 now 之前超过保留期的回收站文件.
func PurgeTrash(ctx context.Context, d Deps, now time.Time) error {
	l := log.Logger().With().Str("job", JobPurgeTrash).Logger()

	retention := d.Upload.TrashRetention
	if retention <= 0 {
		retention = configs.DefaultTrashRetention
	}

	before := now.Add(-retention)

	n, err := d.Trash.PurgeExpired(ctx, before, d.batch())
	if err != nil {
		return err
	}

	if n > 0 {
		l.Info().Int("purged", n).Time("before", before).Msg("purged expired trash")
	}

	return nil
}

// PruneOutbox 删除不晚于 relay 游标且早于保留期的 outbox 记录.
func PruneOutbox(ctx context.Context, d Deps, now time.Time) error {
	l := log.Logger().With().Str("job", JobPruneOutbox).Logger()

	cursor, err := d.Cursor.Cursor(ctx)
	if err != nil {
		return err
	}

	if cursor == 0 {
		return nil
	}

	retention := d.Sync.OutboxRetention
	if retention <= 0 {
		retention = configs.DefaultOutboxRetention
	}

	n, err := d.Outbox.PruneChanges(ctx, cursor, now.Add(-retention))
	if err != nil {
		return err
	}

	if n > 0 {
		l.Info().Int64("pruned", n).Uint64("cursor", cursor).Msg("pruned outbox")
	}

	return nil
}
