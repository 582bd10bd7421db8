package jobs

import "time"

// 任务名称常量，便于统一管理与引用.
const (
	JobReapSessions = "upload.sessions.reap"
	JobPurgeTrash   = "files.trash.purge"
	JobPruneOutbox  = "feed.outbox.prune"
)

// 调度参数.
const (
	ReapInterval   = 10 * time.Minute
	CronPurgeTrash = "30 3 * * *"
	PruneInterval  = time.Hour
	defaultBatch   = 500
)
