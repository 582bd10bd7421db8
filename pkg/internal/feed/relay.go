package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/yeisme/syncvault/pkg/internal/model"
	"github.com/yeisme/syncvault/pkg/internal/repository"
	"github.com/yeisme/syncvault/pkg/internal/storage/kv"
	nlog "github.com/yeisme/syncvault/pkg/log"
	"github.com/yeisme/syncvault/pkg/metrics"
	"github.com/yeisme/syncvault/pkg/queue"
)

// CursorKey 中继游标在 KV 中的键.
const CursorKey = "feed.cursor"

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 200
	defaultGapGrace      = 15 * time.Second
)

// ChangeSource outbox 读取端，由 repository.Repository 实现.
type ChangeSource interface {
	ListChanges(ctx context.Context, afterID uint64, limit int) ([]model.FileChange, error)
	MaxChangeID(ctx context.Context) (uint64, error)
	GetFileUnscoped(ctx context.Context, id string) (*model.File, error)
}

// Publisher MQ 发布端，由 mq.Client 实现.
type Publisher interface {
	Publish(ctx context.Context, topic string, msgs ...*message.Message) error
}

// Relay 把 outbox 中的变更按顺序发布到 MQ，已发布位置保存在 KV 中.
// 同一部署只应运行一个 Relay.
type Relay struct {
	src      ChangeSource
	pub      Publisher
	cursor   kv.KVStore
	topic    string
	interval time.Duration
	batch    int
	producer string
	gapGrace time.Duration
	logger   *zerolog.Logger
}

// RelayOption 配置 Relay.
type RelayOption func(*Relay)

// WithTopic 发布主题.
func WithTopic(topic string) RelayOption { return func(r *Relay) { r.topic = topic } }

// WithInterval 轮询间隔.
func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }

// WithBatch 单次读取的最大变更数.
func WithBatch(n int) RelayOption { return func(r *Relay) { r.batch = n } }

// WithProducer 事件头中的生产者标识.
func WithProducer(p string) RelayOption { return func(r *Relay) { r.producer = p } }

// WithGapGrace 自增 id 出现缺口时的等待时间.缺口后的变更写入超过该时间仍未补齐，
// 视为回滚留下的空洞并跳过.
func WithGapGrace(d time.Duration) RelayOption { return func(r *Relay) { r.gapGrace = d } }

// NewRelay 创建中继.
func NewRelay(src ChangeSource, pub Publisher, cursor kv.KVStore, opts ...RelayOption) *Relay {
	l := nlog.Component("relay")

	r := &Relay{
		src:      src,
		pub:      pub,
		cursor:   cursor,
		topic:    queue.TopicFileChanged,
		interval: defaultRelayInterval,
		batch:    defaultRelayBatch,
		gapGrace: defaultGapGrace,
		logger:   &l,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.interval <= 0 {
		r.interval = defaultRelayInterval
	}

	if r.batch <= 0 {
		r.batch = defaultRelayBatch
	}

	return r
}

// Run 按间隔轮询直到 ctx 取消.单次轮询失败只记录日志.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Str("topic", r.topic).Dur("interval", r.interval).Msg("relay started")

	for {
		for {
			n, err := r.Poll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error().Err(err).Msg("relay poll failed")
				}

				break
			}

			if n < r.batch {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll 发布游标之后的一批变更并推进游标，返回处理的变更数.
// 游标不存在时初始化为当前最大 id，之前的变更不会发布.
//
// id 在插入时分配、提交时才可见，较小的 id 可能晚于较大的 id 出现.遇到缺口时只发布缺口之前的变更，
// 直到缺口被补齐或缺口后的变更已超过 gapGrace.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	after, ok, err := r.load(ctx)
	if err != nil {
		return 0, err
	}

	if !ok {
		maxID, err := r.src.MaxChangeID(ctx)
		if err != nil {
			return 0, fmt.Errorf("read max change id: %w", err)
		}

		r.logger.Info().Uint64("cursor", maxID).Msg("relay cursor initialized")

		return 0, r.save(ctx, maxID)
	}

	changes, err := r.src.ListChanges(ctx, after, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list changes: %w", err)
	}

	done := 0
	next := after + 1

	for _, ch := range changes {
		if ch.ID != next {
			if time.Since(ch.CreatedAt) < r.gapGrace {
				r.logger.Debug().Uint64("missing", next).Uint64("held", ch.ID).Msg("waiting for outbox gap")
				break
			}

			r.logger.Warn().Uint64("from", next).Uint64("to", ch.ID-1).Msg("skip outbox gap")
		}

		if err := r.publish(ctx, ch); err != nil {
			if done > 0 {
				if serr := r.save(ctx, changes[done-1].ID); serr != nil {
					err = errors.Join(err, serr)
				}
			}

			return done, err
		}

		done++
		next = ch.ID + 1
	}

	if done > 0 {
		if err := r.save(ctx, changes[done-1].ID); err != nil {
			return done, err
		}
	}

	return done, nil
}

// Cursor 返回已发布的最大变更 id，游标未初始化时为 0.
func (r *Relay) Cursor(ctx context.Context) (uint64, error) {
	id, _, err := r.load(ctx)

	return id, err
}

func (r *Relay) publish(ctx context.Context, ch model.FileChange) error {
	payload := queue.FileChangedPayload{
		ChangeID: ch.ID,
		Op:       string(ch.Op),
		FileID:   ch.FileID,
		OwnerID:  ch.UserID,
	}

	if ch.Op != model.ChangeDelete {
		f, err := r.src.GetFileUnscoped(ctx, ch.FileID)
		if errors.Is(err, repository.ErrNotFound) {
			// 文件已被彻底删除，后续的 delete 变更会通知客户端
			r.logger.Debug().Uint64("change", ch.ID).Str("file", ch.FileID).Msg("skip change of purged file")
			return nil
		}

		if err != nil {
			return fmt.Errorf("load file %s: %w", ch.FileID, err)
		}

		payload.Document = Document(f)
	}

	var opts []func(*queue.EventHeader)
	if r.producer != "" {
		opts = append(opts, queue.WithProducer(r.producer))
	}

	msg, err := queue.NewFileChanged(payload, opts...)
	if err != nil {
		return err
	}

	if err := r.pub.Publish(ctx, r.topic, msg); err != nil {
		return fmt.Errorf("publish change %d: %w", ch.ID, err)
	}

	metrics.FeedRelayed.Inc()

	return nil
}

func (r *Relay) load(ctx context.Context) (uint64, bool, error) {
	b, err := r.cursor.Get(ctx, CursorKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}

	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cursor %q: %w", b, err)
	}

	return id, true, nil
}

func (r *Relay) save(ctx context.Context, id uint64) error {
	if err := r.cursor.Set(ctx, CursorKey, []byte(strconv.FormatUint(id, 10)), 0); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	return nil
}

// Document 将文件记录转换为变更文档.
func Document(f *model.File) *queue.FileDoc {
	doc := &queue.FileDoc{
		ID:               f.ID,
		UserID:           f.UserID,
		Filename:         f.Filename,
		Path:             f.Path,
		Size:             f.Size,
		MimeType:         f.MimeType,
		StorageKey:       f.StorageKey,
		WholeFingerprint: f.WholeFingerprint,
		Status:           string(f.Status),
		Version:          f.Version,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}

	for _, sh := range f.Shares {
		doc.SharedWith = append(doc.SharedWith, sh.UserID)
	}

	if f.DeletedAt.Valid {
		t := f.DeletedAt.Time
		doc.DeletedAt = &t
	}

	return doc
}
