package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/syncvault/pkg/cache"
	"github.com/yeisme/syncvault/pkg/chunkplan"
	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/model"
	"github.com/yeisme/syncvault/pkg/internal/repository"
	"github.com/yeisme/syncvault/pkg/internal/storage/s3"
	"github.com/yeisme/syncvault/pkg/internal/types"
	nlog "github.com/yeisme/syncvault/pkg/log"
	"github.com/yeisme/syncvault/pkg/metrics"
	"github.com/yeisme/syncvault/pkg/tracing"
)

const defaultMimeType = "application/octet-stream"

// SessionStore 上传会话的持久化，由 repository.Repository 实现.
type SessionStore interface {
	EnsureUsage(ctx context.Context, userID string, defaultQuota int64) (model.StorageUsage, error)
	CreateSession(ctx context.Context, s *model.UploadSession) error
	GetSession(ctx context.Context, id string) (*model.UploadSession, error)
	ListParts(ctx context.Context, sessionID string) ([]model.UploadPart, error)
	UpsertPart(ctx context.Context, part model.UploadPart) (bool, error)
	ClaimSession(ctx context.Context, id, token string) error
	FailSession(ctx context.Context, id, claimToken string) error
	ForceFailSession(ctx context.Context, id string, idleBefore time.Time) error
	ClearUploadHandle(ctx context.Context, id string) error
	ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]model.UploadSession, error)
	ListAbandonedHandles(ctx context.Context, limit int) ([]model.UploadSession, error)
	FinalizeSession(ctx context.Context, in repository.FinalizeInput) (*model.File, error)
	GetFile(ctx context.Context, id string) (*model.File, error)
}

// ObjectStore 上传编排用到的对象存储操作，由 s3.Store 实现.
type ObjectStore interface {
	CreateMultipart(ctx context.Context, key, contentType string, withChecksum bool) (string, error)
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, checksumB64 string, ttl time.Duration) (s3.PresignedRequest, error)
	ListParts(ctx context.Context, key, uploadID string) ([]s3.PartInfo, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []s3.CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
	RemoveObject(ctx context.Context, key string) error
}

// UploadService 分片上传编排：Begin → 分片凭证 → CommitPart → Complete / Abort.
//
// Complete 与 Abort 通过会话上的占用令牌串行化，二者只有一个能让会话进入终态.
type UploadService struct {
	store   SessionStore
	objects ObjectStore
	logger  *zerolog.Logger

	chunkSize     int64
	capabilityTTL time.Duration
	defaultQuota  int64
	keyPrefix     string
	checksum      bool

	sessions *cache.Cache
	cacheTTL time.Duration
}

// UploadOption 配置 UploadService.
type UploadOption func(*UploadService)

// WithChunkSize 新会话使用的分片大小.
func WithChunkSize(n int64) UploadOption { return func(s *UploadService) { s.chunkSize = n } }

// WithCapabilityTTL 分片与下载凭证的有效期.
func WithCapabilityTTL(d time.Duration) UploadOption {
	return func(s *UploadService) { s.capabilityTTL = d }
}

// WithDefaultQuota 首次使用时创建的配额.
func WithDefaultQuota(q int64) UploadOption { return func(s *UploadService) { s.defaultQuota = q } }

// WithKeyPrefix 对象键前缀.
func WithKeyPrefix(p string) UploadOption { return func(s *UploadService) { s.keyPrefix = p } }

// WithChecksum 以 SHA-256 校验模式创建分片上传，此时分片凭证必须携带指纹.
func WithChecksum(enabled bool) UploadOption { return func(s *UploadService) { s.checksum = enabled } }

// WithSessionCache 为分片凭证的会话查询启用缓存.
func WithSessionCache(c *cache.Cache, ttl time.Duration) UploadOption {
	return func(s *UploadService) {
		s.sessions = c
		s.cacheTTL = ttl
	}
}

// WithLogger 指定日志器.
func WithLogger(l *zerolog.Logger) UploadOption { return func(s *UploadService) { s.logger = l } }

// UploadOptionsFromConfig 将 upload.* 配置转换为选项.
func UploadOptionsFromConfig(cfg configs.UploadConfig) []UploadOption {
	return []UploadOption{
		WithChunkSize(cfg.ChunkSize),
		WithCapabilityTTL(cfg.CapabilityTTL),
		WithDefaultQuota(cfg.DefaultQuota),
		WithKeyPrefix(cfg.KeyPrefix),
		WithChecksum(cfg.ChecksumHeader),
	}
}

// NewUploadService 创建上传编排服务.
func NewUploadService(store SessionStore, objects ObjectStore, opts ...UploadOption) *UploadService {
	l := nlog.Component("upload")

	s := &UploadService{
		store:         store,
		objects:       objects,
		logger:        &l,
		chunkSize:     configs.DefaultChunkSize,
		capabilityTTL: configs.DefaultCapabilityTTL,
		defaultQuota:  configs.DefaultQuota,
		keyPrefix:     configs.DefaultKeyPrefix,
		cacheTTL:      configs.DefaultSessionCacheTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CapabilityTTL 返回凭证有效期.
func (s *UploadService) CapabilityTTL() time.Duration { return s.capabilityTTL }

// Begin 校验配额并开启分片上传，返回会话与分片大小.配额检查是建议性的，Complete 时原子计费.
func (s *UploadService) Begin(ctx context.Context, userID string, req types.BeginUploadRequest) (resp *types.BeginUploadResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Begin", trace.WithAttributes(attribute.Int64("upload.size", req.Size)))
	defer func() { s.finish(span, "begin", err) }()

	if err = validate(req); err != nil {
		return nil, err
	}

	plan, err := chunkplan.New(req.Size, s.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	usage, err := s.store.EnsureUsage(ctx, userID, s.defaultQuota)
	if err != nil {
		return nil, upstream("load usage", err)
	}

	if usage.Consumed+req.Size > usage.Quota {
		return nil, fmt.Errorf("%w: need %d bytes, %d remaining", ErrQuotaExceeded, req.Size, usage.Remaining())
	}

	id := uuid.NewString()
	key := s.objectKey(userID, id)

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	handle, err := s.objects.CreateMultipart(ctx, key, mimeType, s.checksum)
	if err != nil {
		return nil, upstream("create multipart upload", err)
	}

	sess := &model.UploadSession{
		ID:           id,
		UserID:       userID,
		Filename:     req.Filename,
		Path:         req.Path,
		Size:         req.Size,
		MimeType:     mimeType,
		ChunkSize:    plan.ChunkSize,
		PartCount:    plan.Count(),
		StorageKey:   key,
		UploadHandle: handle,
		Status:       model.SessionUploading,
	}

	if err = s.store.CreateSession(ctx, sess); err != nil {
		s.abortQuietly(ctx, key, handle)
		return nil, upstream("persist session", err)
	}

	s.logger.Info().Str("session", id).Str("user", userID).Int64("size", req.Size).
		Int("parts", plan.Count()).Msg("upload session started")

	return &types.BeginUploadResponse{
		SessionID:    id,
		UploadHandle: handle,
		StoragePath:  key,
		ChunkSize:    plan.ChunkSize,
		PartCount:    plan.Count(),
	}, nil
}

// RequestPartUploadCapability 为单个分片签发限时 PUT URL，字节直接写入对象存储.
func (s *UploadService) RequestPartUploadCapability(
	ctx context.Context, userID, sessionID string, req types.PartCapabilityRequest,
) (resp *types.PartCapabilityResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.RequestPartUploadCapability",
		trace.WithAttributes(attribute.Int("upload.part", req.PartNumber)))
	defer func() { s.finish(span, "capability", err) }()

	if err = validate(req); err != nil {
		return nil, err
	}

	if req.SessionID != "" && req.SessionID != sessionID {
		return nil, fmt.Errorf("%w: session id mismatch", ErrInvalidArgument)
	}

	snap, err := s.snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if snap.UserID != userID || snap.UploadHandle != req.UploadHandle {
		return nil, sessionNotFound(sessionID)
	}

	if snap.Status != model.SessionUploading || snap.Claimed {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, snap.describe())
	}

	if req.PartNumber > snap.PartCount {
		return nil, fmt.Errorf("%w: part %d outside 1..%d", ErrInvalidParts, req.PartNumber, snap.PartCount)
	}

	req.Fingerprint = strings.ToLower(req.Fingerprint)

	var checksum string

	switch {
	case req.Fingerprint != "":
		if checksum, err = chunkplan.ChecksumHeader(req.Fingerprint); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	case s.checksum:
		return nil, fmt.Errorf("%w: fingerprint is required", ErrInvalidArgument)
	}

	presigned, err := s.objects.PresignPart(ctx, snap.StorageKey, snap.UploadHandle, req.PartNumber, checksum, s.capabilityTTL)
	if err != nil {
		return nil, upstream("presign part", err)
	}

	return &types.PartCapabilityResponse{
		CapabilityURL: presigned.URL,
		Method:        presigned.Method,
		PartNumber:    req.PartNumber,
		ExpiresAt:     presigned.ExpiresAt,
		Headers:       presigned.Headers,
	}, nil
}

// CommitPart 登记客户端已写入对象存储的分片，对象存储中必须存在同号同 ETag 的分片.
// 同号分片指纹变化时整体替换旧记录.
func (s *UploadService) CommitPart(
	ctx context.Context, userID, sessionID string, req types.CommitPartRequest,
) (resp *types.CommitPartResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.CommitPart", trace.WithAttributes(attribute.Int("upload.part", req.PartNumber)))
	defer func() { s.finish(span, "commit_part", err) }()

	if err = validate(req); err != nil {
		return nil, err
	}

	snap, err := s.snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if snap.UserID != userID {
		return nil, sessionNotFound(sessionID)
	}

	if snap.Status != model.SessionUploading || snap.Claimed {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, snap.describe())
	}

	plan, err := chunkplan.New(snap.Size, snap.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	if req.PartNumber > plan.Count() {
		return nil, fmt.Errorf("%w: part %d outside 1..%d", ErrInvalidParts, req.PartNumber, plan.Count())
	}

	if want := plan.PartSize(req.PartNumber); req.Size != want {
		return nil, fmt.Errorf("%w: part %d size %d, want %d", ErrInvalidParts, req.PartNumber, req.Size, want)
	}

	remote, err := s.objects.ListParts(ctx, snap.StorageKey, snap.UploadHandle)
	if errors.Is(err, s3.ErrNoSuchUpload) {
		return nil, fmt.Errorf("%w: upload no longer exists", ErrInvalidState)
	}

	if err != nil {
		return nil, upstream("list parts", err)
	}

	part := model.UploadPart{
		SessionID:   sessionID,
		PartNumber:  req.PartNumber,
		Fingerprint: strings.ToLower(req.Fingerprint),
		Checksum:    s3.NormalizeETag(req.Checksum),
		Size:        req.Size,
	}

	if err = verifyRemote(part, indexRemote(remote)); err != nil {
		return nil, err
	}

	superseded, err := s.store.UpsertPart(ctx, part)
	if errors.Is(err, repository.ErrConflict) {
		s.forget(ctx, sessionID)
		return nil, fmt.Errorf("%w: session is no longer accepting parts", ErrInvalidState)
	}

	if err != nil {
		return nil, upstream("record part", err)
	}

	if superseded {
		s.logger.Debug().Str("session", sessionID).Int("part", req.PartNumber).Msg("part superseded")
	}

	return &types.CommitPartResponse{
		CommittedPart: committed(part),
		Superseded:    superseded,
	}, nil
}

// QueryResumeState 返回会话状态与已登记的分片，按分片号升序.
func (s *UploadService) QueryResumeState(ctx context.Context, userID, sessionID string) (resp *types.ResumeState, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.QueryResumeState")
	defer func() { s.finish(span, "resume", err) }()

	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.UserID != userID {
		return nil, sessionNotFound(sessionID)
	}

	parts, err := s.store.ListParts(ctx, sessionID)
	if err != nil {
		return nil, upstream("list committed parts", err)
	}

	out := make([]types.CommittedPart, 0, len(parts))
	for _, p := range parts {
		out = append(out, committed(p))
	}

	return &types.ResumeState{
		SessionID:      sess.ID,
		Status:         string(sess.Status),
		UploadHandle:   sess.UploadHandle,
		ChunkSize:      sess.ChunkSize,
		Size:           sess.Size,
		PartCount:      sess.PartCount,
		CommittedParts: out,
	}, nil
}

// Complete 校验完整分片列表，合并对象并在一个事务中写入文件记录与计费.
// 已完成的会话再次 Complete 时原样返回文件记录，不重复计费.
func (s *UploadService) Complete(
	ctx context.Context, userID, sessionID string, req types.CompleteUploadRequest,
) (resp *types.CompleteUploadResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Complete", trace.WithAttributes(attribute.Int("upload.parts", len(req.Parts))))
	defer func() { s.finish(span, "complete", err) }()

	if err = validate(req); err != nil {
		return nil, err
	}

	if req.SessionID != "" && req.SessionID != sessionID {
		return nil, fmt.Errorf("%w: session id mismatch", ErrInvalidArgument)
	}

	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.UserID != userID {
		return nil, sessionNotFound(sessionID)
	}

	switch sess.Status {
	case model.SessionCompleted:
		return s.completedRecord(ctx, sess.ID)
	case model.SessionUploading:
	default:
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, sess.Status)
	}

	if sess.UploadHandle != req.UploadHandle {
		return nil, sessionNotFound(sessionID)
	}

	if sess.ClaimToken != "" {
		return nil, fmt.Errorf("%w: completion already in progress", ErrInvalidState)
	}

	plan, err := chunkplan.New(sess.Size, sess.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	parts, err := s.checkPartList(sessionID, plan, req.Parts)
	if err != nil {
		return nil, err
	}

	if req.WholeFingerprint != "" {
		req.WholeFingerprint = strings.ToLower(req.WholeFingerprint)
	}

	token := uuid.NewString()
	if err = s.store.ClaimSession(ctx, sessionID, token); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return s.afterLostClaim(ctx, sessionID)
		}

		return nil, upstream("claim session", err)
	}

	s.forget(ctx, sessionID)

	file, err := s.finalize(ctx, sess, parts, token, req.WholeFingerprint)
	if err != nil {
		return nil, err
	}

	metrics.UploadBytes.Add(float64(file.Size))
	s.logger.Info().Str("session", sessionID).Str("user", userID).Int64("size", file.Size).Msg("upload completed")

	return fileRecord(file), nil
}

// finalize 在已占用的会话上执行 Complete 的后半段，任何失败都会中止上传并把会话标记为 failed.
func (s *UploadService) finalize(
	ctx context.Context, sess *model.UploadSession, parts []model.UploadPart, token, whole string,
) (*model.File, error) {
	remote, err := s.objects.ListParts(ctx, sess.StorageKey, sess.UploadHandle)
	if err != nil {
		s.failClaimed(ctx, sess, token, false)

		if errors.Is(err, s3.ErrNoSuchUpload) {
			return nil, fmt.Errorf("%w: upload no longer exists", ErrInvalidParts)
		}

		return nil, upstream("list parts", err)
	}

	recorded, err := s.store.ListParts(ctx, sess.ID)
	if err != nil {
		s.failClaimed(ctx, sess, token, false)
		return nil, upstream("list committed parts", err)
	}

	remoteByNumber := indexRemote(remote)
	recordedByNumber := make(map[int]model.UploadPart, len(recorded))

	for _, p := range recorded {
		recordedByNumber[p.PartNumber] = p
	}

	completed := make([]s3.CompletedPart, 0, len(parts))

	for i := range parts {
		p := &parts[i]

		if rec, ok := recordedByNumber[p.PartNumber]; ok {
			if p.Fingerprint == "" {
				p.Fingerprint = rec.Fingerprint
			} else if rec.Fingerprint != p.Fingerprint {
				s.failClaimed(ctx, sess, token, false)
				return nil, fmt.Errorf("%w: part %d fingerprint differs from committed part", ErrInvalidParts, p.PartNumber)
			}
		}

		if err := verifyRemote(*p, remoteByNumber); err != nil {
			s.failClaimed(ctx, sess, token, false)
			return nil, err
		}

		cp := s3.CompletedPart{PartNumber: p.PartNumber, ETag: p.Checksum, ChecksumSHA256: remoteByNumber[p.PartNumber].ChecksumSHA256}
		if cp.ChecksumSHA256 == "" && s.checksum && p.Fingerprint != "" {
			if cp.ChecksumSHA256, err = chunkplan.ChecksumHeader(p.Fingerprint); err != nil {
				s.failClaimed(ctx, sess, token, false)
				return nil, fmt.Errorf("%w: part %d: %w", ErrInvalidParts, p.PartNumber, err)
			}
		}

		completed = append(completed, cp)
	}

	if err := s.objects.CompleteMultipart(ctx, sess.StorageKey, sess.UploadHandle, completed); err != nil {
		s.failClaimed(ctx, sess, token, false)
		return nil, upstream("complete multipart upload", err)
	}

	file, err := s.store.FinalizeSession(ctx, repository.FinalizeInput{
		SessionID:        sess.ID,
		ClaimToken:       token,
		WholeFingerprint: whole,
		Parts:            parts,
		DefaultQuota:     s.defaultQuota,
	})
	if err != nil {
		s.failClaimed(ctx, sess, token, true)
		return nil, upstream("finalize session", err)
	}

	return file, nil
}

// Abort 取消未完成的会话并释放对象存储中的分片，从不计费.
// 已失败的会话再次 Abort 视为成功；正在 Complete 的会话不能被中止.
func (s *UploadService) Abort(ctx context.Context, userID, sessionID string) (resp *types.AbortUploadResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "upload.Abort")
	defer func() { s.finish(span, "abort", err) }()

	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.UserID != userID {
		return nil, sessionNotFound(sessionID)
	}

	aborted := &types.AbortUploadResponse{Status: string(model.SessionFailed)}

	switch {
	case sess.Status == model.SessionFailed:
		return aborted, nil
	case sess.Status != model.SessionUploading:
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, sess.Status)
	case sess.ClaimToken != "":
		return nil, fmt.Errorf("%w: completion in progress", ErrInvalidState)
	}

	if err = s.store.FailSession(ctx, sessionID, ""); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, upstream("fail session", err)
		}

		if cur, e := s.store.GetSession(ctx, sessionID); e == nil && cur.Status == model.SessionFailed {
			return aborted, nil
		}

		return nil, fmt.Errorf("%w: session changed concurrently", ErrInvalidState)
	}

	s.forget(ctx, sessionID)

	if s.abortQuietly(ctx, sess.StorageKey, sess.UploadHandle) {
		if err := s.store.ClearUploadHandle(ctx, sessionID); err != nil {
			s.logger.Warn().Err(err).Str("session", sessionID).Msg("clear upload handle failed")
		}
	}

	s.logger.Info().Str("session", sessionID).Str("user", userID).Msg("upload aborted")

	return aborted, nil
}

// ReapResult 一次回收的统计.
type ReapResult struct {
	Expired  int `json:"expired"`
	Released int `json:"released"`
}

// ReapStale 将闲置超过 idle 的 uploading 会话标记为 failed（包括卡在占用中的），
// 并对仍持有句柄的失败会话重试中止.
func (s *UploadService) ReapStale(ctx context.Context, idle time.Duration, limit int) (ReapResult, error) {
	var res ReapResult

	before := time.Now().Add(-idle)

	stale, err := s.store.ListStaleSessions(ctx, before, limit)
	if err != nil {
		return res, upstream("list stale sessions", err)
	}

	for _, sess := range stale {
		if err := s.store.ForceFailSession(ctx, sess.ID, before); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				s.logger.Warn().Err(err).Str("session", sess.ID).Msg("expire session failed")
			}

			continue
		}

		s.forget(ctx, sess.ID)
		res.Expired++
	}

	abandoned, err := s.store.ListAbandonedHandles(ctx, limit)
	if err != nil {
		return res, upstream("list abandoned uploads", err)
	}

	for _, sess := range abandoned {
		if !s.abortQuietly(ctx, sess.StorageKey, sess.UploadHandle) {
			continue
		}

		if err := s.store.ClearUploadHandle(ctx, sess.ID); err != nil {
			s.logger.Warn().Err(err).Str("session", sess.ID).Msg("clear upload handle failed")
			continue
		}

		res.Released++
	}

	return res, nil
}

func (s *UploadService) checkPartList(sessionID string, plan chunkplan.Plan, in []types.CompletePart) ([]model.UploadPart, error) {
	if len(in) != plan.Count() {
		return nil, fmt.Errorf("%w: got %d parts, want %d", ErrInvalidParts, len(in), plan.Count())
	}

	parts := make([]model.UploadPart, 0, len(in))
	seen := make(map[int]bool, len(in))

	for _, p := range in {
		if p.PartNumber < 1 || p.PartNumber > plan.Count() {
			return nil, fmt.Errorf("%w: part %d outside 1..%d", ErrInvalidParts, p.PartNumber, plan.Count())
		}

		if seen[p.PartNumber] {
			return nil, fmt.Errorf("%w: part %d listed twice", ErrInvalidParts, p.PartNumber)
		}

		seen[p.PartNumber] = true

		if want := plan.PartSize(p.PartNumber); p.Size != want {
			return nil, fmt.Errorf("%w: part %d size %d, want %d", ErrInvalidParts, p.PartNumber, p.Size, want)
		}

		if s.checksum && p.Fingerprint == "" {
			return nil, fmt.Errorf("%w: part %d has no fingerprint", ErrInvalidParts, p.PartNumber)
		}

		parts = append(parts, model.UploadPart{
			SessionID:   sessionID,
			PartNumber:  p.PartNumber,
			Fingerprint: strings.ToLower(p.Fingerprint),
			Checksum:    s3.NormalizeETag(p.Checksum),
			Size:        p.Size,
		})
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	return parts, nil
}

func (s *UploadService) afterLostClaim(ctx context.Context, sessionID string) (*types.CompleteUploadResponse, error) {
	cur, err := s.store.GetSession(ctx, sessionID)
	if err == nil && cur.Status == model.SessionCompleted {
		return s.completedRecord(ctx, sessionID)
	}

	return nil, fmt.Errorf("%w: session claimed by another request", ErrInvalidState)
}

func (s *UploadService) completedRecord(ctx context.Context, sessionID string) (*types.CompleteUploadResponse, error) {
	file, err := s.store.GetFile(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: file for session %s no longer exists", ErrInvalidState, sessionID)
	}

	if err != nil {
		return nil, upstream("load file", err)
	}

	return fileRecord(file), nil
}

// failClaimed 释放 Complete 的占用并清理对象存储，materialized 表示对象已合并需要删除.
func (s *UploadService) failClaimed(ctx context.Context, sess *model.UploadSession, token string, materialized bool) {
	ctx = context.WithoutCancel(ctx)
	l := s.logger.With().Str("session", sess.ID).Logger()

	if err := s.store.FailSession(ctx, sess.ID, token); err != nil {
		l.Error().Err(err).Msg("mark session failed")
	}

	released := false

	if materialized {
		if err := s.objects.RemoveObject(ctx, sess.StorageKey); err != nil {
			l.Warn().Err(err).Msg("remove materialized object failed")
		} else {
			released = true
		}
	} else {
		released = s.abortQuietly(ctx, sess.StorageKey, sess.UploadHandle)
	}

	if released {
		if err := s.store.ClearUploadHandle(ctx, sess.ID); err != nil {
			l.Warn().Err(err).Msg("clear upload handle failed")
		}
	}
}

// abortQuietly 中止分片上传，失败只记录日志；返回对象存储中是否已不存在该上传.
func (s *UploadService) abortQuietly(ctx context.Context, key, handle string) bool {
	if handle == "" {
		return true
	}

	err := s.objects.AbortMultipart(context.WithoutCancel(ctx), key, handle)
	if err == nil || errors.Is(err, s3.ErrNoSuchUpload) {
		return true
	}

	s.logger.Warn().Err(err).Str("key", key).Msg("abort multipart upload failed")

	return false
}

func (s *UploadService) session(ctx context.Context, id string) (*model.UploadSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, sessionNotFound(id)
	}

	if err != nil {
		return nil, upstream("load session", err)
	}

	return sess, nil
}

// snapshot 读取会话快照，配置了缓存时走缓存.
func (s *UploadService) snapshot(ctx context.Context, id string) (sessionSnapshot, error) {
	load := func() (sessionSnapshot, error) {
		sess, err := s.session(ctx, id)
		if err != nil {
			return sessionSnapshot{}, err
		}

		return snapshotOf(sess), nil
	}

	if s.sessions == nil {
		return load()
	}

	return cache.GetOrSet(ctx, s.sessions, id, load, s.cacheTTL)
}

func (s *UploadService) forget(ctx context.Context, id string) {
	if s.sessions == nil {
		return
	}

	if err := s.sessions.Delete(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("session", id).Msg("invalidate session cache failed")
	}
}

func (s *UploadService) objectKey(userID, id string) string {
	prefix := strings.Trim(s.keyPrefix, "/")
	if prefix == "" {
		return userID + "/" + id
	}

	return prefix + "/" + userID + "/" + id
}

func (s *UploadService) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = Code(err)
		tracing.RecordError(span, err)
	}

	metrics.Uploads.WithLabelValues(op, result).Inc()
	span.End()
}

// sessionSnapshot 缓存中的会话视图，只含签发凭证所需字段.
type sessionSnapshot struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	StorageKey   string              `json:"storage_key"`
	UploadHandle string              `json:"upload_handle"`
	Status       model.SessionStatus `json:"status"`
	Claimed      bool                `json:"claimed"`
	Size         int64               `json:"size"`
	ChunkSize    int64               `json:"chunk_size"`
	PartCount    int                 `json:"part_count"`
}

func snapshotOf(s *model.UploadSession) sessionSnapshot {
	return sessionSnapshot{
		ID:           s.ID,
		UserID:       s.UserID,
		StorageKey:   s.StorageKey,
		UploadHandle: s.UploadHandle,
		Status:       s.Status,
		Claimed:      s.ClaimToken != "",
		Size:         s.Size,
		ChunkSize:    s.ChunkSize,
		PartCount:    s.PartCount,
	}
}

func (s sessionSnapshot) describe() string {
	if s.Claimed {
		return "completing"
	}

	return string(s.Status)
}

func sessionNotFound(id string) error {
	return fmt.Errorf("%w: session %s", ErrNotFound, id)
}

func indexRemote(parts []s3.PartInfo) map[int]s3.PartInfo {
	out := make(map[int]s3.PartInfo, len(parts))
	for _, p := range parts {
		out[p.PartNumber] = p
	}

	return out
}

// verifyRemote 确认对象存储中的分片与声明一致.
func verifyRemote(p model.UploadPart, remote map[int]s3.PartInfo) error {
	r, ok := remote[p.PartNumber]
	if !ok {
		return fmt.Errorf("%w: part %d not found in object store", ErrInvalidParts, p.PartNumber)
	}

	if s3.NormalizeETag(r.ETag) != p.Checksum {
		return fmt.Errorf("%w: part %d checksum mismatch", ErrInvalidParts, p.PartNumber)
	}

	if r.Size > 0 && r.Size != p.Size {
		return fmt.Errorf("%w: part %d stored size %d, declared %d", ErrInvalidParts, p.PartNumber, r.Size, p.Size)
	}

	if r.ChecksumSHA256 != "" && p.Fingerprint != "" {
		if want, err := chunkplan.ChecksumHeader(p.Fingerprint); err != nil || want != r.ChecksumSHA256 {
			return fmt.Errorf("%w: part %d fingerprint mismatch", ErrInvalidParts, p.PartNumber)
		}
	}

	return nil
}

func committed(p model.UploadPart) types.CommittedPart {
	return types.CommittedPart{
		PartNumber:  p.PartNumber,
		Fingerprint: p.Fingerprint,
		Checksum:    p.Checksum,
		Size:        p.Size,
	}
}

func fileRecord(f *model.File) *types.CompleteUploadResponse {
	return &types.CompleteUploadResponse{
		FileID:    f.ID,
		Filename:  f.Filename,
		Path:      f.Path,
		Size:      f.Size,
		MimeType:  f.MimeType,
		CreatedAt: f.CreatedAt,
	}
}
