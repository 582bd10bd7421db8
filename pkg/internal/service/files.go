package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/model"
	"github.com/yeisme/syncvault/pkg/internal/repository"
	"github.com/yeisme/syncvault/pkg/internal/storage/s3"
	"github.com/yeisme/syncvault/pkg/internal/types"
	nlog "github.com/yeisme/syncvault/pkg/log"
	"github.com/yeisme/syncvault/pkg/tracing"
)

const defaultListLimit = 100

// FileStore 文件记录的持久化，由 repository.Repository 实现.
type FileStore interface {
	ListFiles(ctx context.Context, userID string, opts repository.ListOptions) ([]model.File, error)
	GetFile(ctx context.Context, id string) (*model.File, error)
	UpdateFile(ctx context.Context, id, ownerID string, patch repository.FilePatch) (*model.File, error)
	SoftDeleteFile(ctx context.Context, id, ownerID string) (*model.File, error)
	RestoreFile(ctx context.Context, id, ownerID string) (*model.File, error)
	ShareFile(ctx context.Context, id, ownerID, targetUserID string) (*model.File, error)
	UnshareFile(ctx context.Context, id, ownerID, targetUserID string) (*model.File, error)
	PurgeFile(ctx context.Context, id, ownerID string) (*model.File, error)
	ListTrash(ctx context.Context, before time.Time, limit int) ([]model.File, error)
	EnsureUsage(ctx context.Context, userID string, defaultQuota int64) (model.StorageUsage, error)
}

// FileObjects 文件读取与删除用到的对象存储操作.
type FileObjects interface {
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (s3.PresignedRequest, error)
	RemoveObject(ctx context.Context, key string) error
}

// FileService 已完成文件的元数据操作.文件对所有者和被共享用户可见，只有所有者能修改.
type FileService struct {
	store        FileStore
	objects      FileObjects
	downloadTTL  time.Duration
	defaultQuota int64
	logger       *zerolog.Logger
}

// NewFileService 创建文件服务.
func NewFileService(store FileStore, objects FileObjects, cfg configs.UploadConfig) *FileService {
	l := nlog.Component("files")

	s := &FileService{
		store:        store,
		objects:      objects,
		downloadTTL:  cfg.CapabilityTTL,
		defaultQuota: cfg.DefaultQuota,
		logger:       &l,
	}
	if s.downloadTTL <= 0 {
		s.downloadTTL = configs.DefaultCapabilityTTL
	}

	return s
}

// List 列出用户拥有或被共享的文件.
func (s *FileService) List(ctx context.Context, userID string, q types.FileListQuery) (*types.FileListResponse, error) {
	if err := validate(q); err != nil {
		return nil, err
	}

	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}

	files, err := s.store.ListFiles(ctx, userID, repository.ListOptions{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		return nil, upstream("list files", err)
	}

	out := make([]types.FileView, 0, len(files))
	for i := range files {
		out = append(out, FileView(&files[i]))
	}

	return &types.FileListResponse{Files: out, Limit: q.Limit, Offset: q.Offset}, nil
}

// Get 读取单个文件.
func (s *FileService) Get(ctx context.Context, userID, id string) (*types.FileView, error) {
	f, err := s.visible(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	v := FileView(f)

	return &v, nil
}

// DownloadURL 签发限时下载地址.
func (s *FileService) DownloadURL(ctx context.Context, userID, id string) (*types.DownloadResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "files.DownloadURL")
	defer span.End()

	f, err := s.visible(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	req, err := s.objects.PresignGet(ctx, f.StorageKey, f.Filename, s.downloadTTL)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, upstream("presign download", err)
	}

	return &types.DownloadResponse{URL: req.URL, ExpiresAt: req.ExpiresAt}, nil
}

// Rename 修改文件名或逻辑路径.
func (s *FileService) Rename(ctx context.Context, userID, id string, req types.RenameFileRequest) (*types.FileView, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if req.Filename == nil && req.Path == nil {
		return nil, fmt.Errorf("%w: nothing to change", ErrInvalidArgument)
	}

	return s.mutate(ctx, "rename", func() (*model.File, error) {
		return s.store.UpdateFile(ctx, id, userID, repository.FilePatch{Filename: req.Filename, Path: req.Path})
	})
}

// SoftDelete 移入回收站，配额保留到彻底删除.
func (s *FileService) SoftDelete(ctx context.Context, userID, id string) (*types.FileView, error) {
	return s.mutate(ctx, "soft delete", func() (*model.File, error) {
		return s.store.SoftDeleteFile(ctx, id, userID)
	})
}

// Restore 从回收站恢复.
func (s *FileService) Restore(ctx context.Context, userID, id string) (*types.FileView, error) {
	return s.mutate(ctx, "restore", func() (*model.File, error) {
		return s.store.RestoreFile(ctx, id, userID)
	})
}

// Share 授予其他用户只读访问.
func (s *FileService) Share(ctx context.Context, userID, id string, req types.ShareFileRequest) (*types.FileView, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if req.UserID == userID {
		return nil, fmt.Errorf("%w: cannot share with yourself", ErrInvalidArgument)
	}

	return s.mutate(ctx, "share", func() (*model.File, error) {
		return s.store.ShareFile(ctx, id, userID, req.UserID)
	})
}

// Unshare 撤销共享.
func (s *FileService) Unshare(ctx context.Context, userID, id, target string) (*types.FileView, error) {
	return s.mutate(ctx, "unshare", func() (*model.File, error) {
		return s.store.UnshareFile(ctx, id, userID, target)
	})
}

// Purge 彻底删除文件并释放配额，对象删除失败只记录日志.
func (s *FileService) Purge(ctx context.Context, userID, id string) error {
	f, err := s.store.PurgeFile(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: file %s", ErrNotFound, id)
	}

	if err != nil {
		return upstream("purge file", err)
	}

	s.removeObject(ctx, f)

	return nil
}

// PurgeExpired 彻底删除在回收站中超过保留期的文件，返回删除数量.
func (s *FileService) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	files, err := s.store.ListTrash(ctx, before, limit)
	if err != nil {
		return 0, upstream("list trash", err)
	}

	n := 0

	for _, f := range files {
		purged, err := s.store.PurgeFile(ctx, f.ID, "")
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}

		if err != nil {
			s.logger.Warn().Err(err).Str("file", f.ID).Msg("purge expired file failed")
			continue
		}

		s.removeObject(ctx, purged)
		n++
	}

	return n, nil
}

// Usage 返回用户用量.
func (s *FileService) Usage(ctx context.Context, userID string) (*types.UsageResponse, error) {
	u, err := s.store.EnsureUsage(ctx, userID, s.defaultQuota)
	if err != nil {
		return nil, upstream("load usage", err)
	}

	return &types.UsageResponse{
		UserID:    u.UserID,
		Consumed:  u.Consumed,
		Quota:     u.Quota,
		Remaining: u.Remaining(),
	}, nil
}

func (s *FileService) visible(ctx context.Context, userID, id string) (*model.File, error) {
	f, err := s.store.GetFile(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, upstream("load file", err)
	}

	if f.UserID != userID && !slices.Contains(sharedWith(f), userID) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, id)
	}

	return f, nil
}

func (s *FileService) mutate(ctx context.Context, what string, fn func() (*model.File, error)) (*types.FileView, error) {
	f, err := fn()
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s target not found", ErrNotFound, what)
	}

	if err != nil {
		return nil, upstream(what, err)
	}

	s.logger.Debug().Str("file", f.ID).Int64("version", f.Version).Msg(what)

	v := FileView(f)

	return &v, nil
}

func (s *FileService) removeObject(ctx context.Context, f *model.File) {
	if err := s.objects.RemoveObject(context.WithoutCancel(ctx), f.StorageKey); err != nil {
		s.logger.Warn().Err(err).Str("file", f.ID).Str("key", f.StorageKey).Msg("remove object failed")
	}
}

// FileView 将文件记录转换为对外视图.
func FileView(f *model.File) types.FileView {
	return types.FileView{
		ID:         f.ID,
		Owner:      f.UserID,
		Filename:   f.Filename,
		Path:       f.Path,
		Size:       f.Size,
		MimeType:   f.MimeType,
		Status:     string(f.Status),
		Version:    f.Version,
		IsDeleted:  f.IsDeleted(),
		SharedWith: sharedWith(f),
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

func sharedWith(f *model.File) []string {
	if len(f.Shares) == 0 {
		return nil
	}

	out := make([]string, 0, len(f.Shares))
	for _, sh := range f.Shares {
		out = append(out, sh.UserID)
	}

	slices.Sort(out)

	return out
}
