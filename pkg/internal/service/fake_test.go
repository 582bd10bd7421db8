package service_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeisme/syncvault/pkg/chunkplan"
	"github.com/yeisme/syncvault/pkg/internal/model"
	"github.com/yeisme/syncvault/pkg/internal/repository"
	"github.com/yeisme/syncvault/pkg/internal/storage/s3"
)

// fakeObjects 内存中的对象存储，模拟 S3 分片上传语义.
type fakeObjects struct {
	mu      sync.Mutex
	next    int
	uploads map[string]*fakeUpload
	objects map[string][]byte
	aborted []string
	removed []string

	completeErr error
	// bareListing 让 ListParts 不返回分片校验和，Complete 需自行按指纹补齐.
	bareListing bool
}

type fakeUpload struct {
	key      string
	checksum bool
	parts    map[int]fakePart
}

type fakePart struct {
	data []byte
	info s3.PartInfo
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		uploads: map[string]*fakeUpload{},
		objects: map[string][]byte{},
	}
}

func (f *fakeObjects) CreateMultipart(_ context.Context, key, _ string, withChecksum bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	id := fmt.Sprintf("mpu-%d", f.next)
	f.uploads[id] = &fakeUpload{key: key, checksum: withChecksum, parts: map[int]fakePart{}}

	return id, nil
}

func (f *fakeObjects) PresignPart(
	_ context.Context, key, uploadID string, partNumber int, checksumB64 string, ttl time.Duration,
) (s3.PresignedRequest, error) {
	req := s3.PresignedRequest{
		URL:       fmt.Sprintf("https://objects.test/%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber),
		Method:    "PUT",
		ExpiresAt: time.Now().Add(ttl),
	}
	if checksumB64 != "" {
		req.Headers = map[string]string{"X-Amz-Checksum-Sha256": checksumB64}
	}

	return req, nil
}

// put 模拟客户端直接向预签名地址写入分片，返回 ETag.
func (f *fakeObjects) put(t *testing.T, uploadID string, partNumber int, data []byte) string {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	up, ok := f.uploads[uploadID]
	require.True(t, ok, "unknown upload %s", uploadID)

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	info := s3.PartInfo{PartNumber: partNumber, ETag: `"` + etag + `"`, Size: int64(len(data))}
	if up.checksum {
		info.ChecksumSHA256, _ = chunkplan.ChecksumHeader(chunkplan.FingerprintBytes(data))
	}

	up.parts[partNumber] = fakePart{data: append([]byte(nil), data...), info: info}

	return etag
}

func (f *fakeObjects) ListParts(_ context.Context, _, uploadID string) ([]s3.PartInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	up, ok := f.uploads[uploadID]
	if !ok {
		return nil, s3.ErrNoSuchUpload
	}

	out := make([]s3.PartInfo, 0, len(up.parts))
	for _, p := range up.parts {
		info := p.info
		if f.bareListing {
			info.ChecksumSHA256 = ""
		}

		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })

	return out, nil
}

func (f *fakeObjects) CompleteMultipart(_ context.Context, key, uploadID string, parts []s3.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.completeErr != nil {
		return f.completeErr
	}

	up, ok := f.uploads[uploadID]
	if !ok {
		return s3.ErrNoSuchUpload
	}

	var body []byte

	for _, cp := range parts {
		p, ok := up.parts[cp.PartNumber]
		if !ok || s3.NormalizeETag(p.info.ETag) != s3.NormalizeETag(cp.ETag) {
			return fmt.Errorf("invalid part %d", cp.PartNumber)
		}

		if up.checksum && cp.ChecksumSHA256 != p.info.ChecksumSHA256 {
			return fmt.Errorf("bad checksum for part %d", cp.PartNumber)
		}

		body = append(body, p.data...)
	}

	f.objects[key] = body
	delete(f.uploads, uploadID)

	return nil
}

func (f *fakeObjects) AbortMultipart(_ context.Context, _, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.uploads[uploadID]; !ok {
		return s3.ErrNoSuchUpload
	}

	delete(f.uploads, uploadID)
	f.aborted = append(f.aborted, uploadID)

	return nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, key)
	f.removed = append(f.removed, key)

	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key, filename string, ttl time.Duration) (s3.PresignedRequest, error) {
	return s3.PresignedRequest{
		URL:       "https://objects.test/" + key + "?filename=" + filename,
		Method:    "GET",
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *fakeObjects) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.objects[key]

	return b, ok
}

func (f *fakeObjects) abortedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.aborted)
}

func (f *fakeObjects) live(uploadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.uploads[uploadID]

	return ok
}

func newRepo(t *testing.T) *repository.Repository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	return repository.New(db)
}
