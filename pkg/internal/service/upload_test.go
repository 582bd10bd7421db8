package service_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/cache"
	"github.com/yeisme/syncvault/pkg/chunkplan"
	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/model"
	"github.com/yeisme/syncvault/pkg/internal/repository"
	"github.com/yeisme/syncvault/pkg/internal/service"
	"github.com/yeisme/syncvault/pkg/internal/storage/kv"
	"github.com/yeisme/syncvault/pkg/internal/types"
)

const owner = "alice"

type harness struct {
	repo    *repository.Repository
	objects *fakeObjects
	svc     *service.UploadService
}

func newHarness(t *testing.T, opts ...service.UploadOption) *harness {
	t.Helper()

	repo := newRepo(t)
	objects := newFakeObjects()

	base := []service.UploadOption{
		service.WithChunkSize(5),
		service.WithDefaultQuota(100),
		service.WithKeyPrefix("uploads"),
	}

	return &harness{
		repo:    repo,
		objects: objects,
		svc:     service.NewUploadService(repo, objects, append(base, opts...)...),
	}
}

// uploadParts 开始会话并上传、登记全部分片，返回 Complete 所需的分片列表.
func (h *harness) uploadParts(t *testing.T, data []byte) (*types.BeginUploadResponse, []types.CompletePart) {
	t.Helper()

	begin := h.begin(t, "report.pdf", data)

	return begin, h.sendParts(t, begin, data, chunkplan.FingerprintBytes)
}

func (h *harness) begin(t *testing.T, name string, data []byte) *types.BeginUploadResponse {
	t.Helper()

	begin, err := h.svc.Begin(context.Background(), owner, types.BeginUploadRequest{
		Filename: name,
		Size:     int64(len(data)),
		MimeType: "application/pdf",
		Path:     "/docs",
	})
	require.NoError(t, err)

	return begin
}

// sendParts 按计划上传并登记每个分片，fingerprint 决定客户端上报的指纹写法.
func (h *harness) sendParts(
	t *testing.T, begin *types.BeginUploadResponse, data []byte, fingerprint func([]byte) string,
) []types.CompletePart {
	t.Helper()

	plan, err := chunkplan.New(int64(len(data)), begin.ChunkSize)
	require.NoError(t, err)

	parts := make([]types.CompletePart, 0, plan.Count())

	for _, p := range plan.Parts {
		parts = append(parts, h.sendPart(t, begin, p, data[p.Start:p.End], fingerprint))
	}

	return parts
}

func (h *harness) sendPart(
	t *testing.T, begin *types.BeginUploadResponse, p chunkplan.Part, chunk []byte, fingerprint func([]byte) string,
) types.CompletePart {
	t.Helper()

	ctx := context.Background()
	fp := fingerprint(chunk)

	capability, err := h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, types.PartCapabilityRequest{
		PartNumber:   p.Number,
		UploadHandle: begin.UploadHandle,
		Fingerprint:  fp,
	})
	require.NoError(t, err)
	assert.Equal(t, "PUT", capability.Method)

	etag := h.objects.put(t, begin.UploadHandle, p.Number, chunk)

	_, err = h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
		PartNumber:  p.Number,
		Checksum:    etag,
		Size:        p.Size(),
		Fingerprint: fp,
	})
	require.NoError(t, err)

	return types.CompletePart{PartNumber: p.Number, Checksum: etag, Size: p.Size(), Fingerprint: fp}
}

func (h *harness) status(t *testing.T, id string) model.SessionStatus {
	t.Helper()

	s, err := h.repo.GetSession(context.Background(), id)
	require.NoError(t, err)

	return s.Status
}

func (h *harness) consumed(t *testing.T) int64 {
	t.Helper()

	u, err := h.repo.EnsureUsage(context.Background(), owner, 100)
	require.NoError(t, err)

	return u.Consumed
}

// TestUploadLifecycle 测试完整上传流程：续传状态、合并对象、计费以及重复 Complete.
func TestUploadLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := []byte("hello, syncvault")

	begin, parts := h.uploadParts(t, data)
	assert.Equal(t, int64(5), begin.ChunkSize)
	assert.Equal(t, 4, begin.PartCount)
	assert.Equal(t, "uploads/alice/"+begin.SessionID, begin.StoragePath)

	state, err := h.svc.QueryResumeState(ctx, owner, begin.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "uploading", state.Status)
	require.Len(t, state.CommittedParts, 4)

	for i, p := range state.CommittedParts {
		assert.Equal(t, i+1, p.PartNumber)
	}

	req := types.CompleteUploadRequest{UploadHandle: begin.UploadHandle, Parts: parts}

	file, err := h.svc.Complete(ctx, owner, begin.SessionID, req)
	require.NoError(t, err)
	assert.Equal(t, begin.SessionID, file.FileID)
	assert.Equal(t, int64(len(data)), file.Size)
	assert.Equal(t, "application/pdf", file.MimeType)

	obj, ok := h.objects.object(begin.StoragePath)
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, obj))

	assert.Equal(t, model.SessionCompleted, h.status(t, begin.SessionID))
	assert.Equal(t, int64(len(data)), h.consumed(t))

	again, err := h.svc.Complete(ctx, owner, begin.SessionID, req)
	require.NoError(t, err)
	assert.Equal(t, file.FileID, again.FileID)
	assert.Equal(t, int64(len(data)), h.consumed(t), "second complete must not charge again")

	_, err = h.svc.Abort(ctx, owner, begin.SessionID)
	assert.ErrorIs(t, err, service.ErrInvalidState)
}

// TestBeginValidation 测试配额与参数校验.
func TestBeginValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "big.bin", Size: 101})
	require.ErrorIs(t, err, service.ErrQuotaExceeded)
	assert.Equal(t, "QuotaExceeded", service.Code(err))

	_, err = h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "empty.bin", Size: 0})
	assert.ErrorIs(t, err, service.ErrInvalidArgument)

	_, err = h.svc.Begin(ctx, owner, types.BeginUploadRequest{Size: 10})
	assert.ErrorIs(t, err, service.ErrInvalidArgument)

	begin, err := h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "exact.bin", Size: 100})
	require.NoError(t, err)

	s, err := h.repo.GetSession(ctx, begin.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", s.MimeType)
	assert.Equal(t, 20, s.PartCount)
}

// TestCapabilityChecks 测试分片凭证的归属、范围与指纹要求.
func TestCapabilityChecks(t *testing.T) {
	h := newHarness(t, service.WithChecksum(true))
	ctx := context.Background()

	begin, err := h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "a.bin", Size: 12})
	require.NoError(t, err)

	fp := chunkplan.FingerprintBytes([]byte("01234"))

	_, err = h.svc.RequestPartUploadCapability(ctx, "mallory", begin.SessionID, types.PartCapabilityRequest{
		PartNumber: 1, UploadHandle: begin.UploadHandle, Fingerprint: fp,
	})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, types.PartCapabilityRequest{
		PartNumber: 1, UploadHandle: "other", Fingerprint: fp,
	})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, types.PartCapabilityRequest{
		PartNumber: 4, UploadHandle: begin.UploadHandle, Fingerprint: fp,
	})
	assert.ErrorIs(t, err, service.ErrInvalidParts)

	_, err = h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, types.PartCapabilityRequest{
		PartNumber: 1, UploadHandle: begin.UploadHandle,
	})
	assert.ErrorIs(t, err, service.ErrInvalidArgument)

	capability, err := h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, types.PartCapabilityRequest{
		PartNumber: 1, UploadHandle: begin.UploadHandle, Fingerprint: fp,
	})
	require.NoError(t, err)

	want, err := chunkplan.ChecksumHeader(fp)
	require.NoError(t, err)
	assert.Equal(t, want, capability.Headers["X-Amz-Checksum-Sha256"])

	_, err = h.svc.RequestPartUploadCapability(ctx, owner, "missing", types.PartCapabilityRequest{
		PartNumber: 1, UploadHandle: begin.UploadHandle, Fingerprint: fp,
	})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// TestCommitPart 测试分片登记的校验以及同号分片替换.
func TestCommitPart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin, err := h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "a.bin", Size: 7})
	require.NoError(t, err)

	first := []byte("aaaaa")
	fp := chunkplan.FingerprintBytes(first)

	_, err = h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
		PartNumber: 1, Checksum: "deadbeef", Size: 5, Fingerprint: fp,
	})
	assert.ErrorIs(t, err, service.ErrInvalidParts, "part not in object store")

	etag := h.objects.put(t, begin.UploadHandle, 1, first)

	_, err = h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
		PartNumber: 1, Checksum: etag, Size: 4, Fingerprint: fp,
	})
	assert.ErrorIs(t, err, service.ErrInvalidParts, "size does not match plan")

	_, err = h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
		PartNumber: 1, Checksum: "other", Size: 5, Fingerprint: fp,
	})
	assert.ErrorIs(t, err, service.ErrInvalidParts, "etag mismatch")

	res, err := h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
		PartNumber: 1, Checksum: `"` + etag + `"`, Size: 5, Fingerprint: fp,
	})
	require.NoError(t, err)
	assert.False(t, res.Superseded)
	assert.Equal(t, etag, res.Checksum)

	second := []byte("bbbbb")
	etag2 := h.objects.put(t, begin.UploadHandle, 1, second)

	res, err = h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
		PartNumber: 1, Checksum: etag2, Size: 5, Fingerprint: chunkplan.FingerprintBytes(second),
	})
	require.NoError(t, err)
	assert.True(t, res.Superseded)

	state, err := h.svc.QueryResumeState(ctx, owner, begin.SessionID)
	require.NoError(t, err)
	require.Len(t, state.CommittedParts, 1)
	assert.Equal(t, etag2, state.CommittedParts[0].Checksum)

	_, err = h.svc.QueryResumeState(ctx, "mallory", begin.SessionID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// TestCompleteRejectsPartList 测试分片列表形状错误不产生任何副作用.
func TestCompleteRejectsPartList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin, parts := h.uploadParts(t, []byte("0123456789ab"))

	cases := map[string][]types.CompletePart{
		"missing":   parts[:2],
		"duplicate": {parts[0], parts[0], parts[2]},
		"size": {
			parts[0], parts[1],
			{PartNumber: 3, Checksum: parts[2].Checksum, Size: 5},
		},
		"range": {parts[0], parts[1], {PartNumber: 4, Checksum: "x", Size: 2}},
	}

	for name, list := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
				UploadHandle: begin.UploadHandle, Parts: list,
			})
			require.ErrorIs(t, err, service.ErrInvalidParts)
			assert.Equal(t, model.SessionUploading, h.status(t, begin.SessionID))
			assert.True(t, h.objects.live(begin.UploadHandle))
		})
	}

	file, err := h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
		UploadHandle: begin.UploadHandle, Parts: parts,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), file.Size)
}

// TestCompleteChecksumMismatch 测试与对象存储不一致的分片导致会话失败并中止上传.
func TestCompleteChecksumMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin, parts := h.uploadParts(t, []byte("0123456789"))
	parts[1].Checksum = "0000"

	_, err := h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
		UploadHandle: begin.UploadHandle, Parts: parts,
	})
	require.ErrorIs(t, err, service.ErrInvalidParts)

	s, err := h.repo.GetSession(ctx, begin.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionFailed, s.Status)
	assert.Empty(t, s.UploadHandle)
	assert.Empty(t, s.ClaimToken)
	assert.False(t, h.objects.live(begin.UploadHandle))
	assert.Zero(t, h.consumed(t))
}

// TestCompleteUpstreamFailure 测试对象存储合并失败时会话失败且不计费.
func TestCompleteUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin, parts := h.uploadParts(t, []byte("0123456789"))
	h.objects.completeErr = errors.New("connection reset")

	_, err := h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
		UploadHandle: begin.UploadHandle, Parts: parts,
	})
	require.ErrorIs(t, err, service.ErrUpstream)
	assert.Equal(t, "UpstreamFailure", service.Code(err))
	assert.Equal(t, model.SessionFailed, h.status(t, begin.SessionID))
	assert.Equal(t, 1, h.objects.abortedCount())
	assert.Zero(t, h.consumed(t))
}

// TestAbort 测试中止后不能再完成，重复中止视为成功.
func TestAbort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin, parts := h.uploadParts(t, []byte("0123456789"))

	res, err := h.svc.Abort(ctx, owner, begin.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)
	assert.False(t, h.objects.live(begin.UploadHandle))

	res, err = h.svc.Abort(ctx, owner, begin.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)

	_, err = h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
		UploadHandle: begin.UploadHandle, Parts: parts,
	})
	assert.ErrorIs(t, err, service.ErrInvalidState)

	_, err = h.svc.Abort(ctx, "mallory", begin.SessionID)
	assert.ErrorIs(t, err, service.ErrNotFound)

	s, err := h.repo.GetSession(ctx, begin.SessionID)
	require.NoError(t, err)
	assert.Empty(t, s.UploadHandle)
}

// TestCompleteAbortRace 测试并发的 Complete 与 Abort 只有一个生效.
func TestCompleteAbortRace(t *testing.T) {
	for i := 0; i < 5; i++ {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			raceOnce(t)
		})
	}
}

func raceOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin, parts := h.uploadParts(t, []byte("0123456789"))

	var (
		wg          sync.WaitGroup
		completeErr error
		abortErr    error
	)

	wg.Add(2)

	go func() {
		defer wg.Done()

		_, completeErr = h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
			UploadHandle: begin.UploadHandle, Parts: parts,
		})
	}()

	go func() {
		defer wg.Done()

		_, abortErr = h.svc.Abort(ctx, owner, begin.SessionID)
	}()

	wg.Wait()

	switch h.status(t, begin.SessionID) {
	case model.SessionCompleted:
		require.NoError(t, completeErr)
		require.ErrorIs(t, abortErr, service.ErrInvalidState)
		assert.Equal(t, int64(10), h.consumed(t))
	case model.SessionFailed:
		require.NoError(t, abortErr)
		require.ErrorIs(t, completeErr, service.ErrInvalidState)
		assert.Zero(t, h.consumed(t))
	default:
		t.Fatalf("session left in non-terminal state")
	}
}

// TestReapStale 测试闲置会话被回收并释放对象存储句柄.
func TestReapStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin, err := h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "idle.bin", Size: 10})
	require.NoError(t, err)

	res, err := h.svc.ReapStale(ctx, configs.DefaultSessionTTL, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)

	res, err = h.svc.ReapStale(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Released)
	assert.Equal(t, model.SessionFailed, h.status(t, begin.SessionID))
	assert.False(t, h.objects.live(begin.UploadHandle))

	_, err = h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
		PartNumber: 1, Checksum: "x", Size: 5, Fingerprint: chunkplan.FingerprintBytes([]byte("01234")),
	})
	assert.ErrorIs(t, err, service.ErrInvalidState)
}

// TestSessionCache 测试会话缓存在状态变化后失效.
func TestSessionCache(t *testing.T) {
	store, err := kv.NewMemoryKV(context.Background(), &configs.KVConfig{})
	require.NoError(t, err)

	h := newHarness(t, service.WithSessionCache(cache.NewCache(store, "session."), configs.DefaultSessionCacheTTL))
	ctx := context.Background()

	begin, err := h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "a.bin", Size: 10})
	require.NoError(t, err)

	req := types.PartCapabilityRequest{PartNumber: 1, UploadHandle: begin.UploadHandle}

	_, err = h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, req)
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "session."+begin.SessionID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.svc.Abort(ctx, owner, begin.SessionID)
	require.NoError(t, err)

	_, err = h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, req)
	assert.ErrorIs(t, err, service.ErrInvalidState)
}

// TestUppercaseFingerprints 测试客户端始终上报大写指纹时，登记、续传与 Complete 都按小写等价处理.
func TestUppercaseFingerprints(t *testing.T) {
	cases := map[string]struct{ checksum, bareListing bool }{
		"plain":                 {},
		"checksum header":       {checksum: true},
		"checksum from request": {checksum: true, bareListing: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, service.WithChecksum(tc.checksum))
			h.objects.bareListing = tc.bareListing
			ctx := context.Background()
			data := []byte("hello, syncvault")

			upper := func(b []byte) string { return strings.ToUpper(chunkplan.FingerprintBytes(b)) }

			begin := h.begin(t, "upper.bin", data)
			parts := h.sendParts(t, begin, data, upper)

			state, err := h.svc.QueryResumeState(ctx, owner, begin.SessionID)
			require.NoError(t, err)
			require.Len(t, state.CommittedParts, len(parts))

			for i, p := range state.CommittedParts {
				assert.Equal(t, strings.ToLower(parts[i].Fingerprint), p.Fingerprint)
			}

			file, err := h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
				UploadHandle:     begin.UploadHandle,
				Parts:            parts,
				WholeFingerprint: upper(data),
			})
			require.NoError(t, err)
			assert.Equal(t, begin.SessionID, file.FileID)
			assert.Equal(t, model.SessionCompleted, h.status(t, begin.SessionID))
			assert.Equal(t, int64(len(data)), h.consumed(t))

			s, err := h.repo.GetSession(ctx, begin.SessionID)
			require.NoError(t, err)
			assert.Equal(t, chunkplan.FingerprintBytes(data), s.WholeFingerprint)
		})
	}
}

// TestFingerprintFormat 测试带 0x 前缀、长度不符或含非十六进制字符的指纹被拒绝.
func TestFingerprintFormat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	begin := h.begin(t, "a.bin", []byte("0123456789"))
	etag := h.objects.put(t, begin.UploadHandle, 1, []byte("01234"))
	fp := chunkplan.FingerprintBytes([]byte("01234"))

	for _, bad := range []string{"0x" + fp[:62], fp[:63], strings.Repeat("g", 64)} {
		_, err := h.svc.CommitPart(ctx, owner, begin.SessionID, types.CommitPartRequest{
			PartNumber: 1, Checksum: etag, Size: 5, Fingerprint: bad,
		})
		assert.ErrorIs(t, err, service.ErrInvalidArgument, bad)

		_, err = h.svc.RequestPartUploadCapability(ctx, owner, begin.SessionID, types.PartCapabilityRequest{
			PartNumber: 1, UploadHandle: begin.UploadHandle, Fingerprint: bad,
		})
		assert.ErrorIs(t, err, service.ErrInvalidArgument, bad)
	}

	state, err := h.svc.QueryResumeState(ctx, owner, begin.SessionID)
	require.NoError(t, err)
	assert.Empty(t, state.CommittedParts)
	assert.Equal(t, model.SessionUploading, h.status(t, begin.SessionID))
}

// TestResumeOutOfOrder 测试 12 MiB 文件按 5 MiB 分片乱序登记：续传状态只含已登记分片，补齐后完成.
func TestResumeOutOfOrder(t *testing.T) {
	h := newHarness(t, service.WithChunkSize(configs.DefaultChunkSize), service.WithDefaultQuota(64<<20))
	ctx := context.Background()

	const size = 12 << 20

	data := bytes.Repeat([]byte("syncvault"), size/9+1)[:size]

	begin := h.begin(t, "video.bin", data)
	require.Equal(t, 3, begin.PartCount)

	plan, err := chunkplan.New(size, begin.ChunkSize)
	require.NoError(t, err)

	sent := map[int]types.CompletePart{}
	send := func(n int) {
		p, err := plan.Part(n)
		require.NoError(t, err)

		sent[n] = h.sendPart(t, begin, p, data[p.Start:p.End], chunkplan.FingerprintBytes)
	}

	send(3)
	send(1)

	state, err := h.svc.QueryResumeState(ctx, owner, begin.SessionID)
	require.NoError(t, err)
	require.Len(t, state.CommittedParts, 2)
	assert.Equal(t, 1, state.CommittedParts[0].PartNumber)
	assert.Equal(t, 3, state.CommittedParts[1].PartNumber)
	assert.Equal(t, int64(5<<20), state.CommittedParts[0].Size)
	assert.Equal(t, int64(2<<20), state.CommittedParts[1].Size)

	send(2)

	file, err := h.svc.Complete(ctx, owner, begin.SessionID, types.CompleteUploadRequest{
		UploadHandle:     begin.UploadHandle,
		Parts:            []types.CompletePart{sent[1], sent[2], sent[3]},
		WholeFingerprint: chunkplan.FingerprintBytes(data),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(size), file.Size)

	obj, ok := h.objects.object(begin.StoragePath)
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, obj))
	assert.Equal(t, int64(size), h.consumed(t))
}

// TestQuotaOvershootBounded 测试两个各占剩余配额 60% 的会话都通过预检并完成，
// 超额不超过一次上传，之后的 Begin 返回 QuotaExceeded.
func TestQuotaOvershootBounded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := bytes.Repeat([]byte("a"), 60)
	second := bytes.Repeat([]byte("b"), 60)

	beginA := h.begin(t, "a.bin", first)
	beginB := h.begin(t, "b.bin", second)

	reqs := []struct {
		id  string
		req types.CompleteUploadRequest
	}{
		{beginA.SessionID, types.CompleteUploadRequest{
			UploadHandle: beginA.UploadHandle, Parts: h.sendParts(t, beginA, first, chunkplan.FingerprintBytes),
		}},
		{beginB.SessionID, types.CompleteUploadRequest{
			UploadHandle: beginB.UploadHandle, Parts: h.sendParts(t, beginB, second, chunkplan.FingerprintBytes),
		}},
	}

	var wg sync.WaitGroup

	errs := make([]error, len(reqs))

	for i, r := range reqs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = h.svc.Complete(ctx, owner, r.id, r.req)
		}()
	}

	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	consumed := h.consumed(t)
	assert.Equal(t, int64(120), consumed)
	assert.LessOrEqual(t, consumed-100, int64(60), "overshoot bounded by one upload")

	_, err := h.svc.Begin(ctx, owner, types.BeginUploadRequest{Filename: "c.bin", Size: 1})
	assert.ErrorIs(t, err, service.ErrQuotaExceeded)
}
