package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yeisme/syncvault/pkg/chunkplan"
	"github.com/yeisme/syncvault/pkg/internal/types"
)

// UploadError 上传在会话建立后失败，可用 SessionID 调用 Resume 继续.
type UploadError struct {
	SessionID string
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload session %s: %v", e.SessionID, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// UploadFile 上传本地文件，逻辑路径为 dir.
func (c *Client) UploadFile(ctx context.Context, name, dir string) (*types.CompleteUploadResponse, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return c.Upload(ctx, f, types.BeginUploadRequest{
		Filename: filepath.Base(name),
		Size:     st.Size(),
		MimeType: mime.TypeByExtension(filepath.Ext(name)),
		Path:     dir,
	})
}

// Upload 从 r 读取 req.Size 字节完成一次完整上传.
func (c *Client) Upload(ctx context.Context, r io.ReaderAt, req types.BeginUploadRequest) (*types.CompleteUploadResponse, error) {
	begin, err := c.Begin(ctx, req)
	if err != nil {
		return nil, err
	}

	rec, err := c.transfer(ctx, r, begin.SessionID, begin.UploadHandle, req.Size, begin.ChunkSize, nil)
	if err != nil {
		return nil, &UploadError{SessionID: begin.SessionID, Err: err}
	}

	return rec, nil
}

// Resume 继续一个未完成的会话，只上传服务端缺失或指纹不一致的分片.
func (c *Client) Resume(ctx context.Context, r io.ReaderAt, sessionID string) (*types.CompleteUploadResponse, error) {
	state, err := c.ResumeState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	committed := make(map[int]types.CommittedPart, len(state.CommittedParts))
	for _, p := range state.CommittedParts {
		committed[p.PartNumber] = p
	}

	if state.Status == "completed" {
		// 已完成的会话再次 Complete 返回原记录
		parts := make([]types.CompletePart, 0, len(committed))
		for _, p := range committed {
			parts = append(parts, completePart(p))
		}

		sortParts(parts)

		return c.Complete(ctx, sessionID, types.CompleteUploadRequest{UploadHandle: state.UploadHandle, Parts: parts})
	}

	if state.Status != "uploading" {
		return nil, fmt.Errorf("session %s is %s", sessionID, state.Status)
	}

	rec, err := c.transfer(ctx, r, sessionID, state.UploadHandle, state.Size, state.ChunkSize, committed)
	if err != nil {
		return nil, &UploadError{SessionID: sessionID, Err: err}
	}

	return rec, nil
}

// transfer 并发上传缺失的分片，然后按编号提交完整分片列表.
func (c *Client) transfer(
	ctx context.Context, r io.ReaderAt, sessionID, handle string, size, chunkSize int64, have map[int]types.CommittedPart,
) (*types.CompleteUploadResponse, error) {
	plan, err := chunkplan.New(size, chunkSize)
	if err != nil {
		return nil, err
	}

	fps, err := plan.Fingerprints(r)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	var (
		mu    sync.Mutex
		parts = make([]types.CompletePart, 0, plan.Count())
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, part := range plan.Parts {
		fp := fps.Parts[i]

		if prev, ok := have[part.Number]; ok && prev.Fingerprint == fp && prev.Size == part.Size() {
			parts = append(parts, completePart(prev))
			continue
		}

		g.Go(func() error {
			done, err := c.sendPart(gctx, r, sessionID, handle, part, fp)
			if err != nil {
				return fmt.Errorf("part %d: %w", part.Number, err)
			}

			mu.Lock()
			parts = append(parts, completePart(done.CommittedPart))
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortParts(parts)

	return c.Complete(ctx, sessionID, types.CompleteUploadRequest{
		UploadHandle:     handle,
		Parts:            parts,
		WholeFingerprint: fps.Whole,
	})
}

// sendPart 申请凭证、写入对象存储并登记回执.
func (c *Client) sendPart(
	ctx context.Context, r io.ReaderAt, sessionID, handle string, part chunkplan.Part, fp string,
) (*types.CommitPartResponse, error) {
	buf := make([]byte, part.Size())
	if _, err := r.ReadAt(buf, part.Start); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	capability, err := c.PartCapability(ctx, sessionID, types.PartCapabilityRequest{
		PartNumber:   part.Number,
		UploadHandle: handle,
		Fingerprint:  fp,
	})
	if err != nil {
		return nil, err
	}

	etag, err := c.putObject(ctx, capability, buf)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("session", sessionID).Int("part", part.Number).Int64("size", part.Size()).Msg("part uploaded")

	return c.CommitPart(ctx, sessionID, types.CommitPartRequest{
		PartNumber:  part.Number,
		Checksum:    etag,
		Size:        part.Size(),
		Fingerprint: fp,
	})
}

// putObject 按预签名请求写入分片，返回对象存储给出的 ETag.
func (c *Client) putObject(ctx context.Context, capability *types.PartCapabilityResponse, data []byte) (string, error) {
	method := capability.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := http.NewRequestWithContext(ctx, method, capability.CapabilityURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	req.ContentLength = int64(len(data))
	for k, v := range capability.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("object store returned %s", resp.Status)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", errors.New("object store returned no ETag")
	}

	return etag, nil
}

func completePart(p types.CommittedPart) types.CompletePart {
	return types.CompletePart{
		PartNumber:  p.PartNumber,
		Checksum:    p.Checksum,
		Size:        p.Size,
		Fingerprint: p.Fingerprint,
	}
}

func sortParts(parts []types.CompletePart) {
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
}
