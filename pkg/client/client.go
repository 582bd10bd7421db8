// Package client 是 syncvault HTTP API 的 Go 客户端.
//
// 上传时分片字节直接 PUT 到服务端签发的预签名地址，服务端只登记回执：
//
//	c, err := client.New("http://localhost:8080", client.WithUser("alice@example.com"))
//	if err != nil {
//		return err
//	}
//
//	rec, err := c.UploadFile(ctx, "report.pdf", "/docs")
//
// 上传中途失败时返回 *UploadError，其中的 SessionID 可交给 Resume 继续.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/yeisme/syncvault/pkg/internal/types"
	nlog "github.com/yeisme/syncvault/pkg/log"
)

const (
	// DefaultConcurrency 同时上传的分片数.
	DefaultConcurrency = 5
	apiPrefix          = "/api/v1"
	defaultHTTPTimeout = 5 * time.Minute
)

// APIError 服务端返回的错误.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("syncvault: %d %s", e.Status, e.Message)
	}

	return fmt.Sprintf("syncvault: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode 判断 err 是否为指定类别的服务端错误.
func IsCode(err error, code string) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client API 客户端，可并发使用.
type Client struct {
	base        *url.URL
	http        *http.Client
	user        string
	token       string
	concurrency int
	logger      zerolog.Logger
}

// Option 配置 Client.
type Option func(*Client)

// WithHTTPClient 指定 HTTP 客户端，同时用于 API 与对象存储请求.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithUser 以网关请求头声明用户，适用于 header 认证模式.
func WithUser(user string) Option { return func(c *Client) { c.user = user } }

// WithToken 使用 Bearer 令牌认证.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithConcurrency 同时上传的分片数，小于 1 时使用默认值.
func WithConcurrency(n int) Option { return func(c *Client) { c.concurrency = n } }

// New 创建客户端，baseURL 形如 http://host:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		base:        u,
		http:        &http.Client{Timeout: defaultHTTPTimeout},
		concurrency: DefaultConcurrency,
		logger:      nlog.Component("client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.concurrency < 1 {
		c.concurrency = DefaultConcurrency
	}

	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + apiPrefix + path
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}

	if c.user != "" {
		h.Set("X-User-ID", c.user)
	}
}

// do 发送 JSON 请求，out 为 nil 时忽略响应体.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		b, err := sonic.Marshal(in)
		if err != nil {
			return err
		}

		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if sonic.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}

		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	return sonic.Unmarshal(raw, out)
}

// call 发送请求并解码为 T.
func call[T any](ctx context.Context, c *Client, method, path string, in any) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, in, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Begin 开始上传会话.
func (c *Client) Begin(ctx context.Context, req types.BeginUploadRequest) (*types.BeginUploadResponse, error) {
	return call[types.BeginUploadResponse](ctx, c, http.MethodPost, "/uploads", req)
}

// PartCapability 申请分片上传凭证.
func (c *Client) PartCapability(
	ctx context.Context, sessionID string, req types.PartCapabilityRequest,
) (*types.PartCapabilityResponse, error) {
	return call[types.PartCapabilityResponse](ctx, c, http.MethodPost, "/uploads/"+url.PathEscape(sessionID)+"/parts", req)
}

// CommitPart 登记分片回执.
func (c *Client) CommitPart(ctx context.Context, sessionID string, req types.CommitPartRequest) (*types.CommitPartResponse, error) {
	path := fmt.Sprintf("/uploads/%s/parts/%d", url.PathEscape(sessionID), req.PartNumber)

	return call[types.CommitPartResponse](ctx, c, http.MethodPut, path, req)
}

// ResumeState 查询会话状态.
func (c *Client) ResumeState(ctx context.Context, sessionID string) (*types.ResumeState, error) {
	return call[types.ResumeState](ctx, c, http.MethodGet, "/uploads/"+url.PathEscape(sessionID), nil)
}

// Complete 完成上传.
func (c *Client) Complete(
	ctx context.Context, sessionID string, req types.CompleteUploadRequest,
) (*types.CompleteUploadResponse, error) {
	return call[types.CompleteUploadResponse](ctx, c, http.MethodPost, "/uploads/"+url.PathEscape(sessionID)+"/complete", req)
}

// Abort 中止上传.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/uploads/"+url.PathEscape(sessionID), nil, nil)
}

// ListFiles 列出可见文件.
func (c *Client) ListFiles(ctx context.Context, limit, offset int) (*types.FileListResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}

	path := "/files"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	return call[types.FileListResponse](ctx, c, http.MethodGet, path, nil)
}

// DownloadURL 获取预签名下载地址.
func (c *Client) DownloadURL(ctx context.Context, fileID string) (*types.DownloadResponse, error) {
	return call[types.DownloadResponse](ctx, c, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/download", nil)
}

// Usage 查询存储用量.
func (c *Client) Usage(ctx context.Context) (*types.UsageResponse, error) {
	return call[types.UsageResponse](ctx, c, http.MethodGet, "/usage", nil)
}
