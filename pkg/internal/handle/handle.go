// Package handle 提供 HTTP 与 WebSocket 处理器，把请求翻译为服务调用，把服务错误翻译为状态码.
package handle

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	ctxPkg "github.com/yeisme/syncvault/pkg/context"
	"github.com/yeisme/syncvault/pkg/internal/fanout"
	"github.com/yeisme/syncvault/pkg/internal/service"
	"github.com/yeisme/syncvault/pkg/internal/types"
	"github.com/yeisme/syncvault/pkg/log"
	"github.com/yeisme/syncvault/pkg/middleware"
)

// Uploads 上传会话编排，由 service.UploadService 实现.
type Uploads interface {
	Begin(ctx context.Context, userID string, req types.BeginUploadRequest) (*types.BeginUploadResponse, error)
	RequestPartUploadCapability(
		ctx context.Context, userID, sessionID string, req types.PartCapabilityRequest,
	) (*types.PartCapabilityResponse, error)
	CommitPart(ctx context.Context, userID, sessionID string, req types.CommitPartRequest) (*types.CommitPartResponse, error)
	QueryResumeState(ctx context.Context, userID, sessionID string) (*types.ResumeState, error)
	Complete(ctx context.Context, userID, sessionID string, req types.CompleteUploadRequest) (*types.CompleteUploadResponse, error)
	Abort(ctx context.Context, userID, sessionID string) (*types.AbortUploadResponse, error)
}

// Files 文件元数据操作，由 service.FileService 实现.
type Files interface {
	List(ctx context.Context, userID string, q types.FileListQuery) (*types.FileListResponse, error)
	Get(ctx context.Context, userID, id string) (*types.FileView, error)
	DownloadURL(ctx context.Context, userID, id string) (*types.DownloadResponse, error)
	Rename(ctx context.Context, userID, id string, req types.RenameFileRequest) (*types.FileView, error)
	SoftDelete(ctx context.Context, userID, id string) (*types.FileView, error)
	Restore(ctx context.Context, userID, id string) (*types.FileView, error)
	Share(ctx context.Context, userID, id string, req types.ShareFileRequest) (*types.FileView, error)
	Unshare(ctx context.Context, userID, id, target string) (*types.FileView, error)
	Purge(ctx context.Context, userID, id string) error
	Usage(ctx context.Context, userID string) (*types.UsageResponse, error)
}

// Handlers 聚合业务处理器的依赖.
type Handlers struct {
	uploads  Uploads
	files    Files
	registry *fanout.Registry
	ws       fanout.WSOptions
	upgrader websocket.Upgrader
	base     context.Context
}

// New 创建处理器集合.
func New(uploads Uploads, files Files, registry *fanout.Registry, ws fanout.WSOptions) *Handlers {
	return &Handlers{
		uploads:  uploads,
		files:    files,
		registry: registry,
		ws:       ws,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 跨域由 CORS 中间件与身份校验控制
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// statusOf 服务错误类别到 HTTP 状态码.
var statusOf = map[string]int{
	"QuotaExceeded":   http.StatusForbidden,
	"NotFound":        http.StatusNotFound,
	"InvalidState":    http.StatusConflict,
	"InvalidParts":    http.StatusBadRequest,
	"InvalidArgument": http.StatusBadRequest,
	"UpstreamFailure": http.StatusInternalServerError,
}

// writeError 写出统一的错误响应 {"error","code"}.
func writeError(c *gin.Context, err error) {
	code := service.Code(err)

	status, ok := statusOf[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	l := ctxPkg.WithTraceContext(c.Request.Context(), log.Component("api"))
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	} else {
		l.Debug().Err(err).Str("path", c.FullPath()).Str("code", code).Msg("request rejected")
	}

	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

// bind 解析 JSON 请求体，失败时直接写出 400.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		l := log.Logger()
		l.Warn().Err(err).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "InvalidArgument"})

		return false
	}

	return true
}

// currentUser 取认证中间件写入的用户，缺失时写出 401.
func currentUser(c *gin.Context) (string, bool) {
	user := middleware.GetUserID(c)
	if user == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}

	return user, true
}
