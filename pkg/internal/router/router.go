// Package router 管理路由配置，把 handle 中的处理器绑定到 gin 路由组.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/internal/handle"
)

// RegisterUploadRoutes 注册分片上传路由.
//
//	POST   /uploads                              -> Begin
//	GET    /uploads/:sessionId                   -> QueryResumeState
//	DELETE /uploads/:sessionId                   -> Abort
//	POST   /uploads/:sessionId/parts             -> RequestPartUploadCapability
//	PUT    /uploads/:sessionId/parts/:partNumber -> CommitPart
//	POST   /uploads/:sessionId/complete          -> Complete
func RegisterUploadRoutes(g *gin.RouterGroup, h *handle.Handlers) {
	uploads := g.Group("/uploads")
	{
		uploads.POST("", h.BeginUpload)

		session := uploads.Group("/:sessionId")
		{
			session.GET("", h.ResumeState)
			session.DELETE("", h.AbortUpload)
			session.POST("/parts", h.RequestPartCapability)
			session.PUT("/parts/:partNumber", h.CommitPart)
			session.POST("/complete", h.CompleteUpload)
		}
	}
}

// RegisterFilesRoutes 注册文件与用量路由.
func RegisterFilesRoutes(g *gin.RouterGroup, h *handle.Handlers) {
	files := g.Group("/files")
	{
		files.GET("", h.ListFiles)

		single := files.Group("/:id")
		{
			single.GET("", h.GetFile)
			single.PATCH("", h.RenameFile)
			single.DELETE("", h.DeleteFile)
			single.GET("/download", h.DownloadFile)
			single.POST("/restore", h.RestoreFile)
			single.DELETE("/purge", h.PurgeFile)
			single.POST("/shares", h.ShareFile)
			single.DELETE("/shares/:user", h.UnshareFile)
		}
	}

	g.GET("/usage", h.Usage)
}

// RegisterSyncRoutes 注册实时变更推送路由.
func RegisterSyncRoutes(g *gin.RouterGroup, h *handle.Handlers) {
	g.GET("/sync/ws", h.SyncWS)
}
