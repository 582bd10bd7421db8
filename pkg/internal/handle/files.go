package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/internal/types"
	"github.com/yeisme/syncvault/pkg/log"
)

// ListFiles 列出可见文件.
func (h *Handlers) ListFiles(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var q types.FileListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		l := log.Logger()
		l.Warn().Err(err).Msg("invalid query")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "InvalidArgument"})

		return
	}

	resp, err := h.files.List(c.Request.Context(), user, q)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetFile 返回单个文件.
func (h *Handlers) GetFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.files.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DownloadFile 返回预签名下载地址.
func (h *Handlers) DownloadFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.files.DownloadURL(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RenameFile 修改文件名或路径.
func (h *Handlers) RenameFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req types.RenameFileRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.files.Rename(c.Request.Context(), user, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteFile 移入回收站.
func (h *Handlers) DeleteFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.files.SoftDelete(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RestoreFile 从回收站恢复.
func (h *Handlers) RestoreFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.files.Restore(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// PurgeFile 永久删除文件与对象.
func (h *Handlers) PurgeFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.files.Purge(c.Request.Context(), user, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ShareFile 共享给其他用户.
func (h *Handlers) ShareFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req types.ShareFileRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.files.Share(c.Request.Context(), user, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UnshareFile 取消共享.
func (h *Handlers) UnshareFile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.files.Unshare(c.Request.Context(), user, c.Param("id"), c.Param("user"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Usage 返回存储用量.
func (h *Handlers) Usage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.files.Usage(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
