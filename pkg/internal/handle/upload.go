package handle

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/internal/service"
	"github.com/yeisme/syncvault/pkg/internal/types"
)

// BeginUpload 开始分片上传会话.
func (h *Handlers) BeginUpload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req types.BeginUploadRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.uploads.Begin(c.Request.Context(), user, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// RequestPartCapability 签发单个分片的预签名 PUT URL.
func (h *Handlers) RequestPartCapability(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req types.PartCapabilityRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.uploads.RequestPartUploadCapability(c.Request.Context(), user, c.Param("sessionId"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CommitPart 登记分片回执，分片号以路径为准.
func (h *Handlers) CommitPart(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	n, err := strconv.Atoi(c.Param("partNumber"))
	if err != nil || n < 1 {
		writeError(c, fmt.Errorf("%w: bad part number %q", service.ErrInvalidArgument, c.Param("partNumber")))
		return
	}

	var req types.CommitPartRequest
	if !bind(c, &req) {
		return
	}

	if req.PartNumber != 0 && req.PartNumber != n {
		writeError(c, fmt.Errorf("%w: part number mismatch", service.ErrInvalidArgument))
		return
	}

	req.PartNumber = n

	resp, err := h.uploads.CommitPart(c.Request.Context(), user, c.Param("sessionId"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ResumeState 返回会话状态与已登记分片.
func (h *Handlers) ResumeState(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.uploads.QueryResumeState(c.Request.Context(), user, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CompleteUpload 合并分片并生成文件记录.
func (h *Handlers) CompleteUpload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req types.CompleteUploadRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.uploads.Complete(c.Request.Context(), user, c.Param("sessionId"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AbortUpload 中止未完成的会话.
func (h *Handlers) AbortUpload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.uploads.Abort(c.Request.Context(), user, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
