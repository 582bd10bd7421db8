package handle

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/internal/fanout"
	"github.com/yeisme/syncvault/pkg/log"
)

// BindContext 设置服务级 context，取消时所有 WebSocket 连接以 going away 关闭.
func (h *Handlers) BindContext(ctx context.Context) {
	h.base = ctx
}

// SyncWS 升级为 WebSocket 并登记到连接表，连接断开后注销.
// 身份在升级前由认证中间件校验.
func (h *Handlers) SyncWS(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写出错误响应
		l := log.Logger()
		l.Debug().Err(err).Str("user", user).Msg("websocket upgrade failed")

		return
	}

	ws := fanout.NewWSConn(conn, h.ws)

	h.registry.Register(user, ws)
	defer h.registry.Unregister(user, ws)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if h.base != nil {
		stop := context.AfterFunc(h.base, cancel)
		defer stop()
	}

	l := log.Logger()
	l.Debug().Str("user", user).Str("conn", ws.ID()).Msg("sync connection opened")

	ws.Serve(ctx)

	l.Debug().Str("user", user).Str("conn", ws.ID()).Msg("sync connection closed")
}
