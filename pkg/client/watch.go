package client

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/yeisme/syncvault/pkg/internal/fanout"
)

// Watch 订阅当前用户的文件变更，直到 ctx 取消或连接断开.
// ctx 取消时返回 nil.
func (c *Client) Watch(ctx context.Context, fn func(fanout.ChangeEvent)) error {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	u.Path += apiPrefix + "/sync/ws"

	h := http.Header{}
	c.authorize(h)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), h)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}

		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}

			return err
		}

		var ev fanout.ChangeEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("drop malformed change event")
			continue
		}

		if ev.Type == "" {
			continue
		}

		fn(ev)
	}
}
