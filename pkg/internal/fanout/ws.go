package fanout

import (
	"context"
	crand "crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid"
	"github.com/rs/zerolog"

	nlog "github.com/yeisme/syncvault/pkg/log"
)

var (
	// ErrClosed 连接已关闭.
	ErrClosed = errors.New("fanout: connection closed")
	// ErrSlowConsumer 发送队列已满.
	ErrSlowConsumer = errors.New("fanout: send buffer full")
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	maxInboundMessage   = 4096
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(crand.Reader, 0)
)

// NewHandleID 生成按时间排序的连接 ID.
func NewHandleID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// WSOptions WebSocket 连接参数.
type WSOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// WSConn 基于 gorilla/websocket 的连接.
//
// Send 只把消息放入缓冲队列，由写协程负责写出与心跳；读循环只用于发现断线，客户端发来的数据被丢弃.
type WSConn struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	opts   WSOptions
	logger zerolog.Logger
}

// NewWSConn 包装一个已完成升级的连接.
func NewWSConn(conn *websocket.Conn, opts WSOptions) *WSConn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}

	id := NewHandleID()

	return &WSConn{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
		logger: nlog.Component("ws").With().Str("conn", id).Logger(),
	}
}

// ID 连接 ID.
func (c *WSConn) ID() string { return c.id }

// Send 将事件放入发送队列，不阻塞.
func (c *WSConn) Send(ev ChangeEvent) error {
	b, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

// Serve 运行读写循环，直到连接断开或 ctx 取消.
func (c *WSConn) Serve(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()

	c.readLoop()
	c.Close()
	wg.Wait()
}

// Close 关闭连接，可重复调用.
func (c *WSConn) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *WSConn) readLoop() {
	pongWait := c.opts.PingInterval * 2

	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("connection closed unexpectedly")
			}

			return
		}
	}
}

func (c *WSConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.done:
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))

			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.Close()

				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *WSConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
}
