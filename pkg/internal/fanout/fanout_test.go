package fanout_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/internal/fanout"
	"github.com/yeisme/syncvault/pkg/internal/feed"
	"github.com/yeisme/syncvault/pkg/queue"
)

// fakeHandle 记录收到的事件.
type fakeHandle struct {
	id  string
	err error

	mu     sync.Mutex
	events []fanout.ChangeEvent
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(ev fanout.ChangeEvent) error {
	if h.err != nil {
		return h.err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, ev)

	return nil
}

func (h *fakeHandle) received() []fanout.ChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]fanout.ChangeEvent(nil), h.events...)
}

// scriptedFeed 第一次订阅失败，之后每次订阅返回一个新通道.
type scriptedFeed struct {
	mu    sync.Mutex
	calls int
	chans chan chan feed.Mutation
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{chans: make(chan chan feed.Mutation, 4)}
}

func (f *scriptedFeed) Subscribe(context.Context) (<-chan feed.Mutation, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if n == 1 {
		return nil, errors.New("broker unavailable")
	}

	ch := make(chan feed.Mutation)
	f.chans <- ch

	return ch, nil
}

func (f *scriptedFeed) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func insertOf(owner, id string) feed.Mutation {
	now := time.Now()

	return feed.Mutation{
		ChangeID: 1,
		Op:       "insert",
		FileID:   id,
		OwnerID:  owner,
		Document: &queue.FileDoc{
			ID:         id,
			UserID:     owner,
			Filename:   "a.txt",
			Size:       3,
			MimeType:   "text/plain",
			StorageKey: "uploads/" + owner + "/" + id,
			Status:     "completed",
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}

// TestRegistry 测试登记、转移与注销.
func TestRegistry(t *testing.T) {
	r := fanout.NewRegistry()
	a, b := &fakeHandle{id: "a"}, &fakeHandle{id: "b"}

	r.Register("alice", a)
	r.Register("alice", b)
	r.Register("alice", a)

	users, conns := r.Stats()
	assert.Equal(t, 1, users)
	assert.Equal(t, 2, conns)
	assert.Len(t, r.ConnectionsFor("alice"), 2)

	r.Register("bob", b)
	assert.Len(t, r.ConnectionsFor("alice"), 1)
	assert.Len(t, r.ConnectionsFor("bob"), 1)

	r.Unregister("alice", b)
	assert.Len(t, r.ConnectionsFor("bob"), 1, "handle belongs to bob now")

	r.Unregister("alice", a)
	r.Unregister("alice", a)

	users, conns = r.Stats()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, conns)
	assert.Empty(t, r.ConnectionsFor("alice"))
}

// TestRegistryConcurrent 测试并发登记、注销与查询：常驻连接始终可见，短连接全部注销后不残留.
func TestRegistryConcurrent(t *testing.T) {
	const users, perUser = 8, 32

	r := fanout.NewRegistry()
	resident := make([]*fakeHandle, users)

	for u := range users {
		resident[u] = &fakeHandle{id: fmt.Sprintf("resident-%d", u)}
		r.Register(fmt.Sprintf("user-%d", u), resident[u])
	}

	var (
		wg      sync.WaitGroup
		missing atomic.Int32
	)

	for u := range users {
		uid := fmt.Sprintf("user-%d", u)

		for i := range perUser {
			wg.Add(1)

			go func() {
				defer wg.Done()

				h := &fakeHandle{id: fmt.Sprintf("conn-%d-%d", u, i)}
				r.Register(uid, h)

				found := false
				for _, c := range r.ConnectionsFor(uid) {
					if c.ID() == resident[u].id {
						found = true
					}
				}

				if !found {
					missing.Add(1)
				}

				r.Unregister(uid, h)
				r.Unregister(uid, h)
			}()
		}
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		for range 200 {
			if n, _ := r.Stats(); n != users {
				missing.Add(1)
			}
		}
	}()

	wg.Wait()

	assert.Zero(t, missing.Load())

	gotUsers, gotConns := r.Stats()
	assert.Equal(t, users, gotUsers)
	assert.Equal(t, users, gotConns)

	for u := range users {
		conns := r.ConnectionsFor(fmt.Sprintf("user-%d", u))
		require.Len(t, conns, 1)
		assert.Equal(t, resident[u].id, conns[0].ID())

		r.Unregister(fmt.Sprintf("user-%d", u), resident[u])
	}

	gotUsers, gotConns = r.Stats()
	assert.Zero(t, gotUsers)
	assert.Zero(t, gotConns)
}

// TestSanitize 测试事件只暴露安全字段，delete 只带 id.
func TestSanitize(t *testing.T) {
	ev, owner, ok := fanout.Sanitize(insertOf("alice", "f1"))
	require.True(t, ok)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, "insert", ev.Type)
	assert.Equal(t, "completed", ev.File.UploadStatus)
	assert.Equal(t, ev.File.UploadStatus, ev.File.Status)
	require.NotNil(t, ev.File.IsDeleted)
	assert.False(t, *ev.File.IsDeleted)

	trashed := insertOf("alice", "f2")
	trashed.Op = "update"
	deletedAt := time.Now()
	trashed.Document.DeletedAt = &deletedAt

	tev, _, ok := fanout.Sanitize(trashed)
	require.True(t, ok)
	assert.Equal(t, "completed", tev.File.Status)
	assert.Equal(t, "completed", tev.File.UploadStatus)
	require.NotNil(t, tev.File.IsDeleted)
	assert.True(t, *tev.File.IsDeleted)

	b, err := sonic.Marshal(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "uploads/")
	assert.NotContains(t, string(b), "alice")

	ev, owner, ok = fanout.Sanitize(feed.Mutation{Op: "delete", FileID: "f1", OwnerID: "alice"})
	require.True(t, ok)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, fanout.FileState{ID: "f1"}, ev.File)

	_, _, ok = fanout.Sanitize(feed.Mutation{Op: "update", FileID: "f1", OwnerID: "alice"})
	assert.False(t, ok)
}

// TestDispatchIsolatesFailures 测试单个连接失败不影响其他连接.
func TestDispatchIsolatesFailures(t *testing.T) {
	r := fanout.NewRegistry()
	good1, good2 := &fakeHandle{id: "1"}, &fakeHandle{id: "2"}
	bad := &fakeHandle{id: "3", err: fanout.ErrSlowConsumer}
	other := &fakeHandle{id: "4"}

	r.Register("alice", good1)
	r.Register("alice", bad)
	r.Register("alice", good2)
	r.Register("bob", other)

	svc := fanout.NewService(newScriptedFeed(), r)

	assert.Equal(t, 2, svc.Dispatch(insertOf("alice", "f1")))
	assert.Len(t, good1.received(), 1)
	assert.Len(t, good2.received(), 1)
	assert.Empty(t, other.received())

	assert.Zero(t, svc.Dispatch(feed.Mutation{Op: "update"}))
}

// TestServiceResubscribes 测试订阅失败和断开后按间隔重订阅.
func TestServiceResubscribes(t *testing.T) {
	f := newScriptedFeed()
	r := fanout.NewRegistry()
	h := &fakeHandle{id: "1"}
	r.Register("alice", h)

	svc := fanout.NewService(f, r, fanout.WithBackoff(10*time.Millisecond))
	require.NoError(t, svc.Start(context.Background()))
	require.ErrorIs(t, svc.Start(context.Background()), fanout.ErrAlreadyStarted)

	defer svc.Stop()

	var first chan feed.Mutation
	select {
	case first = <-f.chans:
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription after failure")
	}

	first <- insertOf("alice", "f1")
	close(first)

	var second chan feed.Mutation
	select {
	case second = <-f.chans:
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscription after close")
	}

	second <- insertOf("alice", "f2")

	require.Eventually(t, func() bool { return len(h.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, f.subscriptions())

	svc.Stop()
	svc.Stop()
}

// TestWSConnDelivers 测试 WebSocket 连接收到推送并在客户端断开后退出.
func TestWSConnDelivers(t *testing.T) {
	registered := make(chan *fanout.WSConn, 1)
	finished := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ws := fanout.NewWSConn(conn, fanout.WSOptions{SendBuffer: 4, PingInterval: time.Second})
		registered <- ws
		ws.Serve(context.Background())
		close(finished)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	ws := <-registered
	assert.NotEmpty(t, ws.ID())

	ev, _, _ := fanout.Sanitize(insertOf("alice", "f1"))
	require.NoError(t, ws.Send(ev))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var got fanout.ChangeEvent
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, "insert", got.Type)
	assert.Equal(t, "f1", got.File.ID)

	require.NoError(t, client.Close())

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("server side did not notice disconnect")
	}

	assert.ErrorIs(t, ws.Send(ev), fanout.ErrClosed)
}
