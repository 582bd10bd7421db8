package handle_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/api"
	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/fanout"
	"github.com/yeisme/syncvault/pkg/internal/handle"
	"github.com/yeisme/syncvault/pkg/internal/identity"
	"github.com/yeisme/syncvault/pkg/internal/service"
	"github.com/yeisme/syncvault/pkg/internal/types"
	"github.com/yeisme/syncvault/pkg/scheduler"
)

// fakeUploads 返回预设错误，并记录最后一次调用的参数.
type fakeUploads struct {
	err       error
	user      string
	sessionID string
	commit    types.CommitPartRequest
}

func (f *fakeUploads) Begin(_ context.Context, user string, req types.BeginUploadRequest) (*types.BeginUploadResponse, error) {
	f.user = user
	if f.err != nil {
		return nil, f.err
	}

	return &types.BeginUploadResponse{SessionID: "s1", UploadHandle: "h1", ChunkSize: 5, PartCount: int((req.Size + 4) / 5)}, nil
}

func (f *fakeUploads) RequestPartUploadCapability(
	_ context.Context, user, sessionID string, req types.PartCapabilityRequest,
) (*types.PartCapabilityResponse, error) {
	f.user, f.sessionID = user, sessionID
	if f.err != nil {
		return nil, f.err
	}

	return &types.PartCapabilityResponse{CapabilityURL: "http://s3/x", Method: http.MethodPut, PartNumber: req.PartNumber}, nil
}

func (f *fakeUploads) CommitPart(
	_ context.Context, user, sessionID string, req types.CommitPartRequest,
) (*types.CommitPartResponse, error) {
	f.user, f.sessionID, f.commit = user, sessionID, req
	if f.err != nil {
		return nil, f.err
	}

	return &types.CommitPartResponse{CommittedPart: types.CommittedPart{PartNumber: req.PartNumber}}, nil
}

func (f *fakeUploads) QueryResumeState(_ context.Context, user, sessionID string) (*types.ResumeState, error) {
	f.user, f.sessionID = user, sessionID
	if f.err != nil {
		return nil, f.err
	}

	return &types.ResumeState{SessionID: sessionID, Status: "uploading"}, nil
}

func (f *fakeUploads) Complete(
	_ context.Context, user, sessionID string, _ types.CompleteUploadRequest,
) (*types.CompleteUploadResponse, error) {
	f.user, f.sessionID = user, sessionID
	if f.err != nil {
		return nil, f.err
	}

	return &types.CompleteUploadResponse{FileID: sessionID}, nil
}

func (f *fakeUploads) Abort(_ context.Context, user, sessionID string) (*types.AbortUploadResponse, error) {
	f.user, f.sessionID = user, sessionID
	if f.err != nil {
		return nil, f.err
	}

	return &types.AbortUploadResponse{Status: "failed"}, nil
}

// fakeFiles 只记录调用.
type fakeFiles struct {
	err    error
	calls  []string
	target string
}

func (f *fakeFiles) view(op, id string) (*types.FileView, error) {
	f.calls = append(f.calls, op)
	if f.err != nil {
		return nil, f.err
	}

	return &types.FileView{ID: id}, nil
}

func (f *fakeFiles) List(context.Context, string, types.FileListQuery) (*types.FileListResponse, error) {
	f.calls = append(f.calls, "list")
	return &types.FileListResponse{Files: []types.FileView{}}, f.err
}

func (f *fakeFiles) Get(_ context.Context, _, id string) (*types.FileView, error) {
	return f.view("get", id)
}

func (f *fakeFiles) DownloadURL(_ context.Context, _, id string) (*types.DownloadResponse, error) {
	f.calls = append(f.calls, "download")
	return &types.DownloadResponse{URL: "http://s3/" + id}, f.err
}

func (f *fakeFiles) Rename(_ context.Context, _, id string, _ types.RenameFileRequest) (*types.FileView, error) {
	return f.view("rename", id)
}

func (f *fakeFiles) SoftDelete(_ context.Context, _, id string) (*types.FileView, error) {
	return f.view("delete", id)
}

func (f *fakeFiles) Restore(_ context.Context, _, id string) (*types.FileView, error) {
	return f.view("restore", id)
}

func (f *fakeFiles) Share(_ context.Context, _, id string, req types.ShareFileRequest) (*types.FileView, error) {
	f.target = req.UserID
	return f.view("share", id)
}

func (f *fakeFiles) Unshare(_ context.Context, _, id, target string) (*types.FileView, error) {
	f.target = target
	return f.view("unshare", id)
}

func (f *fakeFiles) Purge(context.Context, string, string) error {
	f.calls = append(f.calls, "purge")
	return f.err
}

func (f *fakeFiles) Usage(_ context.Context, user string) (*types.UsageResponse, error) {
	f.calls = append(f.calls, "usage")
	return &types.UsageResponse{UserID: user}, f.err
}

type harness struct {
	engine   *gin.Engine
	uploads  *fakeUploads
	files    *fakeFiles
	registry *fanout.Registry
}

func newHarness(t *testing.T, sched *scheduler.Scheduler) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := configs.Defaults()
	cfg.Auth.Enabled = true
	cfg.Auth.Mode = configs.AuthModeHeader

	h := &harness{
		engine:   gin.New(),
		uploads:  &fakeUploads{},
		files:    &fakeFiles{},
		registry: fanout.NewRegistry(),
	}

	handlers := handle.New(h.uploads, h.files, h.registry, fanout.WSOptions{SendBuffer: 4, PingInterval: time.Second})
	api.RegisterGroup(h.engine, api.Deps{
		Config:    &cfg,
		Resolver:  identity.HeaderResolver{},
		Handlers:  handlers,
		Scheduler: sched,
	})

	return h
}

func (h *harness) do(method, path, body, user string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}

	if user != "" {
		r.Header.Set("X-User-ID", user)
	}

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, r)

	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out))

	return out
}

// TestUploadRoutes 测试上传路由的身份、参数传递与状态码.
func TestUploadRoutes(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/api/v1/uploads", `{"filename":"a.txt","size":12}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode(t, w)["error"])

	w = h.do(http.MethodPost, "/api/v1/uploads", `{"filename":"a.txt","size":12}`, "alice")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s1", decode(t, w)["sessionId"])
	assert.Equal(t, "alice", h.uploads.user)

	w = h.do(http.MethodPost, "/api/v1/uploads", `{`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidArgument", decode(t, w)["code"])

	w = h.do(http.MethodPost, "/api/v1/uploads/s1/parts", `{"partNumber":2,"uploadHandle":"h1"}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", h.uploads.sessionID)

	body := `{"checksum":"etag","size":5,"fingerprint":"` + strings.Repeat("a", 64) + `"}`
	w = h.do(http.MethodPut, "/api/v1/uploads/s1/parts/3", body, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, h.uploads.commit.PartNumber)

	w = h.do(http.MethodPut, "/api/v1/uploads/s1/parts/x", body, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPut, "/api/v1/uploads/s1/parts/3", `{"partNumber":4,"checksum":"etag","size":5}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/api/v1/uploads/s1", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "uploading", decode(t, w)["status"])

	w = h.do(http.MethodPost, "/api/v1/uploads/s1/complete", `{"uploadHandle":"h1","parts":[]}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", decode(t, w)["fileId"])

	w = h.do(http.MethodDelete, "/api/v1/uploads/s1", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", decode(t, w)["status"])
}

// TestErrorMapping 测试服务错误类别到状态码与响应体的映射.
func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: over by 3", service.ErrQuotaExceeded), http.StatusForbidden, "QuotaExceeded"},
		{fmt.Errorf("%w: session s1", service.ErrNotFound), http.StatusNotFound, "NotFound"},
		{fmt.Errorf("%w: session is failed", service.ErrInvalidState), http.StatusConflict, "InvalidState"},
		{fmt.Errorf("%w: gap at 2", service.ErrInvalidParts), http.StatusBadRequest, "InvalidParts"},
		{fmt.Errorf("%w: bad size", service.ErrInvalidArgument), http.StatusBadRequest, "InvalidArgument"},
		{fmt.Errorf("%w: s3 down", service.ErrUpstream), http.StatusInternalServerError, "UpstreamFailure"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "UpstreamFailure"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := newHarness(t, nil)
			h.uploads.err = tc.err

			w := h.do(http.MethodPost, "/api/v1/uploads", `{"filename":"a.txt","size":12}`, "alice")
			require.Equal(t, tc.status, w.Code)

			out := decode(t, w)
			assert.Equal(t, tc.code, out["code"])
			assert.Equal(t, tc.err.Error(), out["error"])
		})
	}
}

// TestFileRoutes 测试文件路由绑定.
func TestFileRoutes(t *testing.T) {
	h := newHarness(t, nil)

	steps := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/api/v1/files?limit=10", "", http.StatusOK},
		{http.MethodGet, "/api/v1/files/f1", "", http.StatusOK},
		{http.MethodGet, "/api/v1/files/f1/download", "", http.StatusOK},
		{http.MethodPatch, "/api/v1/files/f1", `{"filename":"b.txt"}`, http.StatusOK},
		{http.MethodDelete, "/api/v1/files/f1", "", http.StatusOK},
		{http.MethodPost, "/api/v1/files/f1/restore", "", http.StatusOK},
		{http.MethodPost, "/api/v1/files/f1/shares", `{"userId":"bob"}`, http.StatusOK},
		{http.MethodDelete, "/api/v1/files/f1/shares/carol", "", http.StatusOK},
		{http.MethodDelete, "/api/v1/files/f1/purge", "", http.StatusNoContent},
		{http.MethodGet, "/api/v1/usage", "", http.StatusOK},
	}

	for _, s := range steps {
		w := h.do(s.method, s.path, s.body, "alice")
		assert.Equal(t, s.status, w.Code, "%s %s", s.method, s.path)
	}

	assert.Equal(t, []string{
		"list", "get", "download", "rename", "delete", "restore", "share", "unshare", "purge", "usage",
	}, h.files.calls)
	assert.Equal(t, "carol", h.files.target)

	h.files.err = fmt.Errorf("%w: f9", service.ErrNotFound)
	w := h.do(http.MethodGet, "/api/v1/files/f9", "", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestSyncWS 测试握手前的身份校验与连接登记.
func TestSyncWS(t *testing.T) {
	h := newHarness(t, nil)

	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sync/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{"alice"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.registry.ConnectionsFor("alice")) == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := fanout.ChangeEvent{Type: "insert", File: fanout.FileState{ID: "f1"}}
	for _, c := range h.registry.ConnectionsFor("alice") {
		require.NoError(t, c.Send(ev))
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got fanout.ChangeEvent
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, ev, got)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return len(h.registry.ConnectionsFor("alice")) == 0 }, 3*time.Second, 10*time.Millisecond)
}

// TestSchedulerAdmin 测试管理路由需要 admin 角色.
func TestSchedulerAdmin(t *testing.T) {
	sched, err := scheduler.NewScheduler()
	require.NoError(t, err)

	defer func() { _ = sched.Stop() }()

	require.NoError(t, sched.AddInterval("noop", time.Hour, func(context.Context) error { return nil }))
	sched.Start()

	h := newHarness(t, sched)

	w := h.do(http.MethodGet, "/api/v1/admin/scheduler/jobs", "", "alice")
	assert.Equal(t, http.StatusForbidden, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/scheduler/jobs", nil)
	r.Header.Set("X-User-ID", "root")
	r.Header.Set("X-Role", "admin")

	w = httptest.NewRecorder()
	h.engine.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"noop"`)

	r = httptest.NewRequest(http.MethodDelete, "/api/v1/admin/scheduler/jobs/missing", nil)
	r.Header.Set("X-User-ID", "root")
	r.Header.Set("X-Role", "admin")

	w = httptest.NewRecorder()
	h.engine.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
