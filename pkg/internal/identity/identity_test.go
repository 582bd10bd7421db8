package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/identity"
)

// TestHeaderResolver 测试请求头与开发模式查询参数.
func TestHeaderResolver(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/files?user=dev", nil)

	_, err := identity.HeaderResolver{}.Resolve(r)
	require.ErrorIs(t, err, identity.ErrUnauthenticated)

	id, err := identity.HeaderResolver{AllowQuery: true}.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, "dev", id.UserID)

	r.Header.Set("X-Forwarded-Email", "alice@example.com")
	r.Header.Set("X-Role", "admin")

	id, err = identity.HeaderResolver{}.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id.UserID)
	assert.Equal(t, "admin", id.Role)
}

// TestJWTResolver 测试令牌签发、校验与过期.
func TestJWTResolver(t *testing.T) {
	j := identity.NewJWTResolver("secret", "syncvault")

	token, err := j.Issue("alice", "member", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	id, err := j.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, identity.Identity{UserID: "alice", Role: "member"}, id)

	ws := httptest.NewRequest(http.MethodGet, "/api/v1/sync/ws?access_token="+token, nil)
	id, err = j.Resolve(ws)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)

	_, err = identity.NewJWTResolver("other", "syncvault").Parse(token)
	require.ErrorIs(t, err, identity.ErrUnauthenticated)

	_, err = identity.NewJWTResolver("secret", "someone-else").Parse(token)
	require.ErrorIs(t, err, identity.ErrUnauthenticated)

	expired, err := j.Issue("alice", "", -time.Minute)
	require.NoError(t, err)

	_, err = j.Parse(expired)
	require.ErrorIs(t, err, identity.ErrUnauthenticated)

	_, err = j.Issue("", "", time.Hour)
	require.Error(t, err)
}

// TestFromConfig 测试按模式构造解析器，both 模式先试令牌再回退到请求头.
func TestFromConfig(t *testing.T) {
	_, err := identity.FromConfig(configs.AuthConfig{Mode: configs.AuthModeJWT})
	require.Error(t, err)

	_, err = identity.FromConfig(configs.AuthConfig{Mode: "ldap"})
	require.Error(t, err)

	res, err := identity.FromConfig(configs.AuthConfig{Mode: configs.AuthModeBoth, JWTSecret: "secret"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = res.Resolve(r)
	require.ErrorIs(t, err, identity.ErrUnauthenticated)

	r.Header.Set("X-User-ID", "bob")

	id, err := res.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", id.UserID)
}
