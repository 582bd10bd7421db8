// Package identity 将 HTTP 请求（包括 WebSocket 握手）解析为用户身份.
//
// 支持两种来源：网关注入的用户请求头，以及 HS256 签名的 Bearer 令牌.
// 浏览器无法在 WebSocket 握手中设置请求头，因此令牌也可以放在 access_token 查询参数中.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yeisme/syncvault/pkg/configs"
)

// ErrUnauthenticated 请求不携带可用的身份.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Identity 已解析的调用方.
type Identity struct {
	UserID string
	Role   string
}

// Resolver 从请求解析身份，失败时返回的错误满足 errors.Is(err, ErrUnauthenticated).
type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderResolver 信任反向代理注入的用户请求头.
type HeaderResolver struct {
	// AllowQuery 允许用 ?user= 指定用户，仅用于本地开发.
	AllowQuery bool
}

var userHeaders = []string{"X-Auth-Request-Email", "X-Forwarded-Email", "X-User-ID"}

// Resolve 实现 Resolver.
func (h HeaderResolver) Resolve(r *http.Request) (Identity, error) {
	role := strings.TrimSpace(r.Header.Get("X-Role"))

	for _, name := range userHeaders {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return Identity{UserID: v, Role: role}, nil
		}
	}

	if h.AllowQuery {
		if v := strings.TrimSpace(r.URL.Query().Get("user")); v != "" {
			return Identity{UserID: v, Role: role}, nil
		}
	}

	return Identity{}, fmt.Errorf("%w: no user header", ErrUnauthenticated)
}

// Claims 令牌声明，Subject 为用户 ID.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTResolver 校验 HS256 令牌.
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver 创建令牌解析器，issuer 为空时不校验签发方.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Resolve 实现 Resolver.
func (j *JWTResolver) Resolve(r *http.Request) (Identity, error) {
	raw := bearer(r)
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: no bearer token", ErrUnauthenticated)
	}

	return j.Parse(raw)
}

// Parse 校验令牌并返回身份.
func (j *JWTResolver) Parse(raw string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// Issue 签发令牌.
func (j *JWTResolver) Issue(userID, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("identity: empty user id")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	})

	return token.SignedString(j.secret)
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}

	return r.URL.Query().Get("access_token")
}

// Chain 依次尝试多个解析器，返回第一个成功的结果.
type Chain []Resolver

// Resolve 实现 Resolver.
func (c Chain) Resolve(r *http.Request) (Identity, error) {
	errs := make([]error, 0, len(c))

	for _, res := range c {
		id, err := res.Resolve(r)
		if err == nil {
			return id, nil
		}

		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return Identity{}, ErrUnauthenticated
	}

	return Identity{}, errors.Join(errs...)
}

// FromConfig 按 auth.mode 构造解析器.
func FromConfig(cfg configs.AuthConfig) (Resolver, error) {
	header := HeaderResolver{AllowQuery: cfg.DevAllowQuery}

	switch cfg.Mode {
	case configs.AuthModeHeader, "":
		return header, nil
	case configs.AuthModeJWT:
		if cfg.JWTSecret == "" {
			return nil, errors.New("identity: auth.jwt_secret is required in jwt mode")
		}

		return NewJWTResolver(cfg.JWTSecret, cfg.Issuer), nil
	case configs.AuthModeBoth:
		if cfg.JWTSecret == "" {
			return nil, errors.New("identity: auth.jwt_secret is required in both mode")
		}

		return Chain{NewJWTResolver(cfg.JWTSecret, cfg.Issuer), header}, nil
	default:
		return nil, fmt.Errorf("identity: unknown auth mode %q", cfg.Mode)
	}
}
