package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"Steward/backend/go/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

// principalKey 是 gin 上下文中保存调用者身份的键。
const principalKey = "principal"

// apiKeyHeader 是机器客户端携带 API Key 的请求头。
const apiKeyHeader = "X-API-Key"

var errUnauthenticated = errors.New("api: unauthenticated")

// Authenticator 校验审核者的 JWT 和机器客户端的 API Key。
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	keys   []config.APIKeyConfig
	now    func() time.Time
}

// NewAuthenticator 按配置创建 Authenticator。TokenTTL 为 0 时签发的 token 有效期为 12 小时。
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	ttl := time.Duration(cfg.TokenTTL) * time.Second
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{secret: []byte(cfg.JwtSecret), ttl: ttl, keys: cfg.APIKeys, now: time.Now}
}

// IssueToken 为 subject 签发 HS256 token。
func (a *Authenticator) IssueToken(subject string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("未配置 jwtSecret")
	}
	now := a.now()
	claims := jwt.StandardClaims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(a.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// HashAPIKey 生成可以写入配置文件的 bcrypt 哈希。
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成 API Key 哈希失败: %w", err)
	}
	return string(hash), nil
}

// Authenticate 返回请求的调用者身份。
// 优先使用 Authorization: Bearer <jwt>，其次是 X-API-Key。WebSocket 客户端也可以用 access_token 查询参数传 JWT。
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if token := bearer(r); token != "" {
		return a.parseToken(token)
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return a.matchKey(key)
	}
	return "", errUnauthenticated
}

func bearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return r.URL.Query().Get("access_token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (a *Authenticator) parseToken(raw string) (string, error) {
	if len(a.secret) == 0 {
		return "", errUnauthenticated
	}
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("非预期的签名方法")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: 无效的 token", errUnauthenticated)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token 缺少 sub", errUnauthenticated)
	}
	return claims.Subject, nil
}

func (a *Authenticator) matchKey(key string) (string, error) {
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			return "key:" + k.Name, nil
		}
	}
	return "", fmt.Errorf("%w: 无效的 API Key", errUnauthenticated)
}

// Middleware 拒绝未认证的请求，并把身份写入上下文。
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// Principal 返回中间件写入的调用者身份。
func Principal(c *gin.Context) string {
	return c.GetString(principalKey)
}
