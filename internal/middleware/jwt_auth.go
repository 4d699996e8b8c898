package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/auth/jwt"
)

// 上下文中的管理员信息键
const (
	ContextManagerID = "managerID"
	ContextEmail     = "email"
)

// JWTAuth JWT认证中间件
type JWTAuth struct {
	tokens *jwt.Manager
	log    *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(tokens *jwt.Manager, log *zap.Logger) *JWTAuth {
	return &JWTAuth{
		tokens: tokens,
		log:    log,
	}
}

// RequireAuth 要求有效的访问令牌
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortJSON(c, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := ja.tokens.ValidateToken(token, jwt.KindAccess)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			msg := "invalid token"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "token expired"
			}
			abortJSON(c, http.StatusUnauthorized, msg)
			return
		}

		c.Set(ContextManagerID, claims.ManagerID)
		c.Set(ContextEmail, claims.Email)
		c.Next()
	}
}

// Guard 根据配置决定是否要求认证
func (ja *JWTAuth) Guard(required bool) gin.HandlerFunc {
	if required {
		return ja.RequireAuth()
	}
	return func(c *gin.Context) { c.Next() }
}

// extractToken 从 Authorization 头或 access_token cookie 中提取令牌
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}
	return ""
}

// abortJSON 以统一的失败结构中止请求
func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}
