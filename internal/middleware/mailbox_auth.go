package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/proxy/internal/auth"
)

// ContextMailboxID 通过认证后写入上下文的邮箱 ID 键。
const ContextMailboxID = "mailboxID"

// MailboxAuth 邮箱令牌认证中间件
type MailboxAuth struct {
	manager *auth.Manager
	log     *zap.Logger
}

// NewMailboxAuth 创建邮箱认证中间件
func NewMailboxAuth(manager *auth.Manager, log *zap.Logger) *MailboxAuth {
	return &MailboxAuth{
		manager: manager,
		log:     log,
	}
}

// RequireMailboxToken 要求请求携带绑定到路径邮箱的访问令牌。
func (ma *MailboxAuth) RequireMailboxToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		mailboxID := c.Param("id")
		if mailboxID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "mailbox ID required",
			})
			c.Abort()
			return
		}

		token := ma.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "mailbox token required",
			})
			c.Abort()
			return
		}

		if _, err := ma.manager.ValidateFor(token, mailboxID); err != nil {
			ma.log.Warn("mailbox token rejected",
				zap.String("mailbox_id", mailboxID),
				zap.String("ip", c.ClientIP()),
				zap.Error(err),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid mailbox token",
			})
			c.Abort()
			return
		}

		c.Set(ContextMailboxID, mailboxID)
		c.Next()
	}
}

// extractToken 从多个来源提取令牌
func (ma *MailboxAuth) extractToken(c *gin.Context) string {
	// 1. Authorization header (Bearer token 格式)
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. X-Mailbox-Token header
	token := c.GetHeader("X-Mailbox-Token")
	if token != "" {
		return token
	}

	// 3. query parameter（WebSocket 握手只能带查询参数）
	return c.Query("token")
}
