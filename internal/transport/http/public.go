package httptransport

import (
	"github.com/gin-gonic/gin"

	"tempmail/proxy/internal/catalog"
)

// PublicHandler 公开 API 处理器（无需认证）
type PublicHandler struct {
	catalog *catalog.Catalog
}

// NewPublicHandler 创建公开 API 处理器
func NewPublicHandler(cat *catalog.Catalog) *PublicHandler {
	return &PublicHandler{catalog: cat}
}

// GetAvailableDomains 获取当前可用的域名列表。
//
// 数据来自目录缓存，刷新失败时与目录层一样降级供应旧值。
func (h *PublicHandler) GetAvailableDomains(c *gin.Context) {
	entries, err := h.catalog.ListDomains(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}

	Success(c, gin.H{
		"domains": entries,
		"count":   len(entries),
	})
}
