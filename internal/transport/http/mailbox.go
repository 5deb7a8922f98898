package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/proxy/internal/auth"
	"tempmail/proxy/internal/domain"
	"tempmail/proxy/internal/provision"
	"tempmail/proxy/internal/registry"
)

// MailboxHandler 邮箱相关的 HTTP 处理器。
type MailboxHandler struct {
	engine *provision.Engine
	reg    *registry.Registry
	tokens *auth.Manager
	log    *zap.Logger
}

// NewMailboxHandler 创建邮箱处理器。
func NewMailboxHandler(engine *provision.Engine, reg *registry.Registry, tokens *auth.Manager, log *zap.Logger) *MailboxHandler {
	return &MailboxHandler{
		engine: engine,
		reg:    reg,
		tokens: tokens,
		log:    log,
	}
}

type createMailboxRequest struct {
	Domain string `json:"domain"`
}

type mailboxResponse struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	Domain       string    `json:"domain"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	MessageCount int       `json:"messageCount"`
}

type createMailboxResponse struct {
	mailboxResponse
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"` // 秒
}

type messageListResponse struct {
	Items []domain.Message `json:"items"`
	Count int              `json:"count"`
}

// CreateMailbox 开通一个新的临时邮箱。
//
// 请求体的 domain 字段可选：指定时只在该域名上开通，
// 留空时由轮换策略选择域名。
func (h *MailboxHandler) CreateMailbox(c *gin.Context) {
	var req createMailboxRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	cred, err := h.engine.Provision(c.Request.Context(), req.Domain)
	if err != nil {
		WriteError(c, err)
		return
	}

	mailbox := h.reg.Create(cred)

	token, expiresIn, err := h.tokens.Issue(mailbox.ID)
	if err != nil {
		// 令牌签不出来说明邮箱无法访问，登记也要回滚
		h.reg.Delete(mailbox.ID)
		h.log.Error("access token issue failed",
			zap.String("mailbox_id", mailbox.ID),
			zap.Error(err),
		)
		InternalError(c, MsgMailboxCreateFailed)
		return
	}

	Created(c, createMailboxResponse{
		mailboxResponse: toMailboxResponse(mailbox),
		AccessToken:     token,
		ExpiresIn:       expiresIn,
	})
}

// GetMailbox 查看邮箱详情。
func (h *MailboxHandler) GetMailbox(c *gin.Context) {
	mailbox, err := h.reg.Get(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	Success(c, toMailboxResponse(mailbox))
}

// ExtendMailbox 把邮箱有效期重置为完整时长。
func (h *MailboxHandler) ExtendMailbox(c *gin.Context) {
	mailbox, err := h.reg.Extend(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	Success(c, toMailboxResponse(mailbox))
}

// ListMessages 拉取邮箱的收件列表。
func (h *MailboxHandler) ListMessages(c *gin.Context) {
	messages, err := h.reg.FetchMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}

	Success(c, messageListResponse{
		Items: messages,
		Count: len(messages),
	})
}

// DeleteMailbox 主动销毁邮箱。
//
// 删除是幂等的，重复删除同样返回 204。
func (h *MailboxHandler) DeleteMailbox(c *gin.Context) {
	h.reg.Delete(c.Param("id"))
	NoContent(c)
}

// toMailboxResponse 转换实体为响应体。
func toMailboxResponse(mailbox *domain.Mailbox) mailboxResponse {
	return mailboxResponse{
		ID:           mailbox.ID,
		Address:      mailbox.Credential.Address,
		Domain:       mailbox.Credential.Domain,
		CreatedAt:    mailbox.CreatedAt,
		ExpiresAt:    mailbox.ExpiresAt,
		MessageCount: mailbox.LastMessageCount,
	}
}
