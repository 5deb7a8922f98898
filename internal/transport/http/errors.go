package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmail/proxy/internal/domain"
	"tempmail/proxy/internal/registry"
)

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 邮箱相关
	MsgMailboxNotFound     = "邮箱不存在或已失效"
	MsgMailboxCreateFailed = "创建邮箱失败"

	// 域名相关
	MsgDomainNotAvailable = "请求的域名不可用"
	MsgDomainListFailed   = "获取可用域名失败"
	MsgDomainsUnavailable = "域名目录暂时不可用，请稍后重试"

	// 开通相关
	MsgProvisionRateLimited = "上游域名暂时繁忙，请稍后重试"
	MsgProvisionExhausted   = "所有候选域名开通失败，请稍后重试"

	// 邮件相关
	MsgMessageListFailed = "获取邮件列表失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)

// WriteError 把业务错误映射为统一响应。
//
// 上游错误透出规范化后的消息与状态码提示，原始响应片段只进日志。
func WriteError(c *gin.Context, err error) {
	var notAllowed *domain.UnknownDomainError
	if errors.As(err, &notAllowed) {
		UnprocessableEntity(c, MsgDomainNotAvailable, gin.H{
			"domain":    notAllowed.Domain,
			"available": notAllowed.Available,
		})
		return
	}

	var exhausted *domain.ProvisioningExhaustedError
	if errors.As(err, &exhausted) {
		msg := MsgProvisionExhausted
		if exhausted.MostlyRateLimited() {
			msg = MsgProvisionRateLimited
		}
		Error(c, exhausted.HTTPStatus(), msg)
		return
	}

	var upstreamErr *domain.UpstreamError
	if errors.As(err, &upstreamErr) {
		Error(c, upstreamErr.HTTPStatus(), upstreamErr.Message)
		return
	}

	switch {
	case errors.Is(err, registry.ErrMailboxNotFound), errors.Is(err, registry.ErrMailboxExpired):
		NotFound(c, MsgMailboxNotFound)
	case errors.Is(err, domain.ErrDomainUnavailable):
		Error(c, http.StatusServiceUnavailable, MsgDomainsUnavailable)
	default:
		InternalError(c, MsgInternalError)
	}
}
