package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// 上游失败状态分类。
const (
	UpstreamStatusError   = "error"
	UpstreamStatusTimeout = "timeout"
)

var (
	// ErrDomainUnavailable 域名目录为空且上游不可达（无缓存可退化）
	ErrDomainUnavailable = errors.New("domain catalog unavailable")
)

// UpstreamError 表示对上游供应商的一次请求失败。
//
// Message 是经过规范化、可以直接透出给调用方的消息；
// Snippet 保留截断后的原始响应片段，仅用于服务端日志。
type UpstreamError struct {
	StatusCode int    // HTTP 状态码，网络失败时为 0
	Status     string // "error" 或 "timeout"
	Message    string
	Snippet    string `json:"-"`
}

func (e *UpstreamError) Error() string {
	if e.Status == UpstreamStatusTimeout {
		return fmt.Sprintf("upstream timeout: %s", e.Message)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Timeout 判断失败原因是否为超时。
func (e *UpstreamError) Timeout() bool {
	return e.Status == UpstreamStatusTimeout
}

// Transient 判断该失败是否属于可重试的瞬时类别。
func (e *UpstreamError) Transient() bool {
	return e.Timeout() || e.StatusCode == 0 || e.StatusCode >= 500
}

// HTTPStatus 返回适合透传给调用方的 HTTP 状态码提示。
func (e *UpstreamError) HTTPStatus() int {
	if e.Timeout() || e.StatusCode == 0 || e.StatusCode >= 500 {
		return http.StatusBadGateway
	}
	return e.StatusCode
}

// UnknownDomainError 显式请求的域名不在目录中。
type UnknownDomainError struct {
	Domain    string
	Available []string
}

func (e *UnknownDomainError) Error() string {
	return fmt.Sprintf("domain %q not available (available: %s)",
		e.Domain, strings.Join(e.Available, ", "))
}

// HTTPStatus 对应 422。
func (e *UnknownDomainError) HTTPStatus() int {
	return http.StatusUnprocessableEntity
}

// ProvisioningExhaustedError 一次开通请求尝试完全部候选域名仍然失败。
type ProvisioningExhaustedError struct {
	Tried       int // 实际尝试的域名数量
	RateLimited int // 其中被判定为限流的数量
}

// MostlyRateLimited 判断失败是否以限流为主。
//
// 阈值：限流域名数 >= 尝试数 - 2，且至少有一个域名被限流。
func (e *ProvisioningExhaustedError) MostlyRateLimited() bool {
	return e.RateLimited > 0 && e.RateLimited >= e.Tried-2
}

func (e *ProvisioningExhaustedError) Error() string {
	if e.MostlyRateLimited() {
		return fmt.Sprintf("provisioning exhausted: %d/%d domains rate limited, try again shortly", e.RateLimited, e.Tried)
	}
	return fmt.Sprintf("provisioning exhausted: all %d candidate domains failed", e.Tried)
}

// HTTPStatus 对应 503。
func (e *ProvisioningExhaustedError) HTTPStatus() int {
	return http.StatusServiceUnavailable
}
