package upstream

import (
	"encoding/json"
	"strings"

	"tempmail/proxy/internal/domain"
)

// 固定的用户可见消息。上游偶发返回 HTML 或纯文本错误页，
// 这些内容绝不能原样透出给最终用户。
const (
	msgUpstreamUnavailable = "上游邮件服务暂时不可用，请稍后重试"
	msgResourceMissing     = "请求的资源不存在或已失效"
	msgGenericFailure      = "请求失败，请稍后重试"
)

// 结构化错误字段的取值顺序。
var errorFields = []string{"message", "error", "detail", "hydra:description"}

// newStatusError 把一个非 2xx 响应规范化为 UpstreamError。
func newStatusError(statusCode int, raw []byte) *domain.UpstreamError {
	return &domain.UpstreamError{
		StatusCode: statusCode,
		Status:     domain.UpstreamStatusError,
		Message:    normalizeMessage(statusCode, raw),
		Snippet:    snippet(raw),
	}
}

// normalizeMessage 从响应体提取用户可见的错误消息。
//
// 提取顺序：结构化错误字段 → "not found" 启发式 → 5xx 固定消息 →
// 截断后的原始文本 → 通用兜底。不合法 JSON 视为 data 为空。
func normalizeMessage(statusCode int, raw []byte) string {
	structured := structuredMessage(raw)

	probe := structured
	if probe == "" {
		probe = string(raw)
	}
	if statusCode == 404 || containsNotFound(probe) {
		return msgResourceMissing
	}
	if statusCode >= 500 {
		return msgUpstreamUnavailable
	}

	if structured != "" && !looksOpaque(structured) {
		return truncate(structured, maxSnippetBytes)
	}

	if text := strings.TrimSpace(string(raw)); text != "" && !looksOpaque(text) {
		return truncate(text, maxSnippetBytes)
	}

	return msgGenericFailure
}

// structuredMessage 尝试从 JSON 错误体中取出错误描述字段。
func structuredMessage(raw []byte) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	for _, field := range errorFields {
		if v, ok := data[field].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// containsNotFound 判断文本是否为 "not found" 风格的错误。
func containsNotFound(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "not found") || strings.Contains(s, "no such")
}

// looksOpaque 判断文本是否为不宜透出的供应商内部内容：
// HTML 页面，或携带 "Code:"/"ID:" 结构化内部字段的文本块。
func looksOpaque(s string) bool {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "<") {
		return true
	}
	return strings.Contains(trimmed, "Code:") || strings.Contains(trimmed, "ID:")
}

// snippet 截断原始响应体，仅用于服务端日志。
func snippet(raw []byte) string {
	return truncate(strings.TrimSpace(string(raw)), maxSnippetBytes)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
