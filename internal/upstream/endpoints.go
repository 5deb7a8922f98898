package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// AccountRecord 上游建号接口返回的账号记录。
type AccountRecord struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// TokenRecord 上游令牌接口的响应。
//
// 部分部署不返回 expires_in，调用方需要自行套用默认有效期。
type TokenRecord struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	Refresh   string `json:"refresh_token"`
	ExpiresIn int64  `json:"expires_in"`
}

// AddressRecord 发件人/收件人字段，上游可能返回对象或裸字符串。
type AddressRecord struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// UnmarshalJSON 兼容 {"address":..,"name":..} 与 "a@b.c" 两种形态。
func (a *AddressRecord) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Address = s
		return nil
	}

	type plain AddressRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = AddressRecord(p)
	return nil
}

// Fragments HTML 正文字段，上游可能返回单个字符串或片段数组。
type Fragments []string

// UnmarshalJSON 兼容字符串与字符串数组两种形态。
func (f *Fragments) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Fragments{s}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = Fragments(list)
	return nil
}

// MessageSummary 邮件列表接口返回的摘要记录。
type MessageSummary struct {
	ID        string        `json:"id"`
	From      AddressRecord `json:"from"`
	Subject   string        `json:"subject"`
	Intro     string        `json:"intro"`
	Seen      bool          `json:"seen"`
	CreatedAt time.Time     `json:"createdAt"`
}

// MessageDetail 单封邮件详情。
type MessageDetail struct {
	ID        string          `json:"id"`
	From      AddressRecord   `json:"from"`
	To        []AddressRecord `json:"to"`
	Subject   string          `json:"subject"`
	Intro     string          `json:"intro"`
	Text      string          `json:"text"`
	HTML      Fragments       `json:"html"`
	Seen      bool            `json:"seen"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListDomains 拉取上游的可用域名列表。
//
// 返回未规范化的原始条目，条目形态（裸字符串/对象）由目录层统一处理。
func (c *Client) ListDomains(ctx context.Context) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/domains?page=1", requestOptions{}, nil, &raw); err != nil {
		return nil, err
	}
	return splitCollection(raw), nil
}

// CreateAccount 在指定地址上创建上游账号。
func (c *Client) CreateAccount(ctx context.Context, address, password string) (*AccountRecord, error) {
	payload := map[string]string{
		"address":  address,
		"password": password,
	}

	var record AccountRecord
	if err := c.do(ctx, http.MethodPost, "/accounts", requestOptions{slow: true}, payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetToken 用地址和口令换取上游访问令牌。
func (c *Client) GetToken(ctx context.Context, address, password string) (*TokenRecord, error) {
	payload := map[string]string{
		"address":  address,
		"password": password,
	}

	var record TokenRecord
	if err := c.do(ctx, http.MethodPost, "/token", requestOptions{slow: true}, payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListMessages 列出邮箱内的邮件摘要（上游分页，取第一页）。
//
// 无法解析的条目直接丢弃，不影响其余结果。
func (c *Client) ListMessages(ctx context.Context, token string) ([]MessageSummary, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/messages?page=1", requestOptions{token: token}, nil, &raw); err != nil {
		return nil, err
	}

	entries := splitCollection(raw)
	summaries := make([]MessageSummary, 0, len(entries))
	for _, entry := range entries {
		var summary MessageSummary
		if err := json.Unmarshal(entry, &summary); err != nil || summary.ID == "" {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetMessage 拉取单封邮件的完整内容。
func (c *Client) GetMessage(ctx context.Context, token, id string) (*MessageDetail, error) {
	var detail MessageDetail
	path := "/messages/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, requestOptions{token: token}, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// splitCollection 兼容 hydra 集合包装与裸数组两种响应形态。
func splitCollection(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var wrapped struct {
		Member []json.RawMessage `json:"hydra:member"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Member
	}
	return nil
}
