package domain

import (
	"time"
)

// DomainEntry 表示上游目录中的一个可用域名。
type DomainEntry struct {
	Name      string `json:"name"`
	Preferred bool   `json:"preferred"` // 是否属于优选域名集合
}

// AuthToken 表示一次成功认证后从上游获得的令牌。
//
// Credential.Auth 为 nil 时表示账号尚未认证，
// 令牌刷新前必须先检查该字段。
type AuthToken struct {
	Token     string    `json:"-"`
	Refresh   string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid 判断令牌在指定时间是否仍然有效。
func (t *AuthToken) Valid(now time.Time) bool {
	return t != nil && t.Token != "" && now.Before(t.ExpiresAt)
}

// Credential 表示配额引擎产出的上游邮箱凭据。
//
// 由配额引擎创建一次，之后由唯一一个 Mailbox 记录独占持有；
// 仅令牌刷新流程允许原地更新 Auth 字段。
type Credential struct {
	AccountID string     `json:"accountId"`
	Address   string     `json:"address"`
	Domain    string     `json:"domain"`
	Password  string     `json:"-"`
	Auth      *AuthToken `json:"auth,omitempty"`
}

// Mailbox 表示注册表持有的一个有效期受限的临时邮箱。
type Mailbox struct {
	ID               string     `json:"id"`
	Credential       Credential `json:"credential"`
	CreatedAt        time.Time  `json:"createdAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	LastMessageCount int        `json:"lastMessageCount"`
}

// Expired 判断邮箱在指定时间是否已过期。
func (m *Mailbox) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Message 表示规范化后的单封邮件。
//
// 上游的 html 字段可能以片段数组形式返回，规范化时拼接为一个字符串。
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName,omitempty"`
	Subject   string    `json:"subject"`
	Intro     string    `json:"intro,omitempty"`
	Text      string    `json:"text,omitempty"`
	HTML      string    `json:"html,omitempty"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"createdAt"`
}
