package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongMailbox 令牌与目标邮箱不匹配
	ErrWrongMailbox = errors.New("token not issued for this mailbox")
)

// Claims 邮箱访问令牌的声明。
//
// 令牌只绑定单个邮箱 ID，不存在用户概念：持有令牌即持有邮箱。
type Claims struct {
	MailboxID string `json:"mailbox_id"`
	jwt.RegisteredClaims
}

// Manager 邮箱访问令牌管理器。
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewManager 创建令牌管理器。
//
// secret 为空时生成进程级随机密钥：重启后旧令牌全部失效，
// 与注册表的内存语义一致（重启本来就丢邮箱）。
func NewManager(secret, issuer string, ttl time.Duration) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("generate token secret: %v", err))
		}
		key = []byte(hex.EncodeToString(buf))
	}

	return &Manager{
		secret: key,
		issuer: issuer,
		ttl:    ttl,
	}
}

// Issue 为指定邮箱签发访问令牌，返回令牌与有效秒数。
func (m *Manager) Issue(mailboxID string) (string, int64, error) {
	now := time.Now()
	claims := Claims{
		MailboxID: mailboxID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   mailboxID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int64(m.ttl.Seconds()), nil
}

// Validate 验证令牌并返回声明。
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateFor 验证令牌并要求其绑定在指定邮箱上。
func (m *Manager) ValidateFor(tokenString, mailboxID string) (*Claims, error) {
	claims, err := m.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.MailboxID != mailboxID {
		return nil, ErrWrongMailbox
	}
	return claims, nil
}
