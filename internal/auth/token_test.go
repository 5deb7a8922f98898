package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueValidate(t *testing.T) {
	t.Run("签发后可验证并还原邮箱ID", func(t *testing.T) {
		manager := NewManager("test-secret", "tempmail-proxy", time.Hour)

		token, expiresIn, err := manager.Issue("box-1")

		require.NoError(t, err)
		assert.Equal(t, int64(3600), expiresIn)

		claims, err := manager.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "box-1", claims.MailboxID)
		assert.Equal(t, "tempmail-proxy", claims.Issuer)
	})

	t.Run("过期令牌返回专用错误", func(t *testing.T) {
		manager := NewManager("test-secret", "tempmail-proxy", -time.Minute)

		token, _, err := manager.Issue("box-1")
		require.NoError(t, err)

		_, err = manager.Validate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("篡改或异构令牌判为无效", func(t *testing.T) {
		manager := NewManager("test-secret", "tempmail-proxy", time.Hour)

		_, err := manager.Validate("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)

		other := NewManager("other-secret", "tempmail-proxy", time.Hour)
		token, _, err := other.Issue("box-1")
		require.NoError(t, err)

		_, err = manager.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("令牌绑定邮箱不可跨箱使用", func(t *testing.T) {
		manager := NewManager("test-secret", "tempmail-proxy", time.Hour)

		token, _, err := manager.Issue("box-1")
		require.NoError(t, err)

		_, err = manager.ValidateFor(token, "box-1")
		assert.NoError(t, err)

		_, err = manager.ValidateFor(token, "box-2")
		assert.ErrorIs(t, err, ErrWrongMailbox)
	})

	t.Run("空密钥时生成进程级随机密钥", func(t *testing.T) {
		first := NewManager("", "tempmail-proxy", time.Hour)
		second := NewManager("", "tempmail-proxy", time.Hour)

		token, _, err := first.Issue("box-1")
		require.NoError(t, err)

		_, err = first.Validate(token)
		assert.NoError(t, err)

		// 两个实例的随机密钥互不相认
		_, err = second.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
