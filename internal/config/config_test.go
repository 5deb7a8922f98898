package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("默认配置", func(t *testing.T) {
		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "https://api.mail.tm", cfg.Upstream.BaseURL)
		assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)
		assert.Equal(t, 25*time.Second, cfg.Upstream.SlowTimeout)
		assert.Equal(t, 3, cfg.Upstream.MaxRetries)
		assert.Equal(t, time.Second, cfg.Upstream.BackoffBase)
		assert.Equal(t, 10*time.Minute, cfg.Catalog.CacheTTL)
		assert.Equal(t, 15*time.Minute, cfg.Mailbox.TTL)
		assert.Equal(t, 60*time.Second, cfg.Mailbox.SweepInterval)
		assert.Equal(t, 15, cfg.Mailbox.MaxTrialDomains)
		assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("优先序列是允许列表的子集", func(t *testing.T) {
		cfg, err := Load()

		require.NoError(t, err)
		require.Len(t, cfg.Catalog.PriorityDomains, 8)

		allowed := make(map[string]bool, len(cfg.Catalog.PreferredDomains))
		for _, name := range cfg.Catalog.PreferredDomains {
			allowed[name] = true
		}
		for _, name := range cfg.Catalog.PriorityDomains {
			assert.True(t, allowed[name], "优先域名 %s 必须在允许列表内", name)
		}
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		t.Setenv("TEMPMAIL_UPSTREAM_BASE_URL", "https://mail.example.com/")
		t.Setenv("TEMPMAIL_MAILBOX_TTL", "30m")
		t.Setenv("TEMPMAIL_UPSTREAM_MAX_RETRIES", "5")

		cfg, err := Load()

		require.NoError(t, err)
		// 末尾斜杠被剥除
		assert.Equal(t, "https://mail.example.com", cfg.Upstream.BaseURL)
		assert.Equal(t, 30*time.Minute, cfg.Mailbox.TTL)
		assert.Equal(t, 5, cfg.Upstream.MaxRetries)
	})

	t.Run("非法时长报错", func(t *testing.T) {
		t.Setenv("TEMPMAIL_UPSTREAM_TIMEOUT", "not-a-duration")

		_, err := Load()

		assert.Error(t, err)
	})

	t.Run("域名列表解析", func(t *testing.T) {
		t.Setenv("TEMPMAIL_CATALOG_PREFERRED_DOMAINS", " A.com, b.NET ,, c.org ")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, []string{"a.com", "b.net", "c.org"}, cfg.Catalog.PreferredDomains)
	})
}
