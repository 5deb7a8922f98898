package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/proxy/internal/config"
	"tempmail/proxy/internal/domain"
	"tempmail/proxy/internal/logger"
)

// fakeLister 可编程的域名端点桩。
type fakeLister struct {
	entries []json.RawMessage
	err     error
	calls   int
}

func (f *fakeLister) ListDomains(ctx context.Context) ([]json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func rawEntries(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item))
	}
	return out
}

func testConfig(ttl time.Duration) config.CatalogConfig {
	return config.CatalogConfig{
		CacheTTL:         ttl,
		PreferredDomains: []string{"bluepost.io", "tmpbox.net", "mailhaven.cc", "paperplane.cc"},
		PriorityDomains:  []string{"tmpbox.net", "bluepost.io"},
	}
}

func TestCatalog_ListDomains(t *testing.T) {
	log := logger.NewDevelopmentLogger()

	t.Run("规范化异构条目并按字典序排序", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(
			`"Zeta.org"`,
			`{"domain":"Alpha.com","isActive":true}`,
			`{"domain":"inactive.com","isActive":false}`,
			`{"name":"beta.net"}`,
			`{"unrelated":42}`,
			`"alpha.com"`,
			`"not-a-domain"`,
		)}
		cat := New(lister, testConfig(10*time.Minute), log)

		entries, err := cat.ListDomains(context.Background())

		require.NoError(t, err)
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{"alpha.com", "beta.net", "zeta.org"}, names)
	})

	t.Run("缓存有效期内不重复拉取", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(`"a.com"`)}
		cat := New(lister, testConfig(10*time.Minute), log)

		_, err := cat.ListDomains(context.Background())
		require.NoError(t, err)
		_, err = cat.ListDomains(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, lister.calls)
	})

	t.Run("刷新失败但存在旧缓存时降级供应", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(`"a.com"`, `"b.com"`)}
		cat := New(lister, testConfig(0), log) // TTL 为 0，每次调用都触发刷新

		entries, err := cat.ListDomains(context.Background())
		require.NoError(t, err)
		require.Len(t, entries, 2)

		lister.err = errors.New("upstream down")
		entries, err = cat.ListDomains(context.Background())

		require.NoError(t, err, "有缓存时刷新失败不应向上传播")
		assert.Len(t, entries, 2)
	})

	t.Run("从未填充过缓存且拉取失败时报域名不可用", func(t *testing.T) {
		lister := &fakeLister{err: errors.New("upstream down")}
		cat := New(lister, testConfig(10*time.Minute), log)

		_, err := cat.ListDomains(context.Background())

		assert.ErrorIs(t, err, domain.ErrDomainUnavailable)
	})
}

func TestCatalog_PreferredSubset(t *testing.T) {
	log := logger.NewDevelopmentLogger()

	t.Run("优先序列置前其余按字典序", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(
			`"paperplane.cc"`,
			`"mailhaven.cc"`,
			`"bluepost.io"`,
			`"tmpbox.net"`,
			`"unlisted.org"`,
		)}
		cat := New(lister, testConfig(10*time.Minute), log)

		subset, err := cat.PreferredSubset(context.Background())

		require.NoError(t, err)
		// tmpbox/bluepost 为固定优先顺序，其余交集按字典序
		assert.Equal(t, []string{"tmpbox.net", "bluepost.io", "mailhaven.cc", "paperplane.cc"}, subset)
	})

	t.Run("重排具有幂等性与确定性", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(
			`"mailhaven.cc"`, `"tmpbox.net"`, `"bluepost.io"`,
		)}
		cat := New(lister, testConfig(10*time.Minute), log)

		first, err := cat.PreferredSubset(context.Background())
		require.NoError(t, err)
		second, err := cat.PreferredSubset(context.Background())
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("目录与允许列表无交集时返回空集", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(`"unlisted.org"`)}
		cat := New(lister, testConfig(10*time.Minute), log)

		subset, err := cat.PreferredSubset(context.Background())

		require.NoError(t, err)
		assert.Empty(t, subset)
	})
}

func TestCatalog_Resolve(t *testing.T) {
	log := logger.NewDevelopmentLogger()

	t.Run("不区分大小写精确匹配", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(`"tmpbox.net"`)}
		cat := New(lister, testConfig(10*time.Minute), log)

		name, err := cat.Resolve(context.Background(), "TmpBox.NET")

		require.NoError(t, err)
		assert.Equal(t, "tmpbox.net", name)
	})

	t.Run("未知域名返回可用列表", func(t *testing.T) {
		lister := &fakeLister{entries: rawEntries(`"a.com"`, `"b.com"`)}
		cat := New(lister, testConfig(10*time.Minute), log)

		_, err := cat.Resolve(context.Background(), "unknown.example")

		var unknownErr *domain.UnknownDomainError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, "unknown.example", unknownErr.Domain)
		assert.Equal(t, []string{"a.com", "b.com"}, unknownErr.Available)
	})
}
