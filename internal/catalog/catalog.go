package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tempmail/proxy/internal/config"
	"tempmail/proxy/internal/domain"
)

// Lister 抽象上游的域名列表端点。
type Lister interface {
	ListDomains(ctx context.Context) ([]json.RawMessage, error)
}

// Catalog 缓存上游的可用域名目录并提供确定性排序视图。
//
// 缓存填充后即使刷新失败也继续供应旧值（降级优于空窗），
// 仅在从未成功拉取过时才向调用方暴露失败。
type Catalog struct {
	lister   Lister
	log      *zap.Logger
	ttl      time.Duration
	priority []string
	allowed  map[string]struct{}

	mu        sync.RWMutex
	entries   []domain.DomainEntry
	expiresAt time.Time

	group singleflight.Group
}

// New 创建域名目录。
func New(lister Lister, cfg config.CatalogConfig, log *zap.Logger) *Catalog {
	allowed := make(map[string]struct{}, len(cfg.PreferredDomains))
	for _, name := range cfg.PreferredDomains {
		allowed[strings.ToLower(name)] = struct{}{}
	}

	priority := make([]string, 0, len(cfg.PriorityDomains))
	for _, name := range cfg.PriorityDomains {
		priority = append(priority, strings.ToLower(name))
	}

	return &Catalog{
		lister:   lister,
		log:      log,
		ttl:      cfg.CacheTTL,
		priority: priority,
		allowed:  allowed,
	}
}

// ListDomains 返回有序的域名条目列表。
//
// 缓存过期时触发刷新；刷新失败而缓存仍在时返回旧值并告警，
// 只有缓存从未填充过时才返回 domain.ErrDomainUnavailable。
func (c *Catalog) ListDomains(ctx context.Context) ([]domain.DomainEntry, error) {
	c.mu.RLock()
	if len(c.entries) > 0 && time.Now().Before(c.expiresAt) {
		entries := snapshot(c.entries)
		c.mu.RUnlock()
		return entries, nil
	}
	c.mu.RUnlock()

	// singleflight 合并并发刷新，避免缓存过期瞬间的惊群
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) > 0 {
		if err != nil {
			c.log.Warn("domain catalog refresh failed, serving stale cache",
				zap.Error(err),
				zap.Time("expired_at", c.expiresAt),
			)
		}
		return snapshot(c.entries), nil
	}
	return nil, domain.ErrDomainUnavailable
}

// refresh 从上游拉取并规范化域名目录。
func (c *Catalog) refresh(ctx context.Context) error {
	c.mu.RLock()
	fresh := len(c.entries) > 0 && time.Now().Before(c.expiresAt)
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	raw, err := c.lister.ListDomains(ctx)
	if err != nil {
		return err
	}

	entries := c.normalize(raw)
	if len(entries) == 0 {
		return domain.ErrDomainUnavailable
	}

	c.mu.Lock()
	c.entries = entries
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()

	c.log.Debug("domain catalog refreshed", zap.Int("count", len(entries)))
	return nil
}

// normalize 把上游的异构条目统一为有序的 DomainEntry 列表。
//
// 兼容裸字符串与对象两种条目形态；无法规范化或标记为不可用的
// 条目静默丢弃；名称不区分大小写去重后按字典序排序。
func (c *Catalog) normalize(raw []json.RawMessage) []domain.DomainEntry {
	seen := make(map[string]struct{}, len(raw))
	entries := make([]domain.DomainEntry, 0, len(raw))

	for _, item := range raw {
		name, ok := normalizeEntry(item)
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		_, preferred := c.allowed[name]
		entries = append(entries, domain.DomainEntry{Name: name, Preferred: preferred})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// normalizeEntry 从单个原始条目中提取小写域名。
func normalizeEntry(item json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return cleanName(s)
	}

	var obj struct {
		Domain   string `json:"domain"`
		Name     string `json:"name"`
		IsActive *bool  `json:"isActive"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return "", false
	}
	if obj.IsActive != nil && !*obj.IsActive {
		return "", false
	}
	if obj.Domain != "" {
		return cleanName(obj.Domain)
	}
	return cleanName(obj.Name)
}

func cleanName(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || !strings.Contains(s, ".") {
		return "", false
	}
	return s, true
}

// Names 返回全部域名名称，保持目录顺序。
func (c *Catalog) Names(ctx context.Context) ([]string, error) {
	entries, err := c.ListDomains(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names, nil
}

// Resolve 按不区分大小写的精确匹配解析显式请求的域名。
//
// 目录中不存在时返回 *domain.UnknownDomainError，附带可用域名列表。
func (c *Catalog) Resolve(ctx context.Context, name string) (string, error) {
	entries, err := c.ListDomains(ctx)
	if err != nil {
		return "", err
	}

	wanted := strings.ToLower(strings.TrimSpace(name))
	available := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == wanted {
			return entry.Name, nil
		}
		available = append(available, entry.Name)
	}
	return "", &domain.UnknownDomainError{Domain: name, Available: available}
}

// PreferredSubset 返回目录与优选允许列表的交集。
//
// 结果先按字典序排序保证确定性，再通过一次稳定排序把固定优先
// 序列整体移到最前：优先域名之间保持配置顺序，其余保持字典序。
// 对同一输入重复调用产生完全相同的输出。
func (c *Catalog) PreferredSubset(ctx context.Context) ([]string, error) {
	entries, err := c.ListDomains(ctx)
	if err != nil {
		return nil, err
	}

	subset := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Preferred {
			subset = append(subset, entry.Name)
		}
	}
	sort.Strings(subset)

	rank := make(map[string]int, len(c.priority))
	for i, name := range c.priority {
		rank[name] = i
	}

	sort.SliceStable(subset, func(i, j int) bool {
		return priorityRank(rank, subset[i]) < priorityRank(rank, subset[j])
	})
	return subset, nil
}

// priorityRank 返回域名在固定优先序列中的序号，未命中时排到末尾。
func priorityRank(rank map[string]int, name string) int {
	if idx, ok := rank[name]; ok {
		return idx
	}
	return len(rank)
}

func snapshot(entries []domain.DomainEntry) []domain.DomainEntry {
	out := make([]domain.DomainEntry, len(entries))
	copy(out, entries)
	return out
}
