package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/proxy/internal/domain"
	"tempmail/proxy/internal/monitoring"
	"tempmail/proxy/internal/upstream"
)

var (
	// ErrMailboxNotFound 邮箱不存在
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMailboxExpired 邮箱已过期（本次访问触发淘汰，之后按不存在处理）
	ErrMailboxExpired = errors.New("mailbox expired")
)

// 单次拉取邮件详情的并发上限。
const fetchConcurrency = 5

// MessageClient 抽象注册表所需的上游邮件端点。
type MessageClient interface {
	ListMessages(ctx context.Context, token string) ([]upstream.MessageSummary, error)
	GetMessage(ctx context.Context, token, id string) (*upstream.MessageDetail, error)
}

// Authenticator 抽象令牌刷新入口。
type Authenticator interface {
	Authenticate(ctx context.Context, cred *domain.Credential) error
}

// Registry 进程内的邮箱注册表。
//
// 邮箱记录只存内存，带绝对过期时间；读路径惰性淘汰过期记录，
// 后台 Sweep 定期清扫没人再读的记录。进程重启即全量丢失，
// 这是有意为之：临时邮箱本身就是短命资源。
type Registry struct {
	messages MessageClient
	auth     Authenticator
	metrics  *monitoring.Metrics
	log      *zap.Logger

	ttl           time.Duration
	sweepInterval time.Duration

	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox
}

// New 创建邮箱注册表。
func New(messages MessageClient, auth Authenticator, ttl, sweepInterval time.Duration, metrics *monitoring.Metrics, log *zap.Logger) *Registry {
	return &Registry{
		messages:      messages,
		auth:          auth,
		metrics:       metrics,
		log:           log,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		mailboxes:     make(map[string]*domain.Mailbox),
	}
}

// Create 用开通好的凭据登记一个新邮箱。
func (r *Registry) Create(cred *domain.Credential) *domain.Mailbox {
	now := time.Now()
	mailbox := &domain.Mailbox{
		ID:         uuid.New().String(),
		Credential: *cred,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.ttl),
	}

	r.mu.Lock()
	r.mailboxes[mailbox.ID] = mailbox
	count := len(r.mailboxes)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.MailboxesCreated.Inc()
		r.metrics.MailboxesActive.Set(float64(count))
	}

	r.log.Info("mailbox registered",
		zap.String("mailbox_id", mailbox.ID),
		zap.String("domain", mailbox.Credential.Domain),
		zap.Time("expires_at", mailbox.ExpiresAt),
	)
	return mailbox
}

// Get 按 ID 查找邮箱。
//
// 过期记录在本次访问中淘汰并返回 ErrMailboxExpired，
// 后续同 ID 的访问返回 ErrMailboxNotFound。
func (r *Registry) Get(id string) (*domain.Mailbox, error) {
	now := time.Now()

	// 过期判断与拷贝都在锁内完成，避免与续期/令牌写回竞争
	r.mu.RLock()
	mailbox, ok := r.mailboxes[id]
	var clone domain.Mailbox
	expired := false
	if ok {
		expired = mailbox.Expired(now)
		if !expired {
			clone = *mailbox
		}
	}
	r.mu.RUnlock()

	if !ok {
		return nil, ErrMailboxNotFound
	}
	if expired {
		r.evict(id)
		return nil, ErrMailboxExpired
	}
	return &clone, nil
}

// Extend 把邮箱的过期时间重置为当前时间加完整 TTL。
//
// 重置是绝对的，不在旧剩余时间上叠加。
func (r *Registry) Extend(id string) (*domain.Mailbox, error) {
	now := time.Now()

	r.mu.Lock()
	mailbox, ok := r.mailboxes[id]
	expired := ok && mailbox.Expired(now)
	if ok && !expired {
		mailbox.ExpiresAt = now.Add(r.ttl)
	}
	r.mu.Unlock()

	if expired {
		r.evict(id)
		return nil, ErrMailboxExpired
	}
	if !ok {
		return nil, ErrMailboxNotFound
	}
	if r.metrics != nil {
		r.metrics.MailboxesExtended.Inc()
	}
	return r.copyOf(id)
}

// Delete 主动销毁邮箱，幂等。
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	_, existed := r.mailboxes[id]
	delete(r.mailboxes, id)
	count := len(r.mailboxes)
	r.mu.Unlock()

	if existed {
		if r.metrics != nil {
			r.metrics.MailboxesActive.Set(float64(count))
		}
		r.log.Info("mailbox deleted", zap.String("mailbox_id", id))
	}
}

// Count 返回当前活跃邮箱数量。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mailboxes)
}

// FetchMessages 拉取邮箱的收件列表并展开为完整邮件。
//
// 令牌失效时先原地刷新再拉取；详情按 all-settle 语义并发获取，
// 个别邮件失败不拖垮整批，只从结果中剔除并计数。
func (r *Registry) FetchMessages(ctx context.Context, id string) ([]domain.Message, error) {
	mailbox, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	token, err := r.ensureToken(ctx, id, &mailbox.Credential)
	if err != nil {
		return nil, err
	}

	summaries, err := r.messages.ListMessages(ctx, token)
	if err != nil {
		return nil, err
	}

	messages := r.expand(ctx, token, summaries)

	r.mu.Lock()
	if stored, ok := r.mailboxes[id]; ok {
		stored.LastMessageCount = len(messages)
	}
	r.mu.Unlock()

	return messages, nil
}

// ensureToken 返回可用令牌，必要时刷新并写回注册表。
func (r *Registry) ensureToken(ctx context.Context, id string, cred *domain.Credential) (string, error) {
	if cred.Auth.Valid(time.Now()) {
		return cred.Auth.Token, nil
	}

	if err := r.auth.Authenticate(ctx, cred); err != nil {
		return "", err
	}

	r.mu.Lock()
	if stored, ok := r.mailboxes[id]; ok {
		stored.Credential.Auth = cred.Auth
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.TokenRefreshes.Inc()
	}
	r.log.Debug("upstream token refreshed", zap.String("mailbox_id", id))
	return cred.Auth.Token, nil
}

// expand 并发拉取邮件详情并规范化，保持按时间倒序的稳定输出。
func (r *Registry) expand(ctx context.Context, token string, summaries []upstream.MessageSummary) []domain.Message {
	results := make([]*domain.Message, len(summaries))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(fetchConcurrency)

	for i, summary := range summaries {
		group.Go(func() error {
			detail, err := r.messages.GetMessage(groupCtx, token, summary.ID)
			if err != nil {
				if r.metrics != nil {
					r.metrics.MessageFetchFailures.Inc()
				}
				r.log.Warn("message detail fetch failed, dropping entry",
					zap.String("message_id", summary.ID),
					zap.Error(err),
				)
				// 单封失败不触发整组取消
				return nil
			}
			message := normalizeMessage(detail)
			results[i] = &message
			return nil
		})
	}
	// 所有任务都返回 nil，这里不会失败
	_ = group.Wait()

	messages := make([]domain.Message, 0, len(results))
	for _, msg := range results {
		if msg != nil {
			messages = append(messages, *msg)
			if r.metrics != nil {
				r.metrics.MessagesFetched.Inc()
			}
		}
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	return messages
}

// normalizeMessage 把上游详情折叠为对外的邮件形态。
func normalizeMessage(detail *upstream.MessageDetail) domain.Message {
	html := ""
	if len(detail.HTML) > 0 {
		for _, fragment := range detail.HTML {
			html += fragment
		}
	}

	return domain.Message{
		ID:        detail.ID,
		From:      detail.From.Address,
		FromName:  detail.From.Name,
		Subject:   detail.Subject,
		Intro:     detail.Intro,
		Text:      detail.Text,
		HTML:      html,
		Seen:      detail.Seen,
		CreatedAt: detail.CreatedAt,
	}
}

// Sweep 清除所有已过期的邮箱，返回清除数量。
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	removed := 0
	for id, mailbox := range r.mailboxes {
		if mailbox.Expired(now) {
			delete(r.mailboxes, id)
			removed++
		}
	}
	count := len(r.mailboxes)
	r.mu.Unlock()

	if removed > 0 {
		if r.metrics != nil {
			r.metrics.MailboxesExpired.Add(float64(removed))
			r.metrics.MailboxesActive.Set(float64(count))
		}
		r.log.Info("expired mailboxes swept",
			zap.Int("removed", removed),
			zap.Int("remaining", count),
		)
	}
	return removed
}

// Run 周期性清扫过期邮箱，直到上下文取消。
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// evict 删除单条过期记录并维护活跃数指标。
func (r *Registry) evict(id string) {
	r.mu.Lock()
	_, existed := r.mailboxes[id]
	delete(r.mailboxes, id)
	count := len(r.mailboxes)
	r.mu.Unlock()

	if existed {
		if r.metrics != nil {
			r.metrics.MailboxesExpired.Inc()
			r.metrics.MailboxesActive.Set(float64(count))
		}
	}
}

// copyOf 返回记录的浅拷贝，避免调用方看见后续原地修改。
func (r *Registry) copyOf(id string) (*domain.Mailbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mailbox, ok := r.mailboxes[id]
	if !ok {
		return nil, ErrMailboxNotFound
	}
	clone := *mailbox
	return &clone, nil
}
