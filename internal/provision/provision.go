package provision

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/proxy/internal/domain"
	"tempmail/proxy/internal/monitoring"
	"tempmail/proxy/internal/rotation"
	"tempmail/proxy/internal/upstream"
)

// AccountClient 抽象开通所需的上游账号端点。
type AccountClient interface {
	CreateAccount(ctx context.Context, address, password string) (*upstream.AccountRecord, error)
	GetToken(ctx context.Context, address, password string) (*upstream.TokenRecord, error)
}

// DomainSource 抽象域名目录的只读视图。
type DomainSource interface {
	Resolve(ctx context.Context, name string) (string, error)
	PreferredSubset(ctx context.Context) ([]string, error)
	Names(ctx context.Context) ([]string, error)
}

// 失败归类，决定下一步动作。
type failureClass int

const (
	failRateLimited failureClass = iota // 换域名，限流退避
	failServerError                     // 换域名，服务端退避
	failCollision                       // 同域名换本地部分
	failOther                           // 换域名，不退避
)

// 令牌接口不返回有效期时的兜底值。
const defaultTokenLifetime = time.Hour

// Engine 邮箱开通引擎。
//
// 对外只有两种开通形态：显式指定域名时在该域名上反复重试，
// 未指定时沿轮换序列逐个试探候选域名。两种形态共享同一个
// 进程级游标，失败重试的节奏由失败归类决定。
type Engine struct {
	accounts AccountClient
	domains  DomainSource
	cursor   *rotation.Cursor
	metrics  *monitoring.Metrics
	log      *zap.Logger

	maxTrial int

	// 重试参数以字段形式持有，便于测试收紧节奏。
	explicitAttempts int
	rotationAttempts int
	rateBackoffMin   time.Duration
	rateBackoffMax   time.Duration
	serverBackoffMin time.Duration
	serverBackoffMax time.Duration
}

// NewEngine 创建开通引擎。
func NewEngine(accounts AccountClient, domains DomainSource, cursor *rotation.Cursor, maxTrial int, metrics *monitoring.Metrics, log *zap.Logger) *Engine {
	if maxTrial <= 0 {
		maxTrial = rotation.DefaultMaxTrial
	}
	return &Engine{
		accounts: accounts,
		domains:  domains,
		cursor:   cursor,
		metrics:  metrics,
		log:      log,

		maxTrial: maxTrial,

		explicitAttempts: 5,
		rotationAttempts: 2,
		rateBackoffMin:   100 * time.Millisecond,
		rateBackoffMax:   300 * time.Millisecond,
		serverBackoffMin: 200 * time.Millisecond,
		serverBackoffMax: 500 * time.Millisecond,
	}
}

// Provision 开通一个上游邮箱并完成认证。
//
// preferredDomain 非空时走显式模式，失败不会降级到其他域名；
// 为空时沿游标序列轮换试探。返回的凭据已携带有效令牌。
func (e *Engine) Provision(ctx context.Context, preferredDomain string) (*domain.Credential, error) {
	start := time.Now()

	var cred *domain.Credential
	var err error
	if strings.TrimSpace(preferredDomain) != "" {
		cred, err = e.provisionExplicit(ctx, preferredDomain)
	} else {
		cred, err = e.provisionRotating(ctx)
	}

	if e.metrics != nil {
		e.metrics.RecordProvisionOutcome(outcomeLabel(err), time.Since(start))
	}
	return cred, err
}

// provisionExplicit 在调用方指定的域名上开通。
//
// 只有提示本地部分冲突或请求格式被拒的状态码（400/409/422）才
// 换一个随机本地部分重试；其余失败立即向上传播，保留原始错误
// 语义供传输层映射状态码。
func (e *Engine) provisionExplicit(ctx context.Context, requested string) (*domain.Credential, error) {
	name, err := e.domains.Resolve(ctx, requested)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < e.explicitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cred, err := e.createOn(ctx, name)
		if err == nil {
			return cred, nil
		}
		lastErr = err

		var upErr *domain.UpstreamError
		if !errors.As(err, &upErr) || !retriableOnSameDomain(upErr.StatusCode) {
			return nil, err
		}

		e.log.Debug("explicit provisioning retry",
			zap.String("domain", name),
			zap.Int("attempt", attempt+1),
			zap.Int("status", upErr.StatusCode),
		)
	}

	e.log.Warn("explicit provisioning exhausted",
		zap.String("domain", name),
		zap.Int("attempts", e.explicitAttempts),
		zap.Error(lastErr),
	)
	return nil, &domain.ProvisioningExhaustedError{Tried: 1}
}

// provisionRotating 沿游标序列逐个试探候选域名。
//
// 候选集优先取优选交集，交集为空时退回全量目录。每个域名最多
// 尝试 rotationAttempts 次；限流与服务端失败换下一个域名，本地
// 冲突在同域名上换号重试。成功或整轮耗尽都推进一次游标，保证
// 下一个请求换起点。
func (e *Engine) provisionRotating(ctx context.Context) (*domain.Credential, error) {
	candidates, err := e.domains.PreferredSubset(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = e.domains.Names(ctx)
		if err != nil {
			return nil, err
		}
	}

	trial, err := e.cursor.Sequence(candidates, e.maxTrial)
	if err != nil {
		return nil, domain.ErrDomainUnavailable
	}

	rateLimited := 0
	for _, name := range trial {
		cred, class, err := e.tryDomain(ctx, name)
		if err == nil {
			e.cursor.Advance()
			return cred, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch class {
		case failRateLimited:
			rateLimited++
			if e.metrics != nil {
				e.metrics.RecordDomainSkipped("rate_limited")
			}
			e.sleep(ctx, e.rateBackoffMin, e.rateBackoffMax)
		case failServerError:
			if e.metrics != nil {
				e.metrics.RecordDomainSkipped("server_error")
			}
			e.sleep(ctx, e.serverBackoffMin, e.serverBackoffMax)
		default:
			if e.metrics != nil {
				e.metrics.RecordDomainSkipped("other")
			}
		}

		e.log.Debug("rotation moved to next domain",
			zap.String("domain", name),
			zap.Error(err),
		)
	}

	e.cursor.Advance()

	exhausted := &domain.ProvisioningExhaustedError{Tried: len(trial), RateLimited: rateLimited}
	e.log.Warn("rotation provisioning exhausted",
		zap.Int("tried", exhausted.Tried),
		zap.Int("rate_limited", exhausted.RateLimited),
		zap.Bool("mostly_rate_limited", exhausted.MostlyRateLimited()),
	)
	return nil, exhausted
}

// tryDomain 在单个域名上尝试开通，返回失败归类供调度层决定退避。
//
// 只有本地部分冲突会在同域名内消耗剩余尝试次数，其余失败立即
// 放弃该域名。
func (e *Engine) tryDomain(ctx context.Context, name string) (*domain.Credential, failureClass, error) {
	var lastErr error
	lastClass := failOther

	for attempt := 0; attempt < e.rotationAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, lastClass, err
		}

		cred, err := e.createOn(ctx, name)
		if err == nil {
			return cred, 0, nil
		}
		lastErr = err
		lastClass = classify(err)

		if lastClass != failCollision {
			break
		}
	}
	return nil, lastClass, lastErr
}

// createOn 在指定域名上生成随机账号，完成建号与认证。
func (e *Engine) createOn(ctx context.Context, name string) (*domain.Credential, error) {
	address := randomLocalPart() + "@" + name
	password := randomPassword()

	account, err := e.accounts.CreateAccount(ctx, address, password)
	if err != nil {
		return nil, err
	}
	if account.Address != "" {
		address = account.Address
	}

	cred := &domain.Credential{
		AccountID: account.ID,
		Address:   address,
		Domain:    name,
		Password:  password,
	}
	if err := e.Authenticate(ctx, cred); err != nil {
		return nil, err
	}

	e.log.Info("mailbox provisioned",
		zap.String("domain", name),
		zap.String("account_id", cred.AccountID),
	)
	return cred, nil
}

// Authenticate 用凭据换取上游令牌并原地写入 Auth 字段。
//
// 令牌过期后的刷新复用同一入口；上游未返回有效期时套用一小时兜底。
func (e *Engine) Authenticate(ctx context.Context, cred *domain.Credential) error {
	record, err := e.accounts.GetToken(ctx, cred.Address, cred.Password)
	if err != nil {
		return err
	}

	lifetime := defaultTokenLifetime
	if record.ExpiresIn > 0 {
		lifetime = time.Duration(record.ExpiresIn) * time.Second
	}

	cred.Auth = &domain.AuthToken{
		Token:     record.Token,
		Refresh:   record.Refresh,
		ExpiresAt: time.Now().Add(lifetime),
	}
	if cred.AccountID == "" {
		cred.AccountID = record.ID
	}
	return nil
}

// classify 把上游失败映射为调度动作。
//
// 429 与带限流语义的 422 归为限流；5xx、超时和网络失败归为
// 服务端失败；400/409 视为本地部分冲突。
func classify(err error) failureClass {
	var upErr *domain.UpstreamError
	if !errors.As(err, &upErr) {
		return failServerError
	}

	switch {
	case upErr.StatusCode == 429:
		return failRateLimited
	case upErr.StatusCode == 422 && rateFlavored(upErr.Message):
		return failRateLimited
	case upErr.Transient():
		return failServerError
	case upErr.StatusCode == 400 || upErr.StatusCode == 409:
		return failCollision
	default:
		return failOther
	}
}

// rateFlavored 判断 422 的消息是否带限流语义。
func rateFlavored(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate") || strings.Contains(lower, "limit")
}

// retriableOnSameDomain 显式模式下允许换号重试的状态码。
func retriableOnSameDomain(status int) bool {
	switch status {
	case 400, 409, 422:
		return true
	}
	return false
}

// sleep 在 [min, max) 内随机退避，上下文取消时立即返回。
func (e *Engine) sleep(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// outcomeLabel 把开通结果折叠为指标标签。
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}

	var exhausted *domain.ProvisioningExhaustedError
	if errors.As(err, &exhausted) {
		if exhausted.MostlyRateLimited() {
			return "rate_limited"
		}
		return "exhausted"
	}

	var unknown *domain.UnknownDomainError
	if errors.As(err, &unknown) {
		return "unknown_domain"
	}

	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.Transient() {
		return "server_error"
	}
	return "other"
}

// randomLocalPart 生成 12 位随机本地部分。
func randomLocalPart() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// randomPassword 生成 16 位随机口令。
func randomPassword() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
