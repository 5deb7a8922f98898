package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmail/proxy/internal/config"
	"tempmail/proxy/internal/domain"
)

// maxSnippetBytes 日志与错误中保留的原始响应片段上限。
const maxSnippetBytes = 512

// Client 是对上游邮箱供应商 HTTP API 的底层请求执行器。
//
// 负责单次请求的超时、重试退避与错误规范化策略；
// 上层组件（目录、配额引擎、注册表）只通过类型化端点使用它。
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         *zap.Logger
	maxRetries  int
	backoffBase time.Duration
	timeout     time.Duration
	slowTimeout time.Duration
}

// NewClient 创建上游客户端。
func NewClient(cfg config.UpstreamConfig, log *zap.Logger) *Client {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{},
		limiter:     rate.NewLimiter(limit, burst),
		log:         log,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		timeout:     cfg.Timeout,
		slowTimeout: cfg.SlowTimeout,
	}
}

// requestOptions 控制单次请求的执行参数。
type requestOptions struct {
	token string // 非空时以 Bearer 方式携带
	slow  bool   // 使用慢接口超时上限（建号/取令牌）
}

// do 执行一次上游请求并把 2xx 响应体解码到 out。
//
// 仅对 5xx、网络失败与超时重试，最多 maxRetries 次，
// 退避 min(base*2^n, 5*base)；4xx 一律不在本层重试。
// 失败时返回 *domain.UpstreamError，消息已经过规范化。
func (c *Client) do(ctx context.Context, method, path string, opts requestOptions, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	timeout := c.timeout
	if opts.slow {
		timeout = c.slowTimeout
	}

	var lastErr *domain.UpstreamError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt-1); err != nil {
				// 取消原因必须对调用方可见，不被最后一次上游错误吞掉
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, err)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return c.timeoutError(path, err)
		}

		uerr := c.once(ctx, method, path, opts, payload, timeout, out)
		if uerr == nil {
			return nil
		}
		lastErr = uerr

		c.log.Warn("upstream request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", uerr.StatusCode),
			zap.String("class", uerr.Status),
			zap.Int("attempt", attempt),
			zap.String("body", uerr.Snippet),
		)

		if !uerr.Transient() {
			return uerr
		}
	}
	return lastErr
}

// once 执行单次 HTTP 往返。
func (c *Client) once(ctx context.Context, method, path string, opts requestOptions, payload []byte, timeout time.Duration, out interface{}) *domain.UpstreamError {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &domain.UpstreamError{
			Status:  domain.UpstreamStatusError,
			Message: msgGenericFailure,
			Snippet: err.Error(),
		}
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.timeoutError(path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			// 上游偶发返回非 JSON 的 2xx 响应体，视为空数据
			c.log.Debug("upstream returned non-JSON success body",
				zap.String("path", path),
				zap.String("body", snippet(raw)),
			)
		}
	}
	return nil
}

// timeoutError 把网络层失败归类为超时或一般错误。
func (c *Client) timeoutError(path string, err error) *domain.UpstreamError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.UpstreamError{
			Status:  domain.UpstreamStatusTimeout,
			Message: msgUpstreamUnavailable,
			Snippet: err.Error(),
		}
	}
	return &domain.UpstreamError{
		Status:  domain.UpstreamStatusError,
		Message: msgUpstreamUnavailable,
		Snippet: err.Error(),
	}
}

// wait 按指数退避等待下一次重试，上限为 5 倍基数。
func (c *Client) wait(ctx context.Context, attempt int) error {
	delay := c.backoffBase << attempt
	if max := 5 * c.backoffBase; delay > max {
		delay = max
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
