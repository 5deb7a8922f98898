package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/proxy/internal/config"
	"tempmail/proxy/internal/domain"
	"tempmail/proxy/internal/logger"
)

// newTestClient 用极小的退避基数创建客户端，避免测试等待真实间隔。
func newTestClient(baseURL string) *Client {
	return NewClient(config.UpstreamConfig{
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
		SlowTimeout: 2 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}, logger.NewDevelopmentLogger())
}

func TestClient_Retry(t *testing.T) {
	t.Run("5xx重试后成功", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"a1","address":"x@a.com"}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		record, err := client.CreateAccount(context.Background(), "x@a.com", "secret")

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, "a1", record.ID)
	})

	t.Run("重试耗尽返回最后一次错误", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.CreateAccount(context.Background(), "x@a.com", "secret")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 503, upErr.StatusCode)
		assert.True(t, upErr.Transient())
		assert.Equal(t, 4, calls, "初次请求加三次重试")
	})

	t.Run("4xx不重试", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message":"address already used"}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.CreateAccount(context.Background(), "x@a.com", "secret")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 422, upErr.StatusCode)
		assert.False(t, upErr.Transient())
		assert.Equal(t, "address already used", upErr.Message)
		assert.Equal(t, 1, calls)
	})

	t.Run("网络失败归类为可重试", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // 立即关闭，触发连接失败

		client := newTestClient(server.URL)
		_, err := client.CreateAccount(context.Background(), "x@a.com", "secret")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 0, upErr.StatusCode)
		assert.True(t, upErr.Transient())
	})
}

func TestClient_Timeouts(t *testing.T) {
	t.Run("超过默认超时上限归类为timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		client := NewClient(config.UpstreamConfig{
			BaseURL:     server.URL,
			Timeout:     20 * time.Millisecond,
			SlowTimeout: 2 * time.Second,
			MaxRetries:  0,
			BackoffBase: time.Millisecond,
		}, logger.NewDevelopmentLogger())

		_, err := client.GetMessage(context.Background(), "tok", "m1")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, domain.UpstreamStatusTimeout, upErr.Status)
		assert.True(t, upErr.Timeout())
		assert.True(t, upErr.Transient())
	})

	t.Run("建号与取令牌走慢接口上限", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"a1","address":"x@a.com","token":"tok"}`))
		}))
		defer server.Close()

		client := NewClient(config.UpstreamConfig{
			BaseURL:     server.URL,
			Timeout:     20 * time.Millisecond,
			SlowTimeout: 2 * time.Second,
			MaxRetries:  0,
			BackoffBase: time.Millisecond,
		}, logger.NewDevelopmentLogger())

		// 同一台慢服务器：慢接口在宽松上限内成功
		record, err := client.CreateAccount(context.Background(), "x@a.com", "secret")
		require.NoError(t, err)
		assert.Equal(t, "a1", record.ID)

		token, err := client.GetToken(context.Background(), "x@a.com", "secret")
		require.NoError(t, err)
		assert.Equal(t, "tok", token.Token)

		// 普通接口仍受默认上限约束
		_, err = client.GetMessage(context.Background(), "tok", "m1")
		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.True(t, upErr.Timeout())
	})

	t.Run("退避等待期间取消传播取消原因", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewClient(config.UpstreamConfig{
			BaseURL:     server.URL,
			Timeout:     time.Second,
			SlowTimeout: time.Second,
			MaxRetries:  3,
			BackoffBase: time.Second,
		}, logger.NewDevelopmentLogger())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.GetMessage(ctx, "tok", "m1")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_Normalize(t *testing.T) {
	t.Run("HTML错误页不透出给调用方", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`<html><body>Proxy Error Code: 87 ID: xj2k</body></html>`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.CreateAccount(context.Background(), "x@a.com", "secret")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.NotContains(t, upErr.Message, "<html>")
		assert.NotContains(t, upErr.Message, "Code:")
		// 原始片段仍保留给日志
		assert.Contains(t, upErr.Snippet, "Proxy Error")
	})

	t.Run("5xx使用固定的不可用消息", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("stack trace: goroutine 12 panic at worker.go"))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.GetMessage(context.Background(), "tok", "m1")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, "上游邮件服务暂时不可用，请稍后重试", upErr.Message)
	})

	t.Run("not found启发式映射到资源失效消息", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"no such message"}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.GetMessage(context.Background(), "tok", "m1")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, "请求的资源不存在或已失效", upErr.Message)
	})

	t.Run("过长的消息被截断", func(t *testing.T) {
		long := strings.Repeat("a", 2000)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"` + long + `"}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.CreateAccount(context.Background(), "x@a.com", "secret")

		var upErr *domain.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.LessOrEqual(t, len(upErr.Message), maxSnippetBytes+len("..."))
	})
}

func TestClient_Endpoints(t *testing.T) {
	t.Run("域名列表兼容hydra包装", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/domains", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"hydra:member":[{"domain":"a.com","isActive":true},"b.net"]}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		entries, err := client.ListDomains(context.Background())

		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("邮件列表丢弃坏条目并携带令牌", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"m1","subject":"hi"},{"subject":"no id"},42]`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		summaries, err := client.ListMessages(context.Background(), "tok-1")

		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, "m1", summaries[0].ID)
	})

	t.Run("邮件详情兼容字符串与数组HTML", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"m1","from":"bare@addr.com","html":["<p>","hi","</p>"]}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		detail, err := client.GetMessage(context.Background(), "tok", "m1")

		require.NoError(t, err)
		assert.Equal(t, "bare@addr.com", detail.From.Address)
		assert.Equal(t, Fragments{"<p>", "hi", "</p>"}, detail.HTML)
	})
}
