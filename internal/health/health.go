package health

import (
	"context"
	"time"

	"github.com/heptiolabs/healthcheck"

	"tempmail/proxy/internal/catalog"
)

// 就绪检查里目录访问的超时上限。
const catalogCheckTimeout = 3 * time.Second

// NewHandler 组装存活与就绪检查。
//
// 存活检查只看进程自身的协程规模；就绪检查要求域名目录可供应，
// 目录命中缓存即算就绪，不强制往返上游。
func NewHandler(cat *catalog.Catalog, goroutineThreshold int) healthcheck.Handler {
	handler := healthcheck.NewHandler()

	handler.AddLivenessCheck("goroutine-count",
		healthcheck.GoroutineCountCheck(goroutineThreshold))

	handler.AddReadinessCheck("domain-catalog", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), catalogCheckTimeout)
		defer cancel()

		_, err := cat.ListDomains(ctx)
		return err
	})

	return handler
}
