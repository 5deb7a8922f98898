package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// UpstreamConfig 定义上游邮箱供应商的访问配置
type UpstreamConfig struct {
	BaseURL     string        // 上游 API 根地址
	Timeout     time.Duration // 常规请求超时上限，默认 10s
	SlowTimeout time.Duration // 慢接口（建号/取令牌）超时上限，默认 25s
	MaxRetries  int           // 5xx/网络失败的最大重试次数，默认 3
	BackoffBase time.Duration // 重试退避基数，延迟 = min(base*2^n, 5*base)
	RateLimit   float64       // 对上游的请求速率上限（次/秒），默认 20
	RateBurst   int           // 速率限制突发额度，默认 10
}

// CatalogConfig 定义域名目录的缓存与优选配置
type CatalogConfig struct {
	CacheTTL         time.Duration // 目录缓存有效期，默认 10 分钟
	PreferredDomains []string      // 优选域名允许列表（不区分大小写）
	PriorityDomains  []string      // 固定优先顺序，整体移动到试探序列最前
}

// MailboxConfig 定义邮箱注册表的生命周期配置
type MailboxConfig struct {
	TTL             time.Duration // 邮箱生存时间，默认 15 分钟
	SweepInterval   time.Duration // 过期清扫间隔，默认 60s
	MaxTrialDomains int           // 单次开通最多试探的域名数，默认 15
}

// AuthConfig 定义邮箱访问令牌的签发配置
type AuthConfig struct {
	Secret   string        // HMAC 签名密钥；留空时进程启动时随机生成
	Issuer   string        // 令牌签发者标识
	TokenTTL time.Duration // 访问令牌有效期，默认 24h
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Catalog  CatalogConfig
	Mailbox  MailboxConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
}

// 历史上表现最稳定的八个域名，按固定优先顺序排列。
// 试探序列构建时它们整体置前，与目录返回顺序无关。
var defaultPriorityDomains = []string{
	"indigobook.com",
	"fastmailer.org",
	"dropbase.net",
	"mailhaven.cc",
	"bluepost.io",
	"tmpbox.net",
	"quickinbox.org",
	"lettercove.com",
}

// 默认优选允许列表：优先域名加上若干次级可靠域名。
var defaultPreferredDomains = append(append([]string{}, defaultPriorityDomains...),
	"paperplane.cc",
	"mistmail.net",
	"cloudletter.org",
	"greyarc.com",
)

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAIL_
// 例如: TEMPMAIL_UPSTREAM_BASE_URL, TEMPMAIL_MAILBOX_TTL
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("tempmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("upstream.base_url", "https://api.mail.tm")
	viper.SetDefault("upstream.timeout", "10s")
	viper.SetDefault("upstream.slow_timeout", "25s")
	viper.SetDefault("upstream.max_retries", 3)
	viper.SetDefault("upstream.backoff_base", "1s")
	viper.SetDefault("upstream.rate_limit", 20.0)
	viper.SetDefault("upstream.rate_burst", 10)
	viper.SetDefault("catalog.cache_ttl", "10m")
	viper.SetDefault("catalog.preferred_domains", strings.Join(defaultPreferredDomains, ","))
	viper.SetDefault("catalog.priority_domains", strings.Join(defaultPriorityDomains, ","))
	viper.SetDefault("mailbox.ttl", "15m")
	viper.SetDefault("mailbox.sweep_interval", "60s")
	viper.SetDefault("mailbox.max_trial_domains", 15)
	viper.SetDefault("auth.secret", "")
	viper.SetDefault("auth.issuer", "tempmail-proxy")
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)

	baseURL := strings.TrimRight(viper.GetString("upstream.base_url"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("upstream.base_url must not be empty")
	}

	timeout, err := time.ParseDuration(viper.GetString("upstream.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream.timeout: %w", err)
	}
	slowTimeout, err := time.ParseDuration(viper.GetString("upstream.slow_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream.slow_timeout: %w", err)
	}
	backoffBase, err := time.ParseDuration(viper.GetString("upstream.backoff_base"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream.backoff_base: %w", err)
	}

	cacheTTL, err := time.ParseDuration(viper.GetString("catalog.cache_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid catalog.cache_ttl: %w", err)
	}

	mailboxTTL, err := time.ParseDuration(viper.GetString("mailbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.ttl: %w", err)
	}
	sweepInterval, err := time.ParseDuration(viper.GetString("mailbox.sweep_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.sweep_interval: %w", err)
	}

	tokenTTL, err := time.ParseDuration(viper.GetString("auth.token_ttl"))
	if err != nil {
		tokenTTL = 24 * time.Hour
	}

	maxTrial := viper.GetInt("mailbox.max_trial_domains")
	if maxTrial <= 0 {
		maxTrial = 15
	}

	maxRetries := viper.GetInt("upstream.max_retries")
	if maxRetries < 0 {
		maxRetries = 0
	}

	preferred := parseDomains(viper.GetString("catalog.preferred_domains"))
	priority := parseDomains(viper.GetString("catalog.priority_domains"))

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Upstream: UpstreamConfig{
			BaseURL:     baseURL,
			Timeout:     timeout,
			SlowTimeout: slowTimeout,
			MaxRetries:  maxRetries,
			BackoffBase: backoffBase,
			RateLimit:   viper.GetFloat64("upstream.rate_limit"),
			RateBurst:   viper.GetInt("upstream.rate_burst"),
		},
		Catalog: CatalogConfig{
			CacheTTL:         cacheTTL,
			PreferredDomains: preferred,
			PriorityDomains:  priority,
		},
		Mailbox: MailboxConfig{
			TTL:             mailboxTTL,
			SweepInterval:   sweepInterval,
			MaxTrialDomains: maxTrial,
		},
		Auth: AuthConfig{
			Secret:   viper.GetString("auth.secret"),
			Issuer:   viper.GetString("auth.issuer"),
			TokenTTL: tokenTTL,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 先尝试当前目录，再尝试父目录；文件不存在时静默跳过，
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
