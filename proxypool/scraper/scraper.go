package scraper

import (
	"context"
	"strings"
	"time"
)

// Scraper 定义了获取一个订阅源原始文本的行为。
// 实现者只负责获取文本，不做解析。
type Scraper interface {
	// Scrape 返回订阅源的文档文本。
	Scrape(ctx context.Context) (string, error)

	// Name 返回订阅源的名称，用于日志记录和节点来源标记。
	Name() string
}

// Options 是所有抓取器共享的限制。
type Options struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	UserAgent    string
}

// DefaultOptions 返回默认限制：20 秒超时，8 MiB 正文，5 次重定向。
func DefaultOptions() Options {
	return Options{
		Timeout:      20 * time.Second,
		MaxBytes:     8 << 20,
		MaxRedirects: 5,
		UserAgent:    "ClashForAndroid/2.5.12",
	}
}

// New 按来源标识选择抓取器：http(s) 地址走网络，其余视为本地文件路径。
func New(source string, opts Options) Scraper {
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return NewSubscriptionScraper(source, opts)
	}
	return NewFileScraper(strings.TrimPrefix(source, "file://"), opts.MaxBytes)
}
