package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"nodesieve/internal/shared/logger"
)

var (
	ErrTooLarge         = errors.New("subscription body exceeds size limit")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// FetchError 描述一次失败的订阅抓取。
type FetchError struct {
	Source     string
	StatusCode int // 0 表示请求本身失败
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubscriptionScraper 通过 HTTP GET 获取订阅文本。
type SubscriptionScraper struct {
	url    string
	opts   Options
	client *http.Client
}

// NewSubscriptionScraper 创建一个新的 SubscriptionScraper 实例。
func NewSubscriptionScraper(url string, opts Options) *SubscriptionScraper {
	maxRedirects := opts.MaxRedirects
	return &SubscriptionScraper{
		url:  url,
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}
}

// Name 返回订阅地址。
func (s *SubscriptionScraper) Name() string {
	return s.url
}

// Scrape 执行抓取操作。HTML 页面会被提炼为其中的链接和代码块文本。
func (s *SubscriptionScraper) Scrape(ctx context.Context) (string, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", &FetchError{Source: s.url, Err: err}
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		l.Warn().Err(err).Str("source", s.Name()).Msg("Failed to fetch subscription.")
		return "", &FetchError{Source: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		l.Warn().Int("status_code", resp.StatusCode).Str("source", s.Name()).Msg("Received non-success status code.")
		return "", &FetchError{Source: s.url, StatusCode: resp.StatusCode}
	}

	body, err := readLimited(resp.Body, s.opts.MaxBytes)
	if err != nil {
		return "", &FetchError{Source: s.url, Err: err}
	}

	text := string(body)
	if isHTML(resp.Header.Get("Content-Type")) {
		text, err = extractHTML(strings.NewReader(text))
		if err != nil {
			l.Warn().Err(err).Str("source", s.Name()).Msg("Failed to parse HTML document.")
			return "", &FetchError{Source: s.url, Err: err}
		}
	}

	l.Info().Int("bytes", len(text)).Str("source", s.Name()).Msg("Scrape finished.")
	return text, nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

// readLimited 读取至多 limit 字节，超出时报错而不是静默截断。
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return body, nil
}
