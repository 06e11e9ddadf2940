package scraper

import (
	"context"
	"os"

	"nodesieve/internal/shared/logger"
)

// FileScraper 从本地文件读取订阅文本。
type FileScraper struct {
	path     string
	maxBytes int64
}

func NewFileScraper(path string, maxBytes int64) *FileScraper {
	return &FileScraper{path: path, maxBytes: maxBytes}
}

func (s *FileScraper) Name() string {
	return s.path
}

func (s *FileScraper) Scrape(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &FetchError{Source: s.path, Err: err}
	}
	f, err := os.Open(s.path)
	if err != nil {
		return "", &FetchError{Source: s.path, Err: err}
	}
	defer f.Close()

	body, err := readLimited(f, s.maxBytes)
	if err != nil {
		return "", &FetchError{Source: s.path, Err: err}
	}
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Debug().Str("source", s.path).Int("bytes", len(body)).Msg("Read local subscription.")
	return string(body), nil
}
