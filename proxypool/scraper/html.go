package scraper

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var linkSchemes = []string{"ss://", "ssr://", "vmess://", "vless://", "trojan://", "hysteria2://", "hy2://"}

// extractHTML 从 HTML 订阅页中提取 pre/code/textarea 的文本和代理协议链接。
func extractHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	var parts []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		parts = append(parts, s)
	}

	doc.Find("pre, code, textarea").Each(func(_ int, sel *goquery.Selection) {
		// code 嵌套在 pre 中时只取外层
		if goquery.NodeName(sel) == "code" && sel.ParentsFiltered("pre").Length() > 0 {
			return
		}
		add(sel.Text())
	})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if hasLinkScheme(href) {
			add(href)
		}
	})
	return strings.Join(parts, "\n"), nil
}

func hasLinkScheme(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, scheme := range linkSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
