package subscription

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"nodesieve/internal/shared/logger"
	"nodesieve/proxypool/codec"
	"nodesieve/proxypool/model"
)

// Result 是解析单个订阅文档的结果。
// Skipped 同时记录被丢弃的条目和被降级为 unknown 但仍保留在 Nodes 中的条目。
type Result struct {
	Nodes   []*model.Node
	Skipped []model.Skip
	// UnknownKeys counts structured-entry keys the codec does not model.
	UnknownKeys map[string]int
}

// Parser turns fetched document text into nodes. It never fails: every
// problem is reported as a typed skip.
type Parser struct {
	registry *codec.Registry
	seq      int
}

// NewParser 创建解析器。seq 在多次 Parse 调用之间持续递增，作为全局发现顺序，
// 因此同一个 Parser 不能并发使用。
func NewParser(registry *codec.Registry) *Parser {
	if registry == nil {
		registry = codec.NewRegistry()
	}
	return &Parser{registry: registry}
}

// Parse 识别文档形态（结构化 YAML 或逐行链接），然后逐条交给 codec 解码。
// 单条失败不会中断其余条目的处理。
func (p *Parser) Parse(source, text string) Result {
	res := Result{UnknownKeys: map[string]int{}}
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		res.Skipped = append(res.Skipped, model.Skip{Reason: model.SkipEmptyDocument, Source: source})
		return res
	}

	if looksStructured(text) {
		p.parseStructured(source, text, &res)
	} else {
		p.parseLines(source, text, &res)
	}

	l := logger.WithComponent("ProxyPool/Parser")
	l.Debug().
		Str("source", source).
		Int("nodes", len(res.Nodes)).
		Int("skipped", len(res.Skipped)).
		Msg("Document parsed.")
	return res
}

// Parse is a convenience wrapper using the default registry.
func Parse(source, text string) Result {
	return NewParser(nil).Parse(source, text)
}

// looksStructured 是廉价的文本探测：文档中任意位置出现 proxies:，
// 或某一行以 Proxy: 开头，即视为 Clash 文档。
func looksStructured(text string) bool {
	if strings.Contains(text, "proxies:") {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Proxy:") {
			return true
		}
	}
	return false
}

type clashDocument struct {
	Proxies []yaml.Node `yaml:"proxies"`
	Proxy   []yaml.Node `yaml:"Proxy"`
}

func (p *Parser) parseStructured(source, text string, res *Result) {
	l := logger.WithComponent("ProxyPool/Parser")

	var doc clashDocument
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		l.Warn().Err(err).Str("source", source).Msg("Structured document could not be parsed.")
		res.Skipped = append(res.Skipped, model.Skip{
			Reason: model.SkipUnparseableDocument,
			Source: source,
			Detail: err.Error(),
		})
		return
	}

	entries := doc.Proxies
	if len(entries) == 0 {
		entries = doc.Proxy
	}
	if len(entries) == 0 {
		res.Skipped = append(res.Skipped, model.Skip{Reason: model.SkipEmptyDocument, Source: source, Detail: "no proxies"})
		return
	}

	for i := range entries {
		entry := &entries[i]
		if entry.Kind != yaml.MappingNode {
			res.Skipped = append(res.Skipped, model.Skip{
				Reason: model.SkipNotMapping,
				Source: source,
				Line:   entry.Line,
				Detail: fmt.Sprintf("entry %d is not a mapping", i),
			})
			continue
		}

		var cp codec.ClashProxy
		if err := entry.Decode(&cp); err != nil {
			res.Skipped = append(res.Skipped, model.Skip{
				Reason: model.SkipMalformedEntry,
				Source: source,
				Line:   entry.Line,
				Detail: err.Error(),
			})
			continue
		}

		n, unknown := codec.FromClash(&cp)
		if len(unknown) > 0 {
			for _, k := range unknown {
				res.UnknownKeys[k]++
			}
			l.Debug().Str("source", source).Int("line", entry.Line).Strs("keys", unknown).Msg("Ignoring unknown keys on entry.")
		}
		p.keep(source, n, res)
		if n.Protocol == model.ProtoUnknown {
			res.Skipped = append(res.Skipped, model.Skip{
				Reason: model.SkipDegraded,
				Source: source,
				Line:   entry.Line,
				Detail: fmt.Sprintf("unsupported type %q", cp.Type),
				Node:   n,
			})
		}
	}
}

func (p *Parser) parseLines(source, text string, res *Result) {
	l := logger.WithComponent("ProxyPool/Parser")

	// 整个订阅本身就是一段 base64（最常见的订阅格式）
	if !strings.Contains(text, "://") {
		if decoded, err := codec.DecodeBase64(text); err == nil && strings.Contains(decoded, "://") {
			text = decoded
		}
	}

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n, err := p.registry.DecodeLink(line)
		p.keep(source, n, res)
		if err != nil {
			l.Debug().Err(err).Str("source", source).Int("line", i+1).Msg("Link degraded to unknown.")
			res.Skipped = append(res.Skipped, model.Skip{
				Reason: model.SkipDegraded,
				Source: source,
				Line:   i + 1,
				Detail: err.Error(),
				Node:   n,
			})
		}
	}
}

func (p *Parser) keep(source string, n *model.Node, res *Result) {
	n.Source = source
	n.Seq = p.seq
	p.seq++
	res.Nodes = append(res.Nodes, n)
}
