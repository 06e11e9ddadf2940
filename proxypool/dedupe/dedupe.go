// Package dedupe collapses nodes that share the (host, port) identity key.
package dedupe

import (
	"errors"

	"nodesieve/proxypool/model"
)

// Dedupe 保留首次出现的节点，保持原有顺序。
// 缺少 host 或 port 的记录在计算键之前就被排除，并以对应原因报告。
func Dedupe(nodes []*model.Node) ([]*model.Node, []model.Skip) {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]*model.Node, 0, len(nodes))
	var skipped []model.Skip

	for _, n := range nodes {
		if n == nil {
			continue
		}
		if err := n.Validate(); err != nil {
			reason := model.SkipMissingPort
			if errors.Is(err, model.ErrMissingHost) {
				reason = model.SkipMissingHost
			}
			skipped = append(skipped, model.Skip{Reason: reason, Source: n.Source, Detail: err.Error(), Node: n})
			continue
		}

		key := n.Key()
		if _, dup := seen[key]; dup {
			skipped = append(skipped, model.Skip{Reason: model.SkipDuplicate, Source: n.Source, Detail: key, Node: n})
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out, skipped
}
