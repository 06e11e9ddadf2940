package export

import (
	"encoding/base64"
	"strings"

	"nodesieve/internal/shared/logger"
	"nodesieve/proxypool/codec"
	"nodesieve/proxypool/model"
)

// Bundle 将排名节点编码为链接，按行拼接后整体 base64。
// 无法编码的节点不进入链接包，以 SkipUnencodable 返回。
func Bundle(ranked []*model.Node, reg *codec.Registry) (string, []model.Skip) {
	l := logger.WithComponent("ProxyPool/Export")
	if reg == nil {
		reg = codec.NewRegistry()
	}

	var skipped []model.Skip
	lines := make([]string, 0, len(ranked))
	for _, n := range ranked {
		link, err := reg.EncodeLink(n)
		if err != nil {
			skipped = append(skipped, model.Skip{
				Reason: model.SkipUnencodable,
				Source: n.Source,
				Detail: err.Error(),
				Node:   n,
			})
			continue
		}
		lines = append(lines, link)
	}

	if len(skipped) > 0 {
		l.Debug().Int("omitted", len(skipped)).Msg("Some ranked nodes have no link form.")
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n"))), skipped
}
