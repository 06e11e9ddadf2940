package ranker

import (
	"sort"

	"nodesieve/proxypool/model"
)

// Rank 过滤掉零分节点，按分数降序稳定排序后截取前 topN 个。
// 同分节点按 Seq（发现顺序）排列，Seq 相同时保持输入顺序。输入切片不会被修改。
func Rank(nodes []*model.Node, topN int) []*model.Node {
	if topN <= 0 {
		return []*model.Node{}
	}

	scored := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil && n.Score() > 0 {
			scored = append(scored, n)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := scored[i].Score(), scored[j].Score()
		if si != sj {
			return si > sj
		}
		return scored[i].Seq < scored[j].Seq
	})

	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}
