// Package region tags nodes with geographic regions using keyword and IP
// range heuristics.
package region

import (
	"context"
	"net/netip"

	"golang.org/x/sync/errgroup"

	"nodesieve/internal/shared/logger"
	"nodesieve/internal/shared/metrics"
	"nodesieve/proxypool/model"
)

// Classifier 判断节点属于哪些区域。关键词命中与 IP 段命中是“或”的关系；
// 解析失败的主机永远不会命中 IP 段，但关键词匹配照常进行。
type Classifier struct {
	resolver    Resolver
	concurrency int
	metrics     *metrics.Registry
}

func NewClassifier(resolver Resolver, concurrency int, reg *metrics.Registry) *Classifier {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Classifier{resolver: resolver, concurrency: concurrency, metrics: reg}
}

// Classify reports whether n belongs to r.
func (c *Classifier) Classify(ctx context.Context, n *model.Node, r Region) bool {
	if r.MatchKeyword(n) {
		return true
	}
	return r.Contains(c.resolve(ctx, n.Host))
}

func (c *Classifier) resolve(ctx context.Context, host string) []netip.Addr {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a}
	}
	if c.resolver == nil {
		return nil
	}
	addrs, err := c.resolver.Resolve(ctx, host)
	if err != nil {
		l := logger.WithComponent("ProxyPool/Region")
		l.Debug().Err(err).Str("host", host).Msg("Resolve failed, using host as-is.")
		return nil
	}
	return addrs
}

// Tag resolves every host with bounded concurrency, then appends region tags
// to the nodes in pool order. It returns one pool per region, in pool order
// and capped at the region's Limit.
func (c *Classifier) Tag(ctx context.Context, nodes []*model.Node, regions []Region) map[string][]*model.Node {
	l := logger.WithComponent("ProxyPool/Region")

	addrs := make([][]netip.Addr, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, n := range nodes {
		if !needsCIDR(n, regions) {
			continue
		}
		g.Go(func() error {
			addrs[i] = c.resolve(gctx, n.Host)
			return nil
		})
	}
	_ = g.Wait()

	pools := make(map[string][]*model.Node, len(regions))
	for _, r := range regions {
		pools[r.Name] = []*model.Node{}
	}
	for i, n := range nodes {
		for _, r := range regions {
			if r.MatchKeyword(n) || r.Contains(addrs[i]) {
				n.AddRegion(r.Name)
			}
		}
	}
	for _, r := range regions {
		pool := pools[r.Name]
		for _, n := range nodes {
			if r.Limit > 0 && len(pool) >= r.Limit {
				break
			}
			if n.HasRegion(r.Name) {
				pool = append(pool, n)
			}
		}
		pools[r.Name] = pool
		c.metrics.SetRegion(r.Name, len(pool))
		l.Info().Str("region", r.Name).Int("count", len(pool)).Int("limit", r.Limit).Msg("Region pool built.")
	}
	return pools
}

// needsCIDR 只有当某个区域需要 IP 段判断且关键词未命中时才去解析。
func needsCIDR(n *model.Node, regions []Region) bool {
	for _, r := range regions {
		if len(r.CIDRs) > 0 && !r.MatchKeyword(n) {
			return true
		}
	}
	return false
}
