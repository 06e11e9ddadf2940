package region

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
)

// Resolver 将主机名解析为 IP 地址。
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

var ErrNoAddress = errors.New("no address records")

type cacheEntry struct {
	addrs []netip.Addr
	err   error
}

// DNSResolver 通过 miekg/dns 查询 A/AAAA 记录；未配置服务器时退回系统解析器。
// 成功和失败的结果都会缓存，避免对同一个域名重复查询。
type DNSResolver struct {
	server  string
	timeout time.Duration
	client  *dns.Client
	system  *net.Resolver
	cache   *expirable.LRU[string, cacheEntry]
}

// NewDNSResolver creates a resolver. server is "host:port" or empty for the
// system resolver; a missing port defaults to 53.
func NewDNSResolver(server string, timeout time.Duration, cacheSize int, ttl time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	if server != "" {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
	}
	return &DNSResolver{
		server:  server,
		timeout: timeout,
		client:  &dns.Client{Timeout: timeout},
		system:  net.DefaultResolver,
		cache:   expirable.NewLRU[string, cacheEntry](cacheSize, nil, ttl),
	}
}

// Resolve 对 IP 字面量直接返回，不发起查询。
func (r *DNSResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a.Unmap()}, nil
	}
	if e, ok := r.cache.Get(host); ok {
		return e.addrs, e.err
	}

	var addrs []netip.Addr
	var err error
	if r.server == "" {
		addrs, err = r.lookupSystem(ctx, host)
	} else {
		addrs, err = r.lookupDNS(ctx, host)
	}
	// 上下文取消不是域名本身的问题，不缓存
	if ctx.Err() == nil {
		r.cache.Add(host, cacheEntry{addrs: addrs, err: err})
	}
	return addrs, err
}

func (r *DNSResolver) lookupSystem(ctx context.Context, host string) ([]netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ips, err := r.system.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, a := range ips {
		out = append(out, a.Unmap())
	}
	if len(out) == 0 {
		return nil, ErrNoAddress
	}
	return out, nil
}

func (r *DNSResolver) lookupDNS(ctx context.Context, host string) ([]netip.Addr, error) {
	var out []netip.Addr
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dns %s: %s", dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(v.A); ok {
					out = append(out, a.Unmap())
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(v.AAAA); ok {
					out = append(out, a)
				}
			}
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoAddress
}
