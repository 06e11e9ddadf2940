package model

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Protocol 是节点协议族的标签。
type Protocol string

const (
	ProtoShadowsocks  Protocol = "ss"
	ProtoShadowsocksR Protocol = "ssr"
	ProtoVmess        Protocol = "vmess"
	ProtoVless        Protocol = "vless"
	ProtoTrojan       Protocol = "trojan"
	ProtoHysteria2    Protocol = "hysteria2"
	ProtoUnknown      Protocol = "unknown"
)

var protocolAliases = map[string]Protocol{
	"ss":          ProtoShadowsocks,
	"shadowsocks": ProtoShadowsocks,
	"ssr":         ProtoShadowsocksR,
	"vmess":       ProtoVmess,
	"vless":       ProtoVless,
	"trojan":      ProtoTrojan,
	"trojan-go":   ProtoTrojan,
	"trojan-tls":  ProtoTrojan,
	"hysteria2":   ProtoHysteria2,
	"hy2":         ProtoHysteria2,
}

// ParseProtocol maps a scheme or Clash "type" value onto a Protocol.
// Matching is case-insensitive; anything unrecognised is ProtoUnknown.
func ParseProtocol(s string) Protocol {
	if p, ok := protocolAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p
	}
	return ProtoUnknown
}

// UDPBased reports whether the protocol runs over UDP (QUIC) and therefore has
// no TCP handshake or HTTP-style test path.
func (p Protocol) UDPBased() bool {
	return p == ProtoHysteria2
}

var (
	ErrMissingHost = errors.New("node has empty host")
	ErrMissingPort = errors.New("node has no port")
)

// Transport 描述节点的传输层选项。
type Transport struct {
	Network  string `json:"network,omitempty"`  // tcp, ws, grpc ...
	TLS      bool   `json:"tls,omitempty"`      // 是否启用 TLS
	Security string `json:"security,omitempty"` // tls, reality, none
	SNI      string `json:"sni,omitempty"`
	Path     string `json:"path,omitempty"` // WebSocket 路径
	Host     string `json:"host,omitempty"` // WebSocket Host 请求头
}

// Node is the normalized descriptor of one proxy endpoint.
//
// Host and Port form the identity key and are fixed once the parser creates the
// record. Regions is written only by the region classifier and Metrics only by
// the prober; everything downstream treats the node as read-only.
type Node struct {
	Protocol  Protocol  `json:"type"`
	Name      string    `json:"name"`
	Host      string    `json:"server"`
	Port      int       `json:"port"`
	Payload   Payload   `json:"-"`
	Transport Transport `json:"transport"`

	Regions []string `json:"regions,omitempty"`
	Metrics *Metrics `json:"metrics,omitempty"`

	Source string `json:"source,omitempty"` // 来源订阅，仅供参考
	Seq    int    `json:"-"`                // 发现顺序，排序时作为平局裁决
}

// Key returns the identity key "host:port".
func (n *Node) Key() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Validate checks the identity fields required for a node to enter the pool.
func (n *Node) Validate() error {
	if strings.TrimSpace(n.Host) == "" {
		return ErrMissingHost
	}
	if n.Port <= 0 || n.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrMissingPort, n.Port)
	}
	return nil
}

// AddRegion appends a region tag. Tags are never removed; repeats are ignored.
func (n *Node) AddRegion(tag string) {
	for _, r := range n.Regions {
		if r == tag {
			return
		}
	}
	n.Regions = append(n.Regions, tag)
}

// HasRegion reports whether the node was tagged with the region.
func (n *Node) HasRegion(tag string) bool {
	for _, r := range n.Regions {
		if r == tag {
			return true
		}
	}
	return false
}

// Score returns the probe score, 0 when the node has not been probed.
func (n *Node) Score() float64 {
	if n.Metrics == nil {
		return 0
	}
	return n.Metrics.Score
}

// DisplayName returns Name, or "<protocol>-<host:port>" when Name is blank.
func (n *Node) DisplayName() string {
	if name := strings.TrimSpace(n.Name); name != "" {
		return name
	}
	return fmt.Sprintf("%s-%s", n.Protocol, n.Key())
}

// Metrics 是探测阶段写入的测量结果。
type Metrics struct {
	LatencyMS  float64 `json:"latency_ms"`
	Throughput float64 `json:"throughput"` // bytes/s
	Reachable  bool    `json:"reachable"`
	Score      float64 `json:"score"`
	Attempts   int     `json:"attempts,omitempty"`
	Failure    string  `json:"failure,omitempty"`
}
