package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"

	"nodesieve/proxypool/model"
)

// Measurer 是注入到探测器中的测量能力。真实实现走网络，测试中替换为假实现。
type Measurer interface {
	// Handshake is stage 1: a bare connection handshake to host:port.
	Handshake(ctx context.Context, n *model.Node) (time.Duration, error)
	// Measure is stage 2: latency and throughput for one attempt.
	Measure(ctx context.Context, n *model.Node) (Sample, error)
}

var (
	errEmptySample = errors.New("test endpoint returned no body")
	errBadStatus   = errors.New("test endpoint returned non-success status")
)

// NetMeasurer 是基于真实网络的 Measurer。
type NetMeasurer struct {
	HandshakeTimeout time.Duration // 第一阶段超时
	RequestTimeout   time.Duration // 第二阶段单次尝试超时
	TestURL          string
	SampleBytes      int64  // 吞吐量采样的最大读取字节数
	ReferenceProxy   string // 可选的 SOCKS5 参考节点 host:port
	UserAgent        string
}

// NewNetMeasurer 使用默认值补齐未设置的字段。
func NewNetMeasurer(testURL, referenceProxy string) *NetMeasurer {
	return &NetMeasurer{
		HandshakeTimeout: 2 * time.Second,
		RequestTimeout:   5 * time.Second,
		TestURL:          testURL,
		SampleBytes:      4 << 20,
		ReferenceProxy:   referenceProxy,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// WithReference 返回一个经由 addr（SOCKS5）测量吞吐量的副本。
func (m *NetMeasurer) WithReference(addr string) Measurer {
	c := *m
	c.ReferenceProxy = addr
	return &c
}

func addrOf(n *model.Node) string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

func serverName(n *model.Node) string {
	if n.Transport.SNI != "" {
		return n.Transport.SNI
	}
	if n.Transport.Host != "" {
		return n.Transport.Host
	}
	return n.Host
}

// Handshake 对 TCP 协议做 TCP 建连，对 UDP 协议（hysteria2）做 QUIC 握手。
func (m *NetMeasurer) Handshake(ctx context.Context, n *model.Node) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, m.HandshakeTimeout)
	defer cancel()

	if n.Protocol.UDPBased() {
		if p, ok := n.Payload.(model.Hysteria2Payload); ok && p.Obfs != "" {
			// 混淆后的 QUIC 包无法被标准握手识别，只能探测端口是否被拒绝
			return m.udpReachable(ctx, n)
		}
		return m.quicHandshake(ctx, n)
	}

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addrOf(n))
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	conn.Close()
	return rtt, nil
}

func (m *NetMeasurer) quicHandshake(ctx context.Context, n *model.Node) (time.Duration, error) {
	start := time.Now()
	tlsConf := &tls.Config{
		ServerName:         serverName(n),
		InsecureSkipVerify: true, // 只测握手延迟
		NextProtos:         []string{"h3"},
		MinVersion:         tls.VersionTLS13,
	}
	quicConf := &quic.Config{
		HandshakeIdleTimeout: m.HandshakeTimeout,
		MaxIdleTimeout:       m.HandshakeTimeout,
	}
	conn, err := quic.DialAddr(ctx, addrOf(n), tlsConf, quicConf)
	if err != nil {
		return 0, fmt.Errorf("quic handshake: %w", err)
	}
	rtt := time.Since(start)
	_ = conn.CloseWithError(0, "probe complete")
	return rtt, nil
}

// udpReachable 发送一个字节并短暂等待：收到 ICMP 端口不可达即判定失败，超时视为可达。
func (m *NetMeasurer) udpReachable(ctx context.Context, n *model.Node) (time.Duration, error) {
	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addrOf(n))
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0}); err != nil {
		return 0, err
	}
	wait := m.HandshakeTimeout / 2
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		wait = time.Until(deadline)
	}
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return 0, err
		}
		// 无响应：只能给出发送耗时
		return max(time.Since(start)-wait, 0), nil
	}
	return time.Since(start), nil
}

// Measure 测量一次：延迟取节点 TLS（或 TCP）握手耗时，吞吐量取测试地址的有界下载速率。
func (m *NetMeasurer) Measure(ctx context.Context, n *model.Node) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, m.RequestTimeout)
	defer cancel()

	latency, err := m.handshakeRTT(ctx, n)
	if err != nil {
		return Sample{}, fmt.Errorf("latency: %w", err)
	}
	throughput, err := m.throughput(ctx)
	if err != nil {
		return Sample{Latency: latency}, fmt.Errorf("throughput: %w", err)
	}
	return Sample{Latency: latency, Throughput: throughput}, nil
}

func (m *NetMeasurer) handshakeRTT(ctx context.Context, n *model.Node) (time.Duration, error) {
	start := time.Now()
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addrOf(n))
	if err != nil {
		return 0, err
	}
	defer raw.Close()
	if !n.Transport.TLS {
		return time.Since(start), nil
	}

	uconn := utls.UClient(raw, &utls.Config{
		ServerName:         serverName(n),
		InsecureSkipVerify: true,
	}, utls.HelloChrome_Auto)
	if err := uconn.HandshakeContext(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (m *NetMeasurer) httpClient() (*http.Client, error) {
	transport := &http.Transport{
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: m.RequestTimeout,
	}
	if m.ReferenceProxy != "" {
		dialer, err := proxy.SOCKS5("tcp", m.ReferenceProxy, nil, &net.Dialer{Timeout: m.RequestTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
	}
	return &http.Client{Transport: transport, Timeout: m.RequestTimeout}, nil
}

func (m *NetMeasurer) throughput(ctx context.Context) (float64, error) {
	client, err := m.httpClient()
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.TestURL, nil)
	if err != nil {
		return 0, err
	}
	if m.UserAgent != "" {
		req.Header.Set("User-Agent", m.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	// 超时前已收到的字节同样计入样本
	read, err := io.CopyN(io.Discard, resp.Body, m.SampleBytes)
	if read == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		return 0, errEmptySample
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-6
	}
	return float64(read) / elapsed, nil
}
