package subscription

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodesieve/proxypool/model"
)

const clashDoc = `
port: 7890
proxies:
  - name: "first"
    type: ss
    server: 1.2.3.4
    port: 443
    cipher: aes-128-gcm
    password: pw
  - name: "second"
    type: trojan
    server: 1.2.3.4
    port: "443"
    password: pw2
  - name: "ws vmess"
    type: vmess
    server: v.example.com
    port: 8443
    uuid: b831381d-6324-4d53-ad4f-8cda48b30811
    alterId: 0
    network: ws
    tls: true
    ws-opts:
      path: /ray
      headers:
        Host: cdn.example.com
    udp: true
  - just a string
  - name: "no type"
    server: 5.6.7.8
    port: 80
`

func TestParse_Structured(t *testing.T) {
	res := Parse("sub-a", clashDoc)

	require.Len(t, res.Nodes, 4)
	assert.Equal(t, "first", res.Nodes[0].Name)
	assert.Equal(t, model.ProtoShadowsocks, res.Nodes[0].Protocol)
	assert.Equal(t, 443, res.Nodes[1].Port, "quoted port is accepted")

	vm := res.Nodes[2]
	assert.Equal(t, model.Transport{Network: "ws", TLS: true, Security: "tls", Path: "/ray", Host: "cdn.example.com"}, vm.Transport)
	assert.Equal(t, 1, res.UnknownKeys["udp"])

	assert.Equal(t, model.ProtoUnknown, res.Nodes[3].Protocol)
	assert.Equal(t, "5.6.7.8", res.Nodes[3].Host)

	for i, n := range res.Nodes {
		assert.Equal(t, "sub-a", n.Source)
		assert.Equal(t, i, n.Seq)
	}

	reasons := map[model.SkipReason]int{}
	for _, s := range res.Skipped {
		reasons[s.Reason]++
	}
	assert.Equal(t, map[model.SkipReason]int{model.SkipNotMapping: 1, model.SkipDegraded: 1}, reasons)
}

func TestParse_EmptyAndBroken(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason model.SkipReason
	}{
		{name: "empty", text: "", reason: model.SkipEmptyDocument},
		{name: "whitespace", text: " \n\t\n", reason: model.SkipEmptyDocument},
		{name: "bad yaml", text: "proxies:\n  - name: [unclosed\n", reason: model.SkipUnparseableDocument},
		{name: "empty proxies", text: "proxies: []\n", reason: model.SkipEmptyDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse("s", tt.text)
			assert.Empty(t, res.Nodes)
			require.Len(t, res.Skipped, 1)
			assert.Equal(t, tt.reason, res.Skipped[0].Reason)
		})
	}
}

func TestLooksStructured(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "leading proxies", text: "proxies:\n  - {name: a}\n", want: true},
		{name: "legacy Proxy key", text: "port: 7890\nProxy:\n  - {name: a}\n", want: true},
		{name: "proxies after other keys", text: "port: 7890\nmode: rule\nproxies:\n  - {name: a}\n", want: true},
		{name: "inline flow mapping", text: "{port: 7890, proxies: [{name: a, type: ss, server: h, port: 1}]}", want: true},
		{name: "links", text: "trojan://pw@a.example.com:443#A\n", want: false},
		{name: "base64 blob", text: base64.StdEncoding.EncodeToString([]byte("trojan://pw@a:1")), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, looksStructured(tt.text))
		})
	}
}

func TestParse_StructuredInlineDocument(t *testing.T) {
	res := Parse("inline", "{port: 7890, proxies: [{name: a, type: trojan, server: h.example.com, port: 443, password: pw}]}")
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "h.example.com", res.Nodes[0].Host)
	assert.Equal(t, model.TrojanPayload{Password: "pw"}, res.Nodes[0].Payload)
}

func TestParse_Lines(t *testing.T) {
	vmess := "vmess://" + base64.StdEncoding.EncodeToString([]byte(`{"ps":"N","add":"h","port":"443","id":"u"}`))
	doc := strings.Join([]string{
		"# comment",
		vmess,
		"",
		"trojan://pw@t.example.com:443#T",
		"vmess://" + base64.StdEncoding.EncodeToString([]byte("garbage")),
	}, "\n")

	res := Parse("links", doc)
	require.Len(t, res.Nodes, 3)
	assert.Equal(t, "N", res.Nodes[0].Name)
	assert.Equal(t, "T", res.Nodes[1].Name)
	assert.Equal(t, model.ProtoUnknown, res.Nodes[2].Protocol)
	assert.Equal(t, "garbage", res.Nodes[2].Host)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, model.SkipDegraded, res.Skipped[0].Reason)
	assert.Equal(t, 5, res.Skipped[0].Line)
	assert.Same(t, res.Nodes[2], res.Skipped[0].Node)
}

func TestParse_WholeDocumentBase64(t *testing.T) {
	inner := "trojan://pw@a.example.com:443#A\ntrojan://pw@b.example.com:443#B\n"
	// 按 76 列折行，模拟常见订阅输出
	enc := base64.StdEncoding.EncodeToString([]byte(inner))
	var folded strings.Builder
	for len(enc) > 76 {
		folded.WriteString(enc[:76] + "\n")
		enc = enc[76:]
	}
	folded.WriteString(enc)

	res := Parse("b64", folded.String())
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "a.example.com", res.Nodes[0].Host)
	assert.Equal(t, "b.example.com", res.Nodes[1].Host)
	assert.Empty(t, res.Skipped)
}

func TestParser_SeqContinuesAcrossDocuments(t *testing.T) {
	p := NewParser(nil)
	a := p.Parse("a", "trojan://pw@a.example.com:443")
	b := p.Parse("b", "trojan://pw@b.example.com:443")
	require.Len(t, a.Nodes, 1)
	require.Len(t, b.Nodes, 1)
	assert.Equal(t, 0, a.Nodes[0].Seq)
	assert.Equal(t, 1, b.Nodes[0].Seq)
}
