package codec

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"nodesieve/proxypool/model"
)

// uriCodec handles the URI-shaped families:
//
//	scheme://credential@host:port?type=ws&security=tls&path=/p&host=h&sni=s#name
type uriCodec struct {
	proto  model.Protocol
	scheme string
}

func newURICodec(p model.Protocol, scheme string) uriCodec {
	return uriCodec{proto: p, scheme: scheme}
}

func (c uriCodec) Protocol() model.Protocol { return c.proto }

func (c uriCodec) Decode(payload string) (*model.Node, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, decodeErr(c.proto, KindShape, payload, errEmptyPayload)
	}
	if !strings.Contains(payload, "@") {
		// 部分订阅把整段 URI 主体再做一次 base64
		body, name := splitFragment(payload)
		decoded, err := DecodeBase64(body)
		if err != nil {
			return nil, decodeErr(c.proto, KindBase64, body, err)
		}
		if _, inner, ok := strings.Cut(decoded, "://"); ok {
			decoded = inner
		}
		if !strings.Contains(decoded, "@") {
			return nil, decodeErr(c.proto, KindShape, decoded, errNoAt)
		}
		payload = decoded
		if name != "" && !strings.Contains(decoded, "#") {
			payload += "#" + url.PathEscape(name)
		}
	}

	u, err := url.Parse(c.scheme + "://" + payload)
	if err != nil {
		return nil, decodeErr(c.proto, KindShape, payload, err)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, decodeErr(c.proto, KindShape, payload, errNoCredential)
	}
	credential := u.User.Username()
	if pw, ok := u.User.Password(); ok {
		credential += ":" + pw
	}
	host, port, err := splitHostPort(u.Host)
	if err != nil {
		return nil, decodeErr(c.proto, KindField, payload, err)
	}

	q := u.Query()
	t := model.Transport{
		Network:  q.Get("type"),
		Security: q.Get("security"),
		SNI:      firstNonEmpty(q.Get("sni"), q.Get("peer")),
		Path:     q.Get("path"),
		Host:     q.Get("host"),
	}
	if t.Network == "" {
		t.Network = "tcp"
	}

	n := &model.Node{
		Protocol: c.proto,
		Name:     strings.TrimSpace(u.Fragment),
		Host:     host,
		Port:     port,
	}
	switch c.proto {
	case model.ProtoVless:
		n.Payload = model.VlessPayload{UUID: credential, Flow: q.Get("flow")}
	case model.ProtoTrojan:
		if t.Security == "" {
			t.Security = "tls"
		}
		n.Payload = model.TrojanPayload{Password: credential}
	case model.ProtoHysteria2:
		t.Network = "udp"
		n.Payload = model.Hysteria2Payload{
			Password:     credential,
			Obfs:         q.Get("obfs"),
			ObfsPassword: q.Get("obfs-password"),
		}
	}
	t.TLS = t.Security == "tls" || t.Security == "reality" || c.proto == model.ProtoHysteria2
	n.Transport = t
	return n, nil
}

func (c uriCodec) Encode(n *model.Node) (string, error) {
	q := url.Values{}
	var credential string
	switch p := n.Payload.(type) {
	case model.VlessPayload:
		credential = p.UUID
		if p.Flow != "" {
			q.Set("flow", p.Flow)
		}
	case model.TrojanPayload:
		credential = p.Password
	case model.Hysteria2Payload:
		credential = p.Password
		if p.Obfs != "" {
			q.Set("obfs", p.Obfs)
		}
		if p.ObfsPassword != "" {
			q.Set("obfs-password", p.ObfsPassword)
		}
	}
	if credential == "" || model.PayloadProtocol(n.Payload) != c.proto {
		return "", ErrUnencodable
	}

	t := n.Transport
	if c.proto != model.ProtoHysteria2 {
		if t.Network != "" {
			q.Set("type", t.Network)
		}
		if sec := securityOf(t); sec != "" {
			q.Set("security", sec)
		} else if c.proto == model.ProtoTrojan {
			q.Set("security", "none")
		}
	} else if t.Security != "" {
		q.Set("security", t.Security)
	}
	setIf(q, "sni", t.SNI)
	setIf(q, "path", t.Path)
	setIf(q, "host", t.Host)

	u := url.URL{
		Scheme:   c.scheme,
		User:     url.User(credential),
		Host:     net.JoinHostPort(n.Host, strconv.Itoa(n.Port)),
		RawQuery: q.Encode(),
		Fragment: n.Name,
	}
	return u.String(), nil
}

func securityOf(t model.Transport) string {
	if t.Security != "" {
		return t.Security
	}
	if t.TLS {
		return "tls"
	}
	return ""
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
