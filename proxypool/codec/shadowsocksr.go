package codec

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"nodesieve/proxypool/model"
)

// shadowsocksRCodec handles
//
//	ssr://b64(host:port:protocol:cipher:obfs:b64(password)/?obfsparam=b64&protoparam=b64&remarks=b64)
type shadowsocksRCodec struct{}

func (shadowsocksRCodec) Protocol() model.Protocol { return model.ProtoShadowsocksR }

func (shadowsocksRCodec) Decode(payload string) (*model.Node, error) {
	body, fragName := splitFragment(payload)
	decoded, err := DecodeBase64(body)
	if err != nil {
		return nil, decodeErr(model.ProtoShadowsocksR, KindBase64, body, err)
	}

	main, params, _ := strings.Cut(decoded, "/?")
	main = strings.TrimSuffix(main, "/")
	parts := strings.Split(main, ":")
	if len(parts) < 6 {
		return nil, decodeErr(model.ProtoShadowsocksR, KindShape, decoded, errors.New("expected host:port:protocol:cipher:obfs:password"))
	}
	k := len(parts)
	// IPv6 主机本身包含冒号，因此从右往左取固定字段
	host := strings.Trim(strings.Join(parts[:k-5], ":"), "[]")
	port, err := strconv.Atoi(parts[k-5])
	if err != nil || port <= 0 || port > 65535 {
		return nil, decodeErr(model.ProtoShadowsocksR, KindField, decoded, errors.New("invalid port: "+parts[k-5]))
	}
	var password string
	if parts[k-1] != "" {
		if password, err = DecodeBase64(parts[k-1]); err != nil {
			return nil, decodeErr(model.ProtoShadowsocksR, KindField, decoded, err)
		}
	}

	p := model.ShadowsocksRPayload{
		Protocol: parts[k-4],
		Cipher:   parts[k-3],
		Obfs:     parts[k-2],
		Password: password,
	}
	name := fragName
	if q, err := url.ParseQuery(params); err == nil {
		p.ObfsParam = optionalBase64(q.Get("obfsparam"))
		p.ProtocolParam = optionalBase64(q.Get("protoparam"))
		if remarks := optionalBase64(q.Get("remarks")); remarks != "" {
			name = remarks
		}
	}

	return &model.Node{
		Protocol:  model.ProtoShadowsocksR,
		Name:      name,
		Host:      host,
		Port:      port,
		Payload:   p,
		Transport: model.Transport{Network: "tcp"},
	}, nil
}

func (shadowsocksRCodec) Encode(n *model.Node) (string, error) {
	p, ok := n.Payload.(model.ShadowsocksRPayload)
	if !ok || p.Cipher == "" {
		return "", ErrUnencodable
	}
	enc := base64.RawURLEncoding.EncodeToString
	host := n.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	main := strings.Join([]string{
		host,
		strconv.Itoa(n.Port),
		p.Protocol,
		p.Cipher,
		p.Obfs,
		enc([]byte(p.Password)),
	}, ":")
	params := []string{
		"obfsparam=" + enc([]byte(p.ObfsParam)),
		"protoparam=" + enc([]byte(p.ProtocolParam)),
		"remarks=" + enc([]byte(n.Name)),
	}
	return "ssr://" + enc([]byte(main+"/?"+strings.Join(params, "&"))), nil
}

func optionalBase64(s string) string {
	if s == "" {
		return ""
	}
	if decoded, err := DecodeBase64(s); err == nil {
		return decoded
	}
	return s
}
