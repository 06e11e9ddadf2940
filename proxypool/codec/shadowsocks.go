package codec

import (
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"nodesieve/proxypool/model"
)

// shadowsocksCodec handles both link forms:
//
//	ss://b64(cipher:password@host:port)#name   (legacy)
//	ss://b64(cipher:password)@host:port#name   (SIP002)
type shadowsocksCodec struct{}

func (shadowsocksCodec) Protocol() model.Protocol { return model.ProtoShadowsocks }

func (shadowsocksCodec) Decode(payload string) (*model.Node, error) {
	body, name := splitFragment(payload)
	body, query, _ := strings.Cut(body, "?")
	body = strings.TrimSuffix(body, "/")
	if body == "" {
		return nil, decodeErr(model.ProtoShadowsocks, KindShape, payload, errEmptyPayload)
	}

	var cred, hostPort string
	decoded, b64Err := DecodeBase64(body)
	switch {
	case b64Err == nil && strings.Contains(decoded, "@"):
		at := strings.LastIndex(decoded, "@")
		cred, hostPort = decoded[:at], decoded[at+1:]
	case strings.Contains(body, "@"):
		at := strings.LastIndex(body, "@")
		userinfo := body[:at]
		hostPort = body[at+1:]
		if dec, err := DecodeBase64(userinfo); err == nil && strings.Contains(dec, ":") {
			cred = dec
		} else if unesc, err := url.PathUnescape(userinfo); err == nil {
			// SIP002 允许 2022 系列 cipher 使用明文 userinfo
			cred = unesc
		} else {
			return nil, decodeErr(model.ProtoShadowsocks, KindBase64, body, err)
		}
	case b64Err == nil:
		return nil, decodeErr(model.ProtoShadowsocks, KindShape, decoded, errNoAt)
	default:
		return nil, decodeErr(model.ProtoShadowsocks, KindBase64, body, b64Err)
	}

	cipher, password, ok := strings.Cut(cred, ":")
	if !ok || cipher == "" {
		return nil, decodeErr(model.ProtoShadowsocks, KindField, cred, errors.New("expected cipher:password"))
	}
	host, port, err := splitHostPort(hostPort)
	if err != nil {
		return nil, decodeErr(model.ProtoShadowsocks, KindField, hostPort, err)
	}

	var plugin string
	if query != "" {
		if q, err := url.ParseQuery(query); err == nil {
			plugin = q.Get("plugin")
		}
	}

	return &model.Node{
		Protocol: model.ProtoShadowsocks,
		Name:     name,
		Host:     host,
		Port:     port,
		Payload: model.ShadowsocksPayload{
			Cipher:   cipher,
			Password: password,
			Plugin:   plugin,
		},
		Transport: model.Transport{Network: "tcp"},
	}, nil
}

func (shadowsocksCodec) Encode(n *model.Node) (string, error) {
	p, ok := n.Payload.(model.ShadowsocksPayload)
	if !ok || p.Cipher == "" {
		return "", ErrUnencodable
	}
	userinfo := base64.RawURLEncoding.EncodeToString([]byte(p.Cipher + ":" + p.Password))

	var b strings.Builder
	b.WriteString("ss://")
	b.WriteString(userinfo)
	b.WriteByte('@')
	b.WriteString(net.JoinHostPort(n.Host, strconv.Itoa(n.Port)))
	if p.Plugin != "" {
		b.WriteString("/?plugin=")
		b.WriteString(url.QueryEscape(p.Plugin))
	}
	if n.Name != "" {
		b.WriteByte('#')
		b.WriteString(url.PathEscape(n.Name))
	}
	return b.String(), nil
}
