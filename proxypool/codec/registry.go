package codec

import (
	"errors"
	"strings"

	"nodesieve/proxypool/model"
)

// Codec converts between one protocol's link payload and a Node.
//
// Decode receives everything after "scheme://", fragment included. Encode
// returns the full link, scheme included.
type Codec interface {
	Protocol() model.Protocol
	Decode(payload string) (*model.Node, error)
	Encode(n *model.Node) (string, error)
}

// Registry dispatches links to the codec registered for their scheme.
type Registry struct {
	codecs map[model.Protocol]Codec
}

// NewRegistry returns a registry holding every built-in codec.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[model.Protocol]Codec)}
	r.Register(shadowsocksCodec{})
	r.Register(shadowsocksRCodec{})
	r.Register(vmessCodec{})
	r.Register(newURICodec(model.ProtoVless, "vless"))
	r.Register(newURICodec(model.ProtoTrojan, "trojan"))
	r.Register(newURICodec(model.ProtoHysteria2, "hysteria2"))
	return r
}

// Register adds or replaces the codec for its protocol.
func (r *Registry) Register(c Codec) {
	r.codecs[c.Protocol()] = c
}

// Lookup returns the codec for p.
func (r *Registry) Lookup(p model.Protocol) (Codec, bool) {
	c, ok := r.codecs[p]
	return c, ok
}

// DecodeLink decodes one "scheme://payload[#name]" line.
//
// It always returns a node. When the payload cannot be decoded the node is an
// opaque ProtoUnknown record whose Host holds the best available text, and the
// returned error is a *DecodeError describing what went wrong.
func (r *Registry) DecodeLink(line string) (*model.Node, error) {
	line = strings.TrimSpace(line)
	scheme, rest, ok := strings.Cut(line, "://")
	if !ok {
		return opaqueNode(line, "", line), decodeErr(model.ProtoUnknown, KindShape, line, errNoScheme)
	}

	proto := model.ParseProtocol(scheme)
	c, ok := r.codecs[proto]
	if !ok {
		body, name := splitFragment(rest)
		text := body
		if decoded, err := DecodeBase64(body); err == nil {
			text = decoded
		}
		return opaqueNode(text, name, line), decodeErr(model.ProtoUnknown, KindUnsupported, text, nil)
	}

	n, err := c.Decode(rest)
	if err != nil {
		body, name := splitFragment(rest)
		text := body
		var de *DecodeError
		if errors.As(err, &de) && de.Text != "" {
			text = de.Text
		}
		return opaqueNode(text, name, line), err
	}
	return n, nil
}

// EncodeLink encodes n with the codec for its protocol.
func (r *Registry) EncodeLink(n *model.Node) (string, error) {
	c, ok := r.codecs[n.Protocol]
	if !ok {
		return "", ErrUnencodable
	}
	return c.Encode(n)
}

func opaqueNode(host, name, raw string) *model.Node {
	return &model.Node{
		Protocol: model.ProtoUnknown,
		Name:     name,
		Host:     host,
		Payload:  model.OpaquePayload{Raw: raw},
	}
}
