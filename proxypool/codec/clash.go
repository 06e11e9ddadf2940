package codec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"nodesieve/proxypool/model"
)

// ClashProxy is one entry of a Clash "proxies" list. Keys this package does
// not model are collected in Extra so callers can report them.
type ClashProxy struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	Server        string         `yaml:"server"`
	Port          PortValue      `yaml:"port"`
	Cipher        string         `yaml:"cipher,omitempty"`
	Password      string         `yaml:"password,omitempty"`
	UUID          string         `yaml:"uuid,omitempty"`
	AlterID       PortValue      `yaml:"alterId,omitempty"`
	Network       string         `yaml:"network,omitempty"`
	TLS           bool           `yaml:"tls,omitempty"`
	ServerName    string         `yaml:"servername,omitempty"`
	SNI           string         `yaml:"sni,omitempty"`
	Flow          string         `yaml:"flow,omitempty"`
	Plugin        string         `yaml:"plugin,omitempty"`
	Protocol      string         `yaml:"protocol,omitempty"`
	ProtocolParam string         `yaml:"protocol-param,omitempty"`
	Obfs          string         `yaml:"obfs,omitempty"`
	ObfsParam     string         `yaml:"obfs-param,omitempty"`
	ObfsPassword  string         `yaml:"obfs-password,omitempty"`
	WSOpts        *ClashWSOpts   `yaml:"ws-opts,omitempty"`
	Extra         map[string]any `yaml:",inline"`
}

type ClashWSOpts struct {
	Path    string            `yaml:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// PortValue is an integer that also accepts a quoted string in YAML.
type PortValue int

func (p *PortValue) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: port must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if s == "" {
		*p = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid port %q", value.Line, s)
	}
	*p = PortValue(v)
	return nil
}

// FromClash converts one Clash mapping into a node. A missing or unrecognised
// type yields ProtoUnknown rather than an error. The second return value lists
// the mapping keys that were not understood, sorted.
func FromClash(c *ClashProxy) (*model.Node, []string) {
	proto := model.ParseProtocol(c.Type)
	n := &model.Node{
		Protocol: proto,
		Name:     strings.TrimSpace(c.Name),
		Host:     strings.TrimSpace(c.Server),
		Port:     int(c.Port),
	}

	t := model.Transport{
		Network: c.Network,
		TLS:     c.TLS,
		SNI:     firstNonEmpty(c.ServerName, c.SNI),
	}
	if c.WSOpts != nil {
		t.Path = c.WSOpts.Path
		t.Host = headerValue(c.WSOpts.Headers, "Host")
	}

	switch proto {
	case model.ProtoShadowsocks:
		n.Payload = model.ShadowsocksPayload{Cipher: c.Cipher, Password: c.Password, Plugin: c.Plugin}
	case model.ProtoShadowsocksR:
		n.Payload = model.ShadowsocksRPayload{
			Cipher:        c.Cipher,
			Password:      c.Password,
			Protocol:      c.Protocol,
			ProtocolParam: c.ProtocolParam,
			Obfs:          c.Obfs,
			ObfsParam:     c.ObfsParam,
		}
	case model.ProtoVmess:
		n.Payload = model.VmessPayload{UUID: c.UUID, AlterID: int(c.AlterID), Cipher: c.Cipher}
	case model.ProtoVless:
		n.Payload = model.VlessPayload{UUID: c.UUID, Flow: c.Flow}
	case model.ProtoTrojan:
		n.Payload = model.TrojanPayload{Password: c.Password}
		t.TLS = true
	case model.ProtoHysteria2:
		n.Payload = model.Hysteria2Payload{Password: c.Password, Obfs: c.Obfs, ObfsPassword: c.ObfsPassword}
		t.Network = "udp"
		t.TLS = true
	default:
		raw := c.Type
		if raw == "" {
			raw = string(model.ProtoUnknown)
		}
		n.Payload = model.OpaquePayload{Raw: raw}
	}
	if t.TLS && t.Security == "" {
		t.Security = "tls"
	}
	if t.Network == "" {
		t.Network = "tcp"
	}
	n.Transport = t

	unknown := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	return n, unknown
}

// ToClash is the inverse of FromClash. Unknown protocols keep the type they
// were read with, so they still appear in exported configs.
func ToClash(n *model.Node) ClashProxy {
	c := ClashProxy{
		Name:    n.Name,
		Type:    string(n.Protocol),
		Server:  n.Host,
		Port:    PortValue(n.Port),
		Network: n.Transport.Network,
		TLS:     n.Transport.TLS,
	}
	if n.Transport.Path != "" || n.Transport.Host != "" {
		c.WSOpts = &ClashWSOpts{Path: n.Transport.Path}
		if n.Transport.Host != "" {
			c.WSOpts.Headers = map[string]string{"Host": n.Transport.Host}
		}
	}

	switch p := n.Payload.(type) {
	case model.ShadowsocksPayload:
		c.Cipher, c.Password, c.Plugin = p.Cipher, p.Password, p.Plugin
	case model.ShadowsocksRPayload:
		c.Cipher, c.Password = p.Cipher, p.Password
		c.Protocol, c.ProtocolParam = p.Protocol, p.ProtocolParam
		c.Obfs, c.ObfsParam = p.Obfs, p.ObfsParam
	case model.VmessPayload:
		c.UUID, c.AlterID, c.Cipher = p.UUID, PortValue(p.AlterID), p.Cipher
		if c.Cipher == "" {
			c.Cipher = "auto"
		}
		c.ServerName = n.Transport.SNI
	case model.VlessPayload:
		c.UUID, c.Flow = p.UUID, p.Flow
		c.ServerName = n.Transport.SNI
	case model.TrojanPayload:
		c.Password = p.Password
		c.SNI = n.Transport.SNI
		c.TLS = false
	case model.Hysteria2Payload:
		c.Password, c.Obfs, c.ObfsPassword = p.Password, p.Obfs, p.ObfsPassword
		c.SNI = n.Transport.SNI
		c.Network, c.TLS = "", false
	case model.OpaquePayload:
		if p.Raw != "" && !strings.Contains(p.Raw, "://") {
			c.Type = p.Raw
		}
	}
	return c
}

func headerValue(h map[string]string, key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
