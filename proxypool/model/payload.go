package model

// Payload is the protocol-specific part of a node. The set of implementations
// is closed: only the types in this file satisfy it.
type Payload interface {
	protocol() Protocol
}

type ShadowsocksPayload struct {
	Cipher   string `json:"cipher"`
	Password string `json:"password"`
	Plugin   string `json:"plugin,omitempty"` // SIP002 plugin 参数原文
}

type ShadowsocksRPayload struct {
	Cipher        string `json:"cipher"`
	Password      string `json:"password"`
	Protocol      string `json:"protocol"`
	ProtocolParam string `json:"protocol-param,omitempty"`
	Obfs          string `json:"obfs"`
	ObfsParam     string `json:"obfs-param,omitempty"`
}

type VmessPayload struct {
	UUID    string `json:"uuid"`
	AlterID int    `json:"alterId"`
	Cipher  string `json:"cipher,omitempty"`
}

type VlessPayload struct {
	UUID string `json:"uuid"`
	Flow string `json:"flow,omitempty"`
}

type TrojanPayload struct {
	Password string `json:"password"`
}

type Hysteria2Payload struct {
	Password     string `json:"password"`
	Obfs         string `json:"obfs,omitempty"`
	ObfsPassword string `json:"obfs-password,omitempty"`
}

// OpaquePayload keeps the text of an entry that could not be decoded, so the
// record stays available for manual inspection.
type OpaquePayload struct {
	Raw string `json:"raw"`
}

func (ShadowsocksPayload) protocol() Protocol  { return ProtoShadowsocks }
func (ShadowsocksRPayload) protocol() Protocol { return ProtoShadowsocksR }
func (VmessPayload) protocol() Protocol        { return ProtoVmess }
func (VlessPayload) protocol() Protocol        { return ProtoVless }
func (TrojanPayload) protocol() Protocol       { return ProtoTrojan }
func (Hysteria2Payload) protocol() Protocol    { return ProtoHysteria2 }
func (OpaquePayload) protocol() Protocol       { return ProtoUnknown }

// PayloadProtocol returns the protocol a payload belongs to, ProtoUnknown for nil.
func PayloadProtocol(p Payload) Protocol {
	if p == nil {
		return ProtoUnknown
	}
	return p.protocol()
}
