package codec

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"nodesieve/proxypool/model"
)

// vmessLink is the v2rayN share format carried base64-encoded after vmess://.
type vmessLink struct {
	V    string  `json:"v,omitempty"`
	PS   string  `json:"ps"`
	Add  string  `json:"add"`
	Port flexInt `json:"port"`
	ID   string  `json:"id"`
	Aid  flexInt `json:"aid"`
	Scy  string  `json:"scy,omitempty"`
	Net  string  `json:"net"`
	Type string  `json:"type,omitempty"`
	Host string  `json:"host,omitempty"`
	Path string  `json:"path,omitempty"`
	TLS  string  `json:"tls"`
	SNI  string  `json:"sni,omitempty"`
}

// flexInt accepts both 443 and "443"; share links use either.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		v = int(fv)
	}
	*f = flexInt(v)
	return nil
}

func (f flexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(f)))
}

type vmessCodec struct{}

func (vmessCodec) Protocol() model.Protocol { return model.ProtoVmess }

func (vmessCodec) Decode(payload string) (*model.Node, error) {
	body, fragName := splitFragment(payload)
	decoded, err := DecodeBase64(body)
	if err != nil {
		return nil, decodeErr(model.ProtoVmess, KindBase64, body, err)
	}
	decoded = strings.TrimSpace(decoded)
	if !strings.HasPrefix(decoded, "{") || !strings.HasSuffix(decoded, "}") {
		return nil, decodeErr(model.ProtoVmess, KindShape, decoded, errNotObject)
	}

	var v vmessLink
	if err := json.Unmarshal([]byte(decoded), &v); err != nil {
		return nil, decodeErr(model.ProtoVmess, KindShape, decoded, err)
	}

	name := v.PS
	if name == "" {
		name = fragName
	}
	network := v.Net
	if network == "" {
		network = "tcp"
	}
	tls := strings.EqualFold(v.TLS, "tls")
	t := model.Transport{
		Network: network,
		TLS:     tls,
		SNI:     v.SNI,
		Path:    v.Path,
		Host:    v.Host,
	}
	if tls {
		t.Security = "tls"
	}

	return &model.Node{
		Protocol: model.ProtoVmess,
		Name:     name,
		Host:     strings.TrimSpace(v.Add),
		Port:     int(v.Port),
		Payload: model.VmessPayload{
			UUID:    v.ID,
			AlterID: int(v.Aid),
			Cipher:  v.Scy,
		},
		Transport: t,
	}, nil
}

func (vmessCodec) Encode(n *model.Node) (string, error) {
	p, ok := n.Payload.(model.VmessPayload)
	if !ok || p.UUID == "" {
		return "", ErrUnencodable
	}
	network := n.Transport.Network
	if network == "" {
		network = "tcp"
	}
	v := vmessLink{
		V:    "2",
		PS:   n.Name,
		Add:  n.Host,
		Port: flexInt(n.Port),
		ID:   p.UUID,
		Aid:  flexInt(p.AlterID),
		Scy:  p.Cipher,
		Net:  network,
		Type: "none",
		Host: n.Transport.Host,
		Path: n.Transport.Path,
		SNI:  n.Transport.SNI,
	}
	if n.Transport.TLS {
		v.TLS = "tls"
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(b), nil
}
