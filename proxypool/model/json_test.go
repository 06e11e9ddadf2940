package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeJSON_FlattensPayload(t *testing.T) {
	n := &Node{
		Protocol: ProtoShadowsocks, Name: "a", Host: "1.2.3.4", Port: 443,
		Payload: ShadowsocksPayload{Cipher: "aes-256-gcm", Password: "secret"},
		Regions: []string{"hk"},
		Metrics: &Metrics{Reachable: true, Score: 1.5},
		Seq:     7,
	}
	b, err := json.Marshal(n)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(b, &flat))
	assert.Equal(t, "ss", flat["type"])
	assert.Equal(t, "1.2.3.4", flat["server"])
	assert.Equal(t, "aes-256-gcm", flat["cipher"])
	assert.Equal(t, "secret", flat["password"])
	assert.NotContains(t, flat, "Seq")
}

func TestNodeJSON_RoundTrip(t *testing.T) {
	nodes := []*Node{
		{Protocol: ProtoShadowsocks, Host: "h", Port: 1, Payload: ShadowsocksPayload{Cipher: "c", Password: "p", Plugin: "obfs-local"}},
		{Protocol: ProtoShadowsocksR, Host: "h", Port: 2, Payload: ShadowsocksRPayload{Cipher: "c", Password: "p", Protocol: "origin", Obfs: "plain"}},
		{Protocol: ProtoVmess, Host: "h", Port: 3, Payload: VmessPayload{UUID: "u", AlterID: 2, Cipher: "auto"},
			Transport: Transport{Network: "ws", TLS: true, Path: "/ray"}},
		{Protocol: ProtoVless, Host: "h", Port: 4, Payload: VlessPayload{UUID: "u", Flow: "xtls-rprx-vision"}},
		{Protocol: ProtoTrojan, Host: "h", Port: 5, Payload: TrojanPayload{Password: "p"}, Metrics: &Metrics{Score: 3}},
		{Protocol: ProtoHysteria2, Host: "h", Port: 6, Payload: Hysteria2Payload{Password: "p", Obfs: "salamander", ObfsPassword: "o"}},
		{Protocol: ProtoUnknown, Host: "garbage", Payload: OpaquePayload{Raw: "ss://garbage"}},
	}
	for _, n := range nodes {
		t.Run(string(n.Protocol), func(t *testing.T) {
			b, err := json.Marshal(n)
			require.NoError(t, err)
			var got Node
			require.NoError(t, json.Unmarshal(b, &got))
			assert.Equal(t, *n, got)
		})
	}
}

func TestNodeJSON_NilPayload(t *testing.T) {
	b, err := json.Marshal(&Node{Protocol: ProtoTrojan, Host: "h", Port: 443})
	require.NoError(t, err)

	var got Node
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, TrojanPayload{}, got.Payload)
}
