package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// nodeJSON 没有 Node 的方法，用于编码外层字段。
type nodeJSON Node

// MarshalJSON 把协议字段平铺在外层字段旁边，
// 输出与结构化节点列表中的条目一致，可以直接导入。
func (n Node) MarshalJSON() ([]byte, error) {
	env, err := json.Marshal(nodeJSON(n))
	if err != nil {
		return nil, err
	}
	if n.Payload == nil {
		return env, nil
	}
	fields, err := json.Marshal(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", n.Protocol, err)
	}
	if bytes.Equal(fields, []byte("{}")) {
		return env, nil
	}

	out := make([]byte, 0, len(env)+len(fields))
	out = append(out, env[:len(env)-1]...)
	out = append(out, ',')
	out = append(out, fields[1:]...)
	return out, nil
}

// UnmarshalJSON 是 MarshalJSON 的逆操作，按 type 还原协议字段。
func (n *Node) UnmarshalJSON(b []byte) error {
	var env nodeJSON
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	var payload Payload
	var err error
	switch env.Protocol {
	case ProtoShadowsocks:
		payload, err = decodePayload[ShadowsocksPayload](b)
	case ProtoShadowsocksR:
		payload, err = decodePayload[ShadowsocksRPayload](b)
	case ProtoVmess:
		payload, err = decodePayload[VmessPayload](b)
	case ProtoVless:
		payload, err = decodePayload[VlessPayload](b)
	case ProtoTrojan:
		payload, err = decodePayload[TrojanPayload](b)
	case ProtoHysteria2:
		payload, err = decodePayload[Hysteria2Payload](b)
	default:
		payload, err = decodePayload[OpaquePayload](b)
	}
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Protocol, err)
	}

	*n = Node(env)
	n.Payload = payload
	return nil
}

func decodePayload[T Payload](b []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return p, nil
}
