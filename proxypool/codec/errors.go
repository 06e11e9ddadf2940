package codec

import (
	"errors"
	"fmt"

	"nodesieve/proxypool/model"
)

// Kind classifies a decode failure.
type Kind string

const (
	KindBase64      Kind = "base64"      // base64 层解码失败
	KindShape       Kind = "shape"       // 解码后的结构不符合协议格式
	KindField       Kind = "field"       // 字段值不合法，例如端口
	KindUnsupported Kind = "unsupported" // 未知协议
)

// ErrUnencodable is returned by Encode for nodes that have no link form.
var ErrUnencodable = errors.New("node cannot be encoded as a link")

var (
	errNoScheme     = errors.New("missing scheme separator")
	errNoAt         = errors.New("missing '@' separator")
	errNotObject    = errors.New("decoded text is not a JSON object")
	errNoCredential = errors.New("missing credential")
	errEmptyPayload = errors.New("empty payload")
)

// DecodeError describes why one entry could not be decoded. Text is the best
// available text for the entry: the base64-decoded payload when that layer
// succeeded, the raw remainder otherwise.
type DecodeError struct {
	Protocol model.Protocol
	Kind     Kind
	Text     string
	Cause    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("decode %s: %s", e.Protocol, e.Kind)
	}
	return fmt.Sprintf("decode %s: %s: %v", e.Protocol, e.Kind, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func decodeErr(p model.Protocol, kind Kind, text string, cause error) *DecodeError {
	return &DecodeError{Protocol: p, Kind: kind, Text: text, Cause: cause}
}
