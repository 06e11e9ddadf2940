package model

import "fmt"

// SkipReason explains why an entry did not make it into the pool unchanged.
type SkipReason string

const (
	SkipEmptyDocument       SkipReason = "empty-document"
	SkipUnparseableDocument SkipReason = "unparseable-document"
	SkipNotMapping          SkipReason = "not-a-mapping"
	SkipMalformedEntry      SkipReason = "malformed-entry"
	SkipDegraded            SkipReason = "degraded" // 保留为 unknown 协议
	SkipMissingHost         SkipReason = "missing-host"
	SkipMissingPort         SkipReason = "missing-port"
	SkipDuplicate           SkipReason = "duplicate"
	SkipUnencodable         SkipReason = "unencodable"
)

// Skip records one entry that was dropped or degraded, and why.
type Skip struct {
	Reason SkipReason `json:"reason"`
	Source string     `json:"source,omitempty"`
	Line   int        `json:"line,omitempty"` // 1-based; 0 表示未知
	Detail string     `json:"detail,omitempty"`
	Node   *Node      `json:"node,omitempty"`
}

func (s Skip) String() string {
	if s.Line > 0 {
		return fmt.Sprintf("%s (%s:%d): %s", s.Reason, s.Source, s.Line, s.Detail)
	}
	return fmt.Sprintf("%s: %s", s.Reason, s.Detail)
}
