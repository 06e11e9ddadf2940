package validator

import (
	"math"
	"time"
)

const (
	// ScoreK is the fixed positive constant in score = MB/s / ms * K.
	ScoreK = 10.0

	bytesPerMB = 1 << 20
)

// Sample 是一次第二阶段测量的结果。
type Sample struct {
	Latency    time.Duration
	Throughput float64 // bytes/s
}

// LatencyMS returns the latency in fractional milliseconds.
func (s Sample) LatencyMS() float64 {
	return float64(s.Latency) / float64(time.Millisecond)
}

// Thresholds 是评分的接受门槛。两者都满足时分数才可能非零。
type Thresholds struct {
	MaxLatency    time.Duration
	MinThroughput float64 // bytes/s
}

// DefaultThresholds: 200ms 与 8 MB/s。
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxLatency:    200 * time.Millisecond,
		MinThroughput: 8 * bytesPerMB,
	}
}

// Passes reports whether the sample clears both thresholds.
func (t Thresholds) Passes(s Sample) bool {
	return s.Latency <= t.MaxLatency && s.Throughput >= t.MinThroughput
}

// Score 计算 throughput(MB/s) / latency(ms) * K。任一门槛不满足时返回 0。
// 0 永远表示“不参与排名”。
func Score(s Sample, t Thresholds) float64 {
	if !t.Passes(s) || s.Throughput <= 0 {
		return 0
	}
	ms := math.Max(s.LatencyMS(), 1)
	return s.Throughput / bytesPerMB / ms * ScoreK
}

// udpSample 是 UDP 协议在第一阶段通过后得到的固定样本，刚好足以越过门槛。
func (t Thresholds) udpSample() Sample {
	return Sample{
		Latency:    t.MaxLatency / 2,
		Throughput: math.Max(t.MinThroughput*2, 1),
	}
}
