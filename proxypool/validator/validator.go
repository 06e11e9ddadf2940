package validator

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"nodesieve/internal/shared/logger"
	"nodesieve/internal/shared/metrics"
	"nodesieve/proxypool/model"
)

const (
	FailureAbandoned       = "abandoned"
	FailureBelowThresholds = "below thresholds"
)

// Options 是探测阶段的不可变配置。
type Options struct {
	Concurrency  int
	PhaseTimeout time.Duration // 0 表示不限
	Retries      int           // 第二阶段失败后的额外尝试次数
	RetryDelay   time.Duration
	Thresholds   Thresholds
}

// DefaultOptions: 32 个 worker，第二阶段共尝试 2 次。
func DefaultOptions() Options {
	return Options{
		Concurrency: 32,
		Retries:     1,
		RetryDelay:  500 * time.Millisecond,
		Thresholds:  DefaultThresholds(),
	}
}

// Summary 汇总一批探测的结果。
type Summary struct {
	Probed    int `json:"probed"`
	Reachable int `json:"reachable"`
	Passed    int `json:"passed"`
	Abandoned int `json:"abandoned"`
}

// Observer receives each node right after its metrics are written. It is
// called from the collecting goroutine only.
type Observer func(n *model.Node)

type Validator struct {
	measurer Measurer
	opts     Options
	metrics  *metrics.Registry
	observer Observer
}

func NewValidator(m Measurer, opts Options, reg *metrics.Registry) *Validator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Validator{measurer: m, opts: opts, metrics: reg}
}

// SetObserver registers a callback for per-node results.
func (v *Validator) SetObserver(o Observer) {
	v.observer = o
}

type probeResult struct {
	index   int
	metrics model.Metrics
}

// Validate 并发探测所有节点并写入 Metrics。探测协程只返回结果，
// 节点只在收集循环中被修改。阶段超时后未完成的节点记为 abandoned。
func (v *Validator) Validate(ctx context.Context, nodes []*model.Node) Summary {
	l := logger.WithComponent("ProxyPool/Validator")
	var sum Summary
	if len(nodes) == 0 {
		return sum
	}
	if v.opts.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.PhaseTimeout)
		defer cancel()
	}

	l.Info().Int("count", len(nodes)).Int("concurrency", v.opts.Concurrency).Msg("Starting validation batch...")

	sem := semaphore.NewWeighted(int64(v.opts.Concurrency))
	// 缓冲区足够大，被放弃的协程迟到的结果不会阻塞
	resultsChan := make(chan probeResult, len(nodes))
	done := make([]bool, len(nodes))

	go func() {
		for i, n := range nodes {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func() {
				defer sem.Release(1)
				resultsChan <- probeResult{index: i, metrics: v.probe(ctx, n)}
			}()
		}
	}()

collect:
	for pending := len(nodes); pending > 0; pending-- {
		select {
		case r := <-resultsChan:
			v.apply(nodes[r.index], r.metrics, &sum)
			done[r.index] = true
		case <-ctx.Done():
			break collect
		}
	}

drain:
	for {
		select {
		case r := <-resultsChan:
			if !done[r.index] {
				v.apply(nodes[r.index], r.metrics, &sum)
				done[r.index] = true
			}
		default:
			break drain
		}
	}

	for i, n := range nodes {
		if done[i] {
			continue
		}
		sum.Abandoned++
		v.metrics.RecordProbe("phase", FailureAbandoned, 0)
		v.apply(n, model.Metrics{Failure: FailureAbandoned}, &sum)
	}

	l.Info().
		Int("probed", sum.Probed).
		Int("reachable", sum.Reachable).
		Int("passed", sum.Passed).
		Int("abandoned", sum.Abandoned).
		Msg("Validation batch finished.")
	return sum
}

func (v *Validator) apply(n *model.Node, m model.Metrics, sum *Summary) {
	n.Metrics = &m
	sum.Probed++
	if m.Reachable {
		sum.Reachable++
	}
	if m.Score > 0 {
		sum.Passed++
	}
	if v.observer != nil {
		v.observer(n)
	}
}

// probe 执行单个节点的两阶段评估。第一阶段失败时不会进入第二阶段。
func (v *Validator) probe(ctx context.Context, n *model.Node) model.Metrics {
	l := logger.WithComponent("ProxyPool/Validator")
	var m model.Metrics

	rtt, err := v.measurer.Handshake(ctx, n)
	if err != nil {
		m.Failure = "stage1: " + err.Error()
		v.metrics.RecordProbe("stage1", "fail", 0)
		l.Debug().Err(err).Str("node", n.Key()).Msg("Stage 1 failed.")
		return m
	}
	m.Reachable = true
	v.metrics.RecordProbe("stage1", "pass", rtt)

	th := v.opts.Thresholds
	if n.Protocol.UDPBased() {
		s := th.udpSample()
		fill(&m, s, th)
		return m
	}

	for attempt := 0; attempt <= v.opts.Retries; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, v.opts.RetryDelay) {
			break
		}
		m.Attempts++
		s, err := v.measurer.Measure(ctx, n)
		if err != nil {
			m.Failure = "stage2: " + err.Error()
			// 单次尝试超时可以重试，整个阶段被取消则不再重试
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fill(&m, s, th)
		if m.Score > 0 {
			m.Failure = ""
			break
		}
		m.Failure = FailureBelowThresholds
	}

	if m.Score > 0 {
		v.metrics.RecordProbe("stage2", "pass", time.Duration(m.LatencyMS*float64(time.Millisecond)))
	} else {
		v.metrics.RecordProbe("stage2", "fail", 0)
	}
	return m
}

func fill(m *model.Metrics, s Sample, th Thresholds) {
	m.LatencyMS = s.LatencyMS()
	m.Throughput = s.Throughput
	m.Score = Score(s, th)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
