package validator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodesieve/proxypool/model"
)

// fakeMeasurer 按主机名返回预设结果，并记录调用次数。
type fakeMeasurer struct {
	mu         sync.Mutex
	refused    map[string]bool
	samples    map[string][]Sample // 依次返回，用完后重复最后一个
	errs       map[string][]error
	block      map[string]chan struct{}
	handshakes map[string]int
	measures   map[string]int
	inflight   int32
	maxSeen    int32
}

func newFake() *fakeMeasurer {
	return &fakeMeasurer{
		refused:    map[string]bool{},
		samples:    map[string][]Sample{},
		errs:       map[string][]error{},
		block:      map[string]chan struct{}{},
		handshakes: map[string]int{},
		measures:   map[string]int{},
	}
}

func (f *fakeMeasurer) Handshake(_ context.Context, n *model.Node) (time.Duration, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.handshakes[n.Host]++
	block := f.block[n.Host]
	refused := f.refused[n.Host]
	f.mu.Unlock()

	if block != nil {
		<-block // 故意忽略 ctx，模拟卡死的目标
	}
	time.Sleep(time.Millisecond)
	if refused {
		return 0, syscall.ECONNREFUSED
	}
	return 10 * time.Millisecond, nil
}

func (f *fakeMeasurer) Measure(_ context.Context, n *model.Node) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.measures[n.Host]
	f.measures[n.Host]++
	if errs := f.errs[n.Host]; i < len(errs) && errs[i] != nil {
		return Sample{}, errs[i]
	}
	s := f.samples[n.Host]
	if len(s) == 0 {
		return Sample{Latency: 50 * time.Millisecond, Throughput: 20 * bytesPerMB}, nil
	}
	if i >= len(s) {
		i = len(s) - 1
	}
	return s[i], nil
}

func node(host string) *model.Node {
	return &model.Node{Protocol: model.ProtoTrojan, Host: host, Port: 443, Transport: model.Transport{TLS: true}}
}

func testOptions() Options {
	o := DefaultOptions()
	o.RetryDelay = 0
	o.Concurrency = 4
	return o
}

func TestValidate_StageOneFailureNeverReachesStageTwo(t *testing.T) {
	f := newFake()
	f.refused["dead"] = true
	nodes := []*model.Node{node("dead"), node("alive")}

	sum := NewValidator(f, testOptions(), nil).Validate(context.Background(), nodes)

	dead := nodes[0].Metrics
	require.NotNil(t, dead)
	assert.False(t, dead.Reachable)
	assert.Zero(t, dead.Score)
	assert.Contains(t, dead.Failure, "stage1")
	assert.Zero(t, f.measures["dead"], "stage 2 must not run after a stage 1 failure")

	alive := nodes[1].Metrics
	assert.True(t, alive.Reachable)
	assert.Greater(t, alive.Score, 0.0)
	assert.Equal(t, Summary{Probed: 2, Reachable: 1, Passed: 1}, sum)
}

func TestValidate_RetriesStageTwo(t *testing.T) {
	f := newFake()
	f.errs["flaky"] = []error{errors.New("reset")}
	f.errs["broken"] = []error{errors.New("reset"), errors.New("reset"), errors.New("reset")}
	f.samples["slow"] = []Sample{{Latency: 500 * time.Millisecond, Throughput: 20 * bytesPerMB}}
	nodes := []*model.Node{node("flaky"), node("broken"), node("slow")}

	opts := testOptions()
	opts.Retries = 1
	NewValidator(f, opts, nil).Validate(context.Background(), nodes)

	assert.Equal(t, 2, nodes[0].Metrics.Attempts)
	assert.Greater(t, nodes[0].Metrics.Score, 0.0)
	assert.Empty(t, nodes[0].Metrics.Failure)

	assert.Equal(t, 2, f.measures["broken"])
	assert.Zero(t, nodes[1].Metrics.Score)
	assert.True(t, nodes[1].Metrics.Reachable)
	assert.Contains(t, nodes[1].Metrics.Failure, "stage2")

	assert.Equal(t, 2, nodes[2].Metrics.Attempts)
	assert.Zero(t, nodes[2].Metrics.Score)
	assert.Equal(t, FailureBelowThresholds, nodes[2].Metrics.Failure)
	assert.InDelta(t, 500.0, nodes[2].Metrics.LatencyMS, 0.001)
}

func TestValidate_UDPFallsBackToStageOne(t *testing.T) {
	f := newFake()
	hy := &model.Node{Protocol: model.ProtoHysteria2, Host: "hy", Port: 8443, Payload: model.Hysteria2Payload{Password: "p"}}
	opts := testOptions()

	NewValidator(f, opts, nil).Validate(context.Background(), []*model.Node{hy})

	require.NotNil(t, hy.Metrics)
	assert.Zero(t, f.measures["hy"])
	assert.True(t, hy.Metrics.Reachable)
	assert.Greater(t, hy.Metrics.Score, 0.0)
	assert.LessOrEqual(t, hy.Metrics.LatencyMS, float64(opts.Thresholds.MaxLatency/time.Millisecond))
	assert.GreaterOrEqual(t, hy.Metrics.Throughput, opts.Thresholds.MinThroughput)
}

func TestValidate_PhaseTimeoutAbandons(t *testing.T) {
	f := newFake()
	stuck := make(chan struct{})
	defer close(stuck)
	f.block["hang"] = stuck
	nodes := []*model.Node{node("ok"), node("hang")}

	opts := testOptions()
	opts.PhaseTimeout = 200 * time.Millisecond
	var observed []string
	v := NewValidator(f, opts, nil)
	v.SetObserver(func(n *model.Node) { observed = append(observed, n.Host) })

	start := time.Now()
	sum := v.Validate(context.Background(), nodes)
	assert.Less(t, time.Since(start), 2*time.Second, "a hanging target must not stall the batch")

	assert.Equal(t, 1, sum.Abandoned)
	assert.Equal(t, FailureAbandoned, nodes[1].Metrics.Failure)
	assert.False(t, nodes[1].Metrics.Reachable)
	assert.Zero(t, nodes[1].Metrics.Score)
	assert.Greater(t, nodes[0].Metrics.Score, 0.0)
	assert.ElementsMatch(t, []string{"ok", "hang"}, observed)
}

func TestValidate_RespectsConcurrencyCap(t *testing.T) {
	f := newFake()
	var nodes []*model.Node
	for i := 0; i < 40; i++ {
		nodes = append(nodes, node(string(rune('a'+i%26))+string(rune('a'+i/26))))
	}
	opts := testOptions()
	opts.Concurrency = 3

	sum := NewValidator(f, opts, nil).Validate(context.Background(), nodes)
	assert.Equal(t, 40, sum.Probed)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.maxSeen), int32(3))
	for _, n := range nodes {
		assert.NotNil(t, n.Metrics)
	}
}

func TestValidate_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, NewValidator(newFake(), testOptions(), nil).Validate(context.Background(), nil))
}
