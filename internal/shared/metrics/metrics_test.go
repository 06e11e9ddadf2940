package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.GetPrometheusRegistry())

	families, err := r.GetPrometheusRegistry().Gather()
	require.NoError(t, err)
	// 只有已初始化的无标签指标会出现在 Gather 中
	assert.NotEmpty(t, families)
}

func TestRecordHelpers(t *testing.T) {
	r := NewRegistry()

	r.RecordFetch(nil)
	r.RecordFetch(errors.New("boom"))
	r.RecordFetch(errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FetchesTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.FetchesTotal.WithLabelValues("error")))

	r.RecordEntries("decoded", 5)
	r.RecordEntries("decoded", 0)
	assert.Equal(t, 5.0, testutil.ToFloat64(r.EntriesTotal.WithLabelValues("decoded")))

	r.RecordProbe("stage1", "fail", 0)
	r.RecordProbe("stage2", "pass", 120*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ProbesTotal.WithLabelValues("stage1", "fail")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.ProbeLatency))

	r.SetPool(7)
	r.SetRanked(3)
	r.SetRegion("hk", 2)
	assert.Equal(t, 7.0, testutil.ToFloat64(r.PoolNodes))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.RankedNodes))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.RegionNodes.WithLabelValues("hk")))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordFetch(nil)
		r.RecordEntries("decoded", 1)
		r.RecordProbe("stage1", "pass", time.Millisecond)
		r.SetPool(1)
		r.SetRegion("hk", 1)
		r.SetRanked(1)
		r.RecordRun("ok", time.Second)
	})
}
