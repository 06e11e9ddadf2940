package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadIni_DefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "nodesieve.ini", `
[common]
mode = serve

[probe]
concurrency = 8
max_latency_ms = 300
reference_region = hk

[rank]
top_n = 5

[region]
enabled = hk, sg
`)
	cfg := Default()
	require.NoError(t, LoadIni(cfg, path))

	assert.Equal(t, "serve", cfg.CommonConf.Mode)
	assert.Equal(t, 8, cfg.ProbeConf.Concurrency)
	assert.Equal(t, 300, cfg.MaxLatencyMS)
	assert.Equal(t, "hk", cfg.ReferenceRegion)
	assert.Equal(t, 5, cfg.TopN)
	assert.Equal(t, []string{"hk", "sg"}, SplitList(cfg.Enabled))

	// 未出现的键保持默认值
	assert.Equal(t, 2000, cfg.HandshakeTimeoutMS)
	assert.Equal(t, 7890, cfg.ExportConf.Port)
	assert.InDelta(t, 8.0, cfg.MinThroughputMBps, 1e-9)
}

func TestLoadIni_EnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "nodesieve.ini", "[rank]\ntop_n = 5\n")
	t.Setenv("NODESIEVE_TOP_N", "12")
	t.Setenv("NODESIEVE_TEST_URL", "https://speed.example.com/10mb.bin")
	t.Setenv("NODESIEVE_REFERENCE_PROXY", "127.0.0.1:1080")

	cfg := Default()
	require.NoError(t, LoadIni(cfg, path))
	assert.Equal(t, 12, cfg.TopN)
	assert.Equal(t, "https://speed.example.com/10mb.bin", cfg.TestURL)
	assert.Equal(t, "127.0.0.1:1080", cfg.ReferenceProxy)
}

func TestLoadIni_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad mode", "[common]\nmode = forever\n", "Mode"},
		{"zero concurrency", "[probe]\nconcurrency = 0\n", "Concurrency"},
		{"bad test url", "[probe]\ntest_url = not a url\n", "TestURL"},
		{"negative top n", "[rank]\ntop_n = -1\n", "TopN"},
		{"bad reference", "[probe]\nreference_proxy = nope\n", "ReferenceProxy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "c.ini", tt.content)
			err := LoadIni(Default(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.Error(t, LoadIni(Default(), filepath.Join(dir, "absent.ini")))
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestLoadSubscriptions(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "subscriptions.json", `{"subscriptions": ["https://a/sub", " ", "https://b/sub", "https://a/sub"]}`)

	subs, err := LoadSubscriptions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/sub", "https://b/sub"}, subs)

	_, err = LoadSubscriptions(writeFile(t, dir, "bad.json", `[`))
	assert.Error(t, err)

	_, err = LoadSubscriptions(filepath.Join(dir, "absent.json"))
	assert.Error(t, err)
}
