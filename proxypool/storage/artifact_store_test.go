package storage

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"nodesieve/proxypool/export"
	"nodesieve/proxypool/model"
)

func fixture() *Artifacts {
	hk := &model.Node{
		Protocol: model.ProtoTrojan, Name: "hk", Host: "hk.example.com", Port: 443,
		Payload: model.TrojanPayload{Password: "pw"}, Regions: []string{"hk"},
		Metrics: &model.Metrics{Reachable: true, Score: 4.2, LatencyMS: 80},
	}
	bad := &model.Node{Protocol: model.ProtoUnknown, Host: "garbage"}
	return &Artifacts{
		Pool:     []*model.Node{hk},
		Regions:  map[string][]*model.Node{"hk": {hk}, "SG": nil},
		Rejected: []model.Skip{{Reason: model.SkipMissingPort, Source: "sub", Node: bad}},
		Ranked:   []*model.Node{hk},
		Routing:  export.BuildRoutingConfig([]*model.Node{hk}, export.DefaultOptions()),
		Bundle:   base64.StdEncoding.EncodeToString([]byte("trojan://pw@hk.example.com:443#hk")),
	}
}

func TestArtifactStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := NewArtifactStore(dir)
	require.NoError(t, s.Save(fixture()))

	for _, name := range []string{PoolYAMLFile, PoolJSONFile, RejectedFile, RankedFile, ClashFile, BundleFile, "hk_nodes.json", "sg_nodes.json"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	var pool struct {
		Proxies []map[string]any `yaml:"proxies"`
	}
	raw, err := s.Read(PoolYAMLFile)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &pool))
	require.Len(t, pool.Proxies, 1)
	assert.Equal(t, "trojan", pool.Proxies[0]["type"])
	assert.Equal(t, "pw", pool.Proxies[0]["password"])

	raw, err = s.Read("sg_nodes.json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))

	var rejected []map[string]any
	raw, err = s.Read(RejectedFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &rejected))
	require.Len(t, rejected, 1)
	assert.Equal(t, "missing-port", rejected[0]["reason"])

	ranked, err := s.LoadRanked()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "hk.example.com:443", ranked[0].Key())
	assert.InDelta(t, 4.2, ranked[0].Score(), 1e-9)
	assert.Equal(t, model.TrojanPayload{Password: "pw"}, ranked[0].Payload)

	bundle, err := s.Read(BundleFile)
	require.NoError(t, err)
	assert.Equal(t, fixture().Bundle, string(bundle))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestArtifactStore_FlatListsKeepCredentials(t *testing.T) {
	ss := &model.Node{
		Protocol: model.ProtoShadowsocks, Name: "a", Host: "1.2.3.4", Port: 443,
		Payload: model.ShadowsocksPayload{Cipher: "aes-256-gcm", Password: "secret"},
		Regions: []string{"hk"},
	}
	s := NewArtifactStore(t.TempDir())
	require.NoError(t, s.Save(&Artifacts{
		Pool:    []*model.Node{ss},
		Regions: map[string][]*model.Node{"hk": {ss}},
		Ranked:  []*model.Node{ss},
	}))

	for _, name := range []string{PoolJSONFile, RegionFile("hk"), RankedFile} {
		raw, err := s.Read(name)
		require.NoError(t, err)
		var nodes []map[string]any
		require.NoError(t, json.Unmarshal(raw, &nodes), name)
		require.Len(t, nodes, 1, name)
		assert.Equal(t, "ss", nodes[0]["type"], name)
		assert.Equal(t, "aes-256-gcm", nodes[0]["cipher"], name)
		assert.Equal(t, "secret", nodes[0]["password"], name)
	}
}

func TestArtifactStore_ReadBeforeSave(t *testing.T) {
	s := NewArtifactStore(t.TempDir())

	_, err := s.Read(ClashFile)
	assert.ErrorIs(t, err, ErrNotPublished)

	_, err = s.LoadRanked()
	assert.ErrorIs(t, err, ErrNotPublished)

	_, err = s.Read("../etc/passwd")
	assert.Error(t, err)
}

func TestArtifactStore_OverwritesPreviousRun(t *testing.T) {
	s := NewArtifactStore(t.TempDir())
	require.NoError(t, s.Save(fixture()))
	require.NoError(t, s.Save(&Artifacts{}))

	raw, err := s.Read(RankedFile)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))

	raw, err = s.Read(BundleFile)
	require.NoError(t, err)
	assert.Empty(t, raw)
}
