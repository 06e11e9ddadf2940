package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"nodesieve/internal/shared/logger"
	"nodesieve/proxypool/codec"
	"nodesieve/proxypool/export"
	"nodesieve/proxypool/model"
)

const (
	PoolYAMLFile = "all_nodes.yaml"
	PoolJSONFile = "all_nodes.json"
	RejectedFile = "rejected.json"
	RankedFile   = "ranked.json"
	ClashFile    = "clash.yaml"
	BundleFile   = "v2.txt"

	regionFileSuffix = "_nodes.json"
)

// ErrNotPublished 表示产物尚未生成。
var ErrNotPublished = errors.New("artifact not published yet")

// Artifacts 是一次运行的全部输出。
type Artifacts struct {
	Pool     []*model.Node
	Regions  map[string][]*model.Node
	Rejected []model.Skip
	Ranked   []*model.Node
	Routing  *export.RoutingConfig
	Bundle   string
}

// Storage 接口定义了产物持久化的行为。
type Storage interface {
	Save(a *Artifacts) error
	Read(name string) ([]byte, error)
}

// ArtifactStore 实现了 Storage 接口，把产物写入一个输出目录。
type ArtifactStore struct {
	dir string
	mu  sync.RWMutex
}

// NewArtifactStore 创建一个新的 ArtifactStore 实例。
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

// Dir returns the output directory.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// RegionFile 返回区域池的文件名，例如 hk_nodes.json。
func RegionFile(region string) string {
	return strings.ToLower(region) + regionFileSuffix
}

type structuredPool struct {
	Proxies []codec.ClashProxy `yaml:"proxies"`
}

// Save 将本次运行的产物写入输出目录。每个文件先写临时文件再替换，
// 读者不会看到写了一半的内容。
func (s *ArtifactStore) Save(a *Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	pool := structuredPool{Proxies: make([]codec.ClashProxy, len(a.Pool))}
	for i, n := range a.Pool {
		pool.Proxies[i] = codec.ToClash(n)
	}
	if err := s.writeYAML(PoolYAMLFile, pool); err != nil {
		return err
	}
	if err := s.writeJSON(PoolJSONFile, nonNil(a.Pool)); err != nil {
		return err
	}

	regions := make([]string, 0, len(a.Regions))
	for name := range a.Regions {
		regions = append(regions, name)
	}
	sort.Strings(regions)
	for _, name := range regions {
		if err := s.writeJSON(RegionFile(name), nonNil(a.Regions[name])); err != nil {
			return err
		}
	}

	rejected := a.Rejected
	if rejected == nil {
		rejected = []model.Skip{}
	}
	if err := s.writeJSON(RejectedFile, rejected); err != nil {
		return err
	}
	if err := s.writeJSON(RankedFile, nonNil(a.Ranked)); err != nil {
		return err
	}

	if a.Routing != nil {
		out, err := a.Routing.Marshal()
		if err != nil {
			return err
		}
		if err := s.writeFile(ClashFile, out); err != nil {
			return err
		}
	}
	if err := s.writeFile(BundleFile, []byte(a.Bundle)); err != nil {
		return err
	}

	l.Info().
		Str("dir", s.dir).
		Int("pool", len(a.Pool)).
		Int("regions", len(regions)).
		Int("rejected", len(rejected)).
		Int("ranked", len(a.Ranked)).
		Msg("Successfully saved artifacts.")
	return nil
}

// Read 返回已发布产物的原始内容。
func (s *ArtifactStore) Read(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotPublished)
		}
		return nil, err
	}
	return b, nil
}

// LoadRanked 读取上次发布的排名节点，协议字段一并还原。
func (s *ArtifactStore) LoadRanked() ([]*model.Node, error) {
	b, err := s.Read(RankedFile)
	if err != nil {
		return nil, err
	}
	var nodes []*model.Node
	if err := json.Unmarshal(b, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", RankedFile, err)
	}
	return nodes, nil
}

func (s *ArtifactStore) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.writeFile(name, b)
}

func (s *ArtifactStore) writeYAML(name string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.writeFile(name, b)
}

func (s *ArtifactStore) writeFile(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func nonNil(nodes []*model.Node) []*model.Node {
	if nodes == nil {
		return []*model.Node{}
	}
	return nodes
}
