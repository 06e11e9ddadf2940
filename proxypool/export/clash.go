package export

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"nodesieve/proxypool/codec"
	"nodesieve/proxypool/model"
)

const (
	DefaultSelectGroup = "🌐 节点选择"
	DefaultAutoGroup   = "🔄 自动选择"
	DefaultHealthURL   = "http://www.gstatic.com/generate_204"
)

// Options 控制路由配置的全局字段和分组名称。零值字段使用默认值。
type Options struct {
	Port           int
	AllowLAN       bool
	Mode           string
	LogLevel       string
	SelectGroup    string
	AutoGroup      string
	HealthCheckURL string
	Interval       int // 秒
}

// DefaultOptions 与 clash 常用的默认配置一致。
func DefaultOptions() Options {
	return Options{
		Port:           7890,
		AllowLAN:       true,
		Mode:           "Rule",
		LogLevel:       "info",
		SelectGroup:    DefaultSelectGroup,
		AutoGroup:      DefaultAutoGroup,
		HealthCheckURL: DefaultHealthURL,
		Interval:       300,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Port <= 0 {
		o.Port = d.Port
	}
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	if o.SelectGroup == "" {
		o.SelectGroup = d.SelectGroup
	}
	if o.AutoGroup == "" {
		o.AutoGroup = d.AutoGroup
	}
	if o.HealthCheckURL == "" {
		o.HealthCheckURL = d.HealthCheckURL
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	return o
}

// ProxyGroup is one entry of "proxy-groups".
type ProxyGroup struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`
	Proxies  []string `yaml:"proxies" json:"proxies"`
	URL      string   `yaml:"url,omitempty" json:"url,omitempty"`
	Interval int      `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// RoutingConfig is the Clash-compatible routing config built from a ranked set.
type RoutingConfig struct {
	Port        int                `yaml:"port"`
	AllowLAN    bool               `yaml:"allow-lan"`
	Mode        string             `yaml:"mode"`
	LogLevel    string             `yaml:"log-level"`
	Proxies     []codec.ClashProxy `yaml:"proxies"`
	ProxyGroups []ProxyGroup       `yaml:"proxy-groups"`
	Rules       []string           `yaml:"rules"`
}

// BuildRoutingConfig 按排名顺序生成配置。选择组包含自动组和所有节点，
// 自动组包含所有节点并定期测速，唯一的规则指向选择组。
// 未知协议的节点同样写入配置。
func BuildRoutingConfig(ranked []*model.Node, opts Options) *RoutingConfig {
	opts = opts.withDefaults()

	names := UniqueNames(ranked, opts.SelectGroup, opts.AutoGroup)
	proxies := make([]codec.ClashProxy, len(ranked))
	for i, n := range ranked {
		proxies[i] = codec.ToClash(n)
		proxies[i].Name = names[i]
	}

	selectMembers := make([]string, 0, len(names)+1)
	selectMembers = append(selectMembers, opts.AutoGroup)
	selectMembers = append(selectMembers, names...)

	return &RoutingConfig{
		Port:     opts.Port,
		AllowLAN: opts.AllowLAN,
		Mode:     opts.Mode,
		LogLevel: opts.LogLevel,
		Proxies:  proxies,
		ProxyGroups: []ProxyGroup{
			{Name: opts.SelectGroup, Type: "select", Proxies: selectMembers},
			{
				Name:     opts.AutoGroup,
				Type:     "url-test",
				Proxies:  append([]string{}, names...),
				URL:      opts.HealthCheckURL,
				Interval: opts.Interval,
			},
		},
		Rules: []string{"MATCH," + opts.SelectGroup},
	}
}

// Marshal 序列化为 YAML。
func (c *RoutingConfig) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal routing config: %w", err)
	}
	return out, nil
}

// UniqueNames 为每个节点给出非空且唯一的名称：空名使用 DisplayName，
// 与 reserved（分组名）或之前的节点重名时依次追加 -2、-3 ...
func UniqueNames(nodes []*model.Node, reserved ...string) []string {
	names := make([]string, len(nodes))
	used := make(map[string]bool, len(nodes)+len(reserved))
	for _, r := range reserved {
		used[r] = true
	}
	for i, n := range nodes {
		base := n.DisplayName()
		name := base
		for k := 2; used[name]; k++ {
			name = fmt.Sprintf("%s-%d", base, k)
		}
		used[name] = true
		names[i] = name
	}
	return names
}
