package region

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nodesieve/proxypool/model"
)

// Region 是一个地理分类桶：IP 段与关键词任一命中即归入。
type Region struct {
	Name     string
	CIDRs    []netip.Prefix
	Keywords []string
	// Limit caps the region pool size; 0 means unlimited.
	Limit int
}

// MatchKeyword reports a case-insensitive substring hit on the node name or host.
func (r Region) MatchKeyword(n *model.Node) bool {
	name := strings.ToLower(n.Name)
	host := strings.ToLower(n.Host)
	for _, kw := range r.Keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(name, kw) || strings.Contains(host, kw) {
			return true
		}
	}
	return false
}

// Contains reports whether any of addrs falls inside one of the region's ranges.
func (r Region) Contains(addrs []netip.Addr) bool {
	for _, a := range addrs {
		a = a.Unmap()
		for _, p := range r.CIDRs {
			if p.Contains(a) {
				return true
			}
		}
	}
	return false
}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// Builtin returns the HK, SG and CN definitions. Each call returns fresh slices.
func Builtin() []Region {
	return []Region{
		{
			Name: "hk",
			CIDRs: mustPrefixes(
				"1.0.180.0/22", "1.34.0.0/16", "14.0.0.0/8", "27.0.0.0/16", "58.96.0.0/12",
				"59.148.0.0/16", "61.64.0.0/11", "119.148.0.0/16", "124.0.0.0/8", "125.64.0.0/11",
			),
			Keywords: []string{"hk", "hongkong", "hong kong", "香港", "🇭🇰"},
			Limit:    3,
		},
		{
			Name: "sg",
			CIDRs: mustPrefixes(
				"14.128.0.0/16", "23.100.224.0/19", "27.54.64.0/19",
				"42.60.0.0/15", "43.225.48.0/22", "43.245.152.0/22",
				"45.64.56.0/22", "45.117.12.0/22", "47.88.0.0/16",
				"52.76.0.0/15", "54.169.0.0/16", "101.100.0.0/22",
				"103.1.152.0/22", "103.3.68.0/22", "103.5.60.0/22",
				"103.8.172.0/22", "103.11.180.0/22", "103.24.72.0/22",
				"103.26.44.0/22", "103.31.200.0/22", "103.104.220.0/22",
				"103.107.220.0/22", "103.133.80.0/22", "103.166.80.0/22",
				"110.35.0.0/16", "111.65.0.0/16", "112.198.0.0/15",
				"113.197.0.0/16", "116.12.0.0/16", "118.189.0.0/16",
				"119.73.0.0/16", "122.11.128.0/18", "124.6.0.0/16",
				"128.199.0.0/16", "139.162.0.0/16", "139.180.0.0/16",
				"147.139.0.0/16", "157.230.0.0/16", "159.89.0.0/16",
				"161.117.0.0/16", "163.47.0.0/16", "165.154.0.0/16",
				"167.71.0.0/16", "172.104.0.0/16", "175.156.0.0/14",
				"182.55.0.0/16", "202.166.64.0/19", "203.117.0.0/16",
				"210.23.0.0/16", "218.186.0.0/15", "220.255.0.0/16",
			),
			Keywords: []string{"🇸🇬", "sg", "singapore", "新加坡"},
			Limit:    3,
		},
		{
			Name: "cn",
			CIDRs: mustPrefixes(
				"1.0.1.0/24", "1.0.2.0/23", "1.0.8.0/21", "14.0.0.0/8", "27.0.0.0/8",
				"36.0.0.0/8", "39.0.0.0/8", "42.0.0.0/8", "58.0.0.0/7", "60.0.0.0/8",
				"61.232.0.0/14", "101.0.0.0/8", "103.0.0.0/8", "110.0.0.0/8",
			),
			Keywords: []string{"cn", "china", "国内", "中国", "🇨🇳"},
			Limit:    10,
		},
	}
}

type regionFile struct {
	Regions []struct {
		Name     string   `yaml:"name"`
		CIDRs    []string `yaml:"cidrs"`
		Keywords []string `yaml:"keywords"`
		Limit    *int     `yaml:"limit"`
	} `yaml:"regions"`
}

// LoadFile 读取 YAML 区域定义，与内置区域合并：同名区域整体覆盖（未给出 limit 时沿用内置值），新名称追加在末尾。
func LoadFile(path string, base []Region) ([]Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}
	var f regionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse regions file: %w", err)
	}

	out := append([]Region(nil), base...)
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.Name] = i
	}

	for _, def := range f.Regions {
		name := strings.ToLower(strings.TrimSpace(def.Name))
		if name == "" {
			return nil, fmt.Errorf("regions file %s: region without name", path)
		}
		r := Region{Name: name, Keywords: def.Keywords}
		for _, c := range def.CIDRs {
			p, err := netip.ParsePrefix(strings.TrimSpace(c))
			if err != nil {
				return nil, fmt.Errorf("region %s: %w", name, err)
			}
			r.CIDRs = append(r.CIDRs, p)
		}
		if i, ok := index[name]; ok {
			r.Limit = out[i].Limit
			if def.Limit != nil {
				r.Limit = *def.Limit
			}
			out[i] = r
			continue
		}
		if def.Limit != nil {
			r.Limit = *def.Limit
		}
		index[name] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// Select returns the regions whose names are listed, in the listed order.
// An empty list selects all of them.
func Select(all []Region, names []string) ([]Region, error) {
	if len(names) == 0 {
		return all, nil
	}
	out := make([]Region, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		found := false
		for _, r := range all {
			if r.Name == name {
				out = append(out, r)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown region %q", name)
		}
	}
	return out, nil
}
