package types

// CommonConf 包含运行方式相关的配置
type CommonConf struct {
	Mode            string `ini:"mode" validate:"oneof=once serve"` // once: 运行一次后退出; serve: 定时运行并提供 web 服务
	IntervalMinutes int    `ini:"interval_minutes" validate:"min=1"`
	RunTimeoutSec   int    `ini:"run_timeout_seconds" validate:"min=0"` // 0 表示不限
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// FetchConf 控制订阅抓取
type FetchConf struct {
	SubscriptionsFile string `ini:"subscriptions_file" validate:"required"`
	TimeoutSec        int    `ini:"timeout_seconds" validate:"min=1"`
	MaxBytes          int64  `ini:"max_bytes" validate:"min=0"`
	MaxRedirects      int    `ini:"max_redirects" validate:"min=0,max=20"`
	UserAgent         string `ini:"user_agent"`
}

// DNSConf 控制区域分类时的域名解析
type DNSConf struct {
	Server      string `ini:"server"` // 为空时使用系统解析器
	TimeoutMS   int    `ini:"timeout_ms" validate:"min=1"`
	CacheSize   int    `ini:"cache_size" validate:"min=1"`
	CacheTTLSec int    `ini:"cache_ttl_seconds" validate:"min=1"`
	Concurrency int    `ini:"concurrency" validate:"min=1"`
}

// ProbeConf 控制两阶段探测和评分门槛
type ProbeConf struct {
	Concurrency        int     `ini:"concurrency" validate:"min=1,max=1024"`
	HandshakeTimeoutMS int     `ini:"handshake_timeout_ms" validate:"min=1"`
	RequestTimeoutMS   int     `ini:"request_timeout_ms" validate:"min=1"`
	PhaseTimeoutSec    int     `ini:"phase_timeout_seconds" validate:"min=0"`
	Retries            int     `ini:"retries" validate:"min=0,max=10"`
	RetryDelayMS       int     `ini:"retry_delay_ms" validate:"min=0"`
	TestURL            string  `ini:"test_url" validate:"required,url"`
	SampleBytes        int64   `ini:"sample_bytes" validate:"min=1"`
	MaxLatencyMS       int     `ini:"max_latency_ms" validate:"min=1"`
	MinThroughputMBps  float64 `ini:"min_throughput_mbps" validate:"gte=0"`
	ReferenceProxy     string  `ini:"reference_proxy" validate:"omitempty,hostname_port"` // SOCKS5 host:port
	ReferenceRegion    string  `ini:"reference_region"`                                 // 未指定 reference_proxy 时从该区域选取
	Scope              string  `ini:"scope"`                                            // 只探测该区域的节点，为空时探测整个节点池
}

// RankConf 控制排名
type RankConf struct {
	TopN int `ini:"top_n" validate:"min=0"`
}

// ExportConf 控制产物输出
type ExportConf struct {
	OutputDir      string `ini:"output_dir" validate:"required"`
	Port           int    `ini:"port" validate:"min=1,max=65535"`
	AllowLAN       bool   `ini:"allow_lan"`
	Mode           string `ini:"mode"`
	LogLevel       string `ini:"log_level"`
	SelectGroup    string `ini:"select_group"`
	AutoGroup      string `ini:"auto_group"`
	HealthCheckURL string `ini:"health_check_url" validate:"omitempty,url"`
	IntervalSec    int    `ini:"interval_seconds" validate:"min=1"`
}

// RegionConf 控制区域分类
type RegionConf struct {
	File    string `ini:"file"`    // 可选的 YAML 区域定义文件
	Enabled string `ini:"enabled"` // 逗号分隔的区域名，为空时启用全部
}

// WebConf 包含 web 服务的配置
type WebConf struct {
	Port     int    `ini:"port" validate:"min=0,max=65535"` // 0 表示不启动
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是 nodesieve 的统一配置结构体
type Config struct {
	CommonConf `ini:"common"`
	LogConf    `ini:"log"`
	FetchConf  `ini:"fetch"`
	DNSConf    `ini:"dns"`
	ProbeConf  `ini:"probe"`
	RankConf   `ini:"rank"`
	ExportConf `ini:"export"`
	RegionConf `ini:"region"`
	WebConf    `ini:"web"`
}
