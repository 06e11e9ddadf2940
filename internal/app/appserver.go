package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nodesieve/internal/service/web"
	"nodesieve/internal/shared/config"
	"nodesieve/internal/shared/logger"
	"nodesieve/internal/shared/metrics"
	"nodesieve/internal/shared/types"
	manager "nodesieve/proxypool"
	"nodesieve/proxypool/export"
	"nodesieve/proxypool/region"
	"nodesieve/proxypool/scraper"
	"nodesieve/proxypool/storage"
	"nodesieve/proxypool/validator"
)

// AppServer is the application's main struct. It wires the configuration
// into the pipeline and, in serve mode, the web surface.
type AppServer struct {
	cfg       *types.Config
	configDir string

	metrics *metrics.Registry
	store   *storage.ArtifactStore
	manager *manager.Manager
	hub     *web.Hub

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// New 根据配置创建所有组件。相对路径以 configDir 为基准。
func New(cfg *types.Config, configDir string) (*AppServer, error) {
	s := &AppServer{
		cfg:       cfg,
		configDir: configDir,
		metrics:   metrics.NewRegistry(),
		hub:       web.NewHub(),
	}

	subs, err := config.LoadSubscriptions(s.path(cfg.SubscriptionsFile))
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("no subscriptions configured in %s", cfg.SubscriptionsFile)
	}

	regions, err := s.loadRegions()
	if err != nil {
		return nil, err
	}
	opts, err := BuildOptions(cfg, regions)
	if err != nil {
		return nil, err
	}

	resolver := region.NewDNSResolver(
		cfg.DNSConf.Server,
		time.Duration(cfg.DNSConf.TimeoutMS)*time.Millisecond,
		cfg.DNSConf.CacheSize,
		time.Duration(cfg.CacheTTLSec)*time.Second,
	)
	classifier := region.NewClassifier(resolver, cfg.DNSConf.Concurrency, s.metrics)

	s.store = storage.NewArtifactStore(s.path(cfg.OutputDir))
	s.manager = manager.NewManager(opts, classifier, NewMeasurer(cfg), s.store, s.metrics)

	scraperOpts := scraper.Options{
		Timeout:      time.Duration(cfg.FetchConf.TimeoutSec) * time.Second,
		MaxBytes:     cfg.FetchConf.MaxBytes,
		MaxRedirects: cfg.MaxRedirects,
		UserAgent:    cfg.UserAgent,
	}
	for _, src := range subs {
		if !isURL(src) {
			src = s.path(src)
		}
		s.manager.AddScraper(scraper.New(src, scraperOpts))
	}

	logger.Info().Int("subscriptions", len(subs)).Int("regions", len(regions)).Msg("Application initialized.")
	return s, nil
}

// BuildOptions 把配置转换为流水线的不可变运行参数。
func BuildOptions(cfg *types.Config, regions []region.Region) (manager.Options, error) {
	if cfg.Scope != "" && !hasRegion(regions, cfg.Scope) {
		return manager.Options{}, fmt.Errorf("probe scope %q is not an enabled region", cfg.Scope)
	}
	if cfg.ReferenceRegion != "" && !hasRegion(regions, cfg.ReferenceRegion) {
		return manager.Options{}, fmt.Errorf("reference region %q is not an enabled region", cfg.ReferenceRegion)
	}

	return manager.Options{
		Regions:         regions,
		Scope:           cfg.Scope,
		ReferenceProxy:  cfg.ReferenceProxy,
		ReferenceRegion: cfg.ReferenceRegion,
		TopN:            cfg.TopN,
		Probe: validator.Options{
			Concurrency:  cfg.ProbeConf.Concurrency,
			PhaseTimeout: time.Duration(cfg.PhaseTimeoutSec) * time.Second,
			Retries:      cfg.Retries,
			RetryDelay:   time.Duration(cfg.RetryDelayMS) * time.Millisecond,
			Thresholds: validator.Thresholds{
				MaxLatency:    time.Duration(cfg.MaxLatencyMS) * time.Millisecond,
				MinThroughput: cfg.MinThroughputMBps * (1 << 20),
			},
		},
		Export: export.Options{
			Port:           cfg.ExportConf.Port,
			AllowLAN:       cfg.AllowLAN,
			Mode:           cfg.ExportConf.Mode,
			LogLevel:       cfg.ExportConf.LogLevel,
			SelectGroup:    cfg.SelectGroup,
			AutoGroup:      cfg.AutoGroup,
			HealthCheckURL: cfg.HealthCheckURL,
			Interval:       cfg.IntervalSec,
		},
		RunTimeout: time.Duration(cfg.RunTimeoutSec) * time.Second,
		Interval:   time.Duration(cfg.IntervalMinutes) * time.Minute,
	}, nil
}

// NewMeasurer 创建真实网络的 Measurer。
func NewMeasurer(cfg *types.Config) *validator.NetMeasurer {
	m := validator.NewNetMeasurer(cfg.TestURL, "")
	m.HandshakeTimeout = time.Duration(cfg.HandshakeTimeoutMS) * time.Millisecond
	m.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	m.SampleBytes = cfg.SampleBytes
	return m
}

// RunOnce 执行一次流水线。
func (s *AppServer) RunOnce(ctx context.Context) (*manager.Report, error) {
	rep, err := s.manager.Run(ctx)
	if err != nil {
		return rep, err
	}
	logger.Info().
		Str("run_id", rep.RunID).
		Int("ranked", len(rep.Ranked)).
		Str("output", s.store.Dir()).
		Msg("Artifacts published.")
	return rep, nil
}

// Run 启动定时流水线和 web 服务，阻塞到 ctx 结束后优雅退出。
func (s *AppServer) Run(ctx context.Context) error {
	logger.Info().Msg("Starting in 'serve' mode...")

	s.manager.SetObserver(s.hub.BroadcastProbeResult)
	s.manager.SetRunHook(func(rep *manager.Report) {
		s.hub.BroadcastRunFinished(web.NewStatus(rep))
	})

	go s.hub.Run()

	handler := web.NewHandler(s.store, s.manager)
	srv, err := web.StartServer(&s.waitGroup, s.cfg.WebConf, web.NewMux(s.cfg.WebConf, handler, s.hub, s.metrics))
	if err != nil {
		s.hub.Stop()
		return err
	}

	s.manager.Start()

	<-ctx.Done()
	s.Stop()
	if err := web.Shutdown(srv, 5*time.Second); err != nil {
		logger.Warn().Err(err).Msg("Web server did not shut down cleanly.")
	}
	s.Wait()
	return nil
}

// Stop gracefully shuts down the scheduler and the websocket hub.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		s.manager.Stop()
		s.hub.Stop()
	})
}

func (s *AppServer) Wait() {
	s.waitGroup.Wait()
}

func (s *AppServer) loadRegions() ([]region.Region, error) {
	all := region.Builtin()
	if s.cfg.RegionConf.File != "" {
		var err error
		all, err = region.LoadFile(s.path(s.cfg.RegionConf.File), all)
		if err != nil {
			return nil, err
		}
	}
	return region.Select(all, config.SplitList(s.cfg.Enabled))
}

func (s *AppServer) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.configDir, p)
}

func hasRegion(regions []region.Region, name string) bool {
	for _, r := range regions {
		if r.Name == name {
			return true
		}
	}
	return false
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
