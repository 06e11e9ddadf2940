package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"nodesieve/internal/shared/logger"
	"nodesieve/internal/shared/metrics"
	"nodesieve/proxypool/codec"
	"nodesieve/proxypool/dedupe"
	"nodesieve/proxypool/export"
	"nodesieve/proxypool/model"
	"nodesieve/proxypool/ranker"
	"nodesieve/proxypool/region"
	"nodesieve/proxypool/scraper"
	"nodesieve/proxypool/storage"
	"nodesieve/proxypool/subscription"
	"nodesieve/proxypool/validator"
)

// ErrEmptyPool 是流水线唯一的终止错误：没有节点进入排名阶段。
var ErrEmptyPool = errors.New("no nodes left to rank")

// Options 是一次运行的不可变配置。
type Options struct {
	Regions         []region.Region
	Scope           string // 只探测该区域的节点，为空时探测整个节点池
	ReferenceProxy  string
	ReferenceRegion string
	TopN            int
	Probe           validator.Options
	Export          export.Options
	RunTimeout      time.Duration
	Interval        time.Duration
}

// referenceAware 由可以经参考节点测量吞吐量的 Measurer 实现。
type referenceAware interface {
	WithReference(addr string) validator.Measurer
}

// Report 汇总一次运行。
type Report struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Sources     int
	FetchErr    error // 所有抓取失败的合并错误，非致命
	Parsed      int
	Pool        int
	Regions     map[string]int
	Reference   string
	Probe       validator.Summary
	Ranked      []*model.Node
	Rejected    []model.Skip
	Unencodable []model.Skip
}

// Manager 是节点筛选流水线的总控制器。
type Manager struct {
	opts       Options
	scrapers   []scraper.Scraper
	registry   *codec.Registry
	classifier *region.Classifier
	measurer   validator.Measurer
	store      storage.Storage
	metrics    *metrics.Registry
	observer   validator.Observer
	onFinished func(*Report)

	mu      sync.RWMutex
	latest  *Report
	running sync.Mutex

	// 调度器与生命周期管理
	ticker   *time.Ticker
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager 创建并初始化流水线管理器。
func NewManager(opts Options, classifier *region.Classifier, measurer validator.Measurer, store storage.Storage, reg *metrics.Registry) *Manager {
	return &Manager{
		opts:       opts,
		registry:   codec.NewRegistry(),
		classifier: classifier,
		measurer:   measurer,
		store:      store,
		metrics:    reg,
		stopChan:   make(chan struct{}),
	}
}

// AddScraper 添加一个订阅源。
func (m *Manager) AddScraper(s scraper.Scraper) {
	m.scrapers = append(m.scrapers, s)
}

// SetObserver registers a callback that receives each node as soon as it is probed.
func (m *Manager) SetObserver(o validator.Observer) {
	m.observer = o
}

// SetRunHook registers a callback invoked after every run, successful or not.
func (m *Manager) SetRunHook(fn func(*Report)) {
	m.onFinished = fn
}

// Latest returns the report of the last finished run, nil before the first one.
func (m *Manager) Latest() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Start 立即运行一次，之后按 Interval 定时运行。
func (m *Manager) Start() {
	l := logger.WithComponent("ProxyPool/Manager")
	l.Info().Msg("Manager starting...")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	interval := m.opts.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	m.ticker = time.NewTicker(interval)
	l.Info().Dur("interval", interval).Msg("Scheduler initialized.")

	m.wg.Add(2)
	go m.schedulerLoop(ctx)
	go func() {
		defer m.wg.Done()
		m.runCycle(ctx)
	}()
}

// schedulerLoop 是核心的调度循环，监听 Ticker 和停止信号。
func (m *Manager) schedulerLoop(ctx context.Context) {
	defer m.wg.Done()
	l := logger.WithComponent("ProxyPool/Manager")

	for {
		select {
		case <-m.ticker.C:
			l.Info().Msg("Run ticker triggered.")
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.runCycle(ctx)
			}()

		case <-m.stopChan:
			l.Info().Msg("Stop signal received. Shutting down scheduler.")
			m.ticker.Stop()
			return
		}
	}
}

// runCycle 执行一次运行。上一轮尚未结束时跳过本轮。
func (m *Manager) runCycle(ctx context.Context) {
	l := logger.WithComponent("ProxyPool/Manager")
	if !m.running.TryLock() {
		l.Warn().Msg("Previous run still in progress, skipping this tick.")
		return
	}
	defer m.running.Unlock()

	if _, err := m.Run(ctx); err != nil {
		l.Error().Err(err).Msg("Run failed.")
	}
}

// Stop 优雅地停止调度器，并取消正在进行的运行。
func (m *Manager) Stop() {
	close(m.stopChan)
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	logger.Info().Msg("Manager gracefully stopped.")
}

// Run 执行一次完整的“抓取 -> 解析 -> 去重 -> 分区 -> 探测 -> 排名 -> 导出 -> 存储”流程。
// 只有节点池为空（ErrEmptyPool）或产物写入失败时返回错误。
func (m *Manager) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{
		RunID:     uuid.NewString(),
		StartedAt: start,
		Sources:   len(m.scrapers),
		Regions:   make(map[string]int),
	}
	l := logger.WithComponent("ProxyPool/Manager").With().Str("run_id", rep.RunID).Logger()
	l.Info().Int("sources", rep.Sources).Msg("Starting new run...")

	if m.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.RunTimeout)
		defer cancel()
	}

	err := m.run(ctx, rep)
	rep.Duration = time.Since(start)

	result := "ok"
	switch {
	case errors.Is(err, ErrEmptyPool):
		result = "empty"
	case err != nil:
		result = "error"
	}
	m.metrics.RecordRun(result, rep.Duration)

	m.mu.Lock()
	m.latest = rep
	m.mu.Unlock()
	if m.onFinished != nil {
		m.onFinished(rep)
	}

	if err != nil {
		return rep, err
	}
	l.Info().
		Dur("duration", rep.Duration).
		Int("pool", rep.Pool).
		Int("passed", rep.Probe.Passed).
		Int("ranked", len(rep.Ranked)).
		Msg("Run finished.")
	return rep, nil
}

func (m *Manager) run(ctx context.Context, rep *Report) error {
	l := logger.WithComponent("ProxyPool/Manager").With().Str("run_id", rep.RunID).Logger()

	docs, fetchErr := m.fetchAll(ctx)
	rep.FetchErr = fetchErr
	if fetchErr != nil {
		l.Warn().Int("failed", len(multierr.Errors(fetchErr))).Err(fetchErr).Msg("Some sources could not be fetched.")
	}

	// 按订阅源顺序解析，保证 Seq 即发现顺序
	parser := subscription.NewParser(m.registry)
	var raw []*model.Node
	for _, d := range docs {
		res := parser.Parse(d.source, d.text)
		raw = append(raw, res.Nodes...)
		rep.Rejected = append(rep.Rejected, res.Skipped...)
	}
	rep.Parsed = len(raw)
	m.metrics.RecordEntries("decoded", len(raw))

	pool, dropped := dedupe.Dedupe(raw)
	rep.Rejected = append(rep.Rejected, dropped...)
	rep.Pool = len(pool)
	m.metrics.SetPool(len(pool))
	m.recordSkips(rep.Rejected)
	l.Info().Int("parsed", rep.Parsed).Int("pool", rep.Pool).Int("rejected", len(rep.Rejected)).Msg("Node pool built.")

	if len(pool) == 0 {
		return fmt.Errorf("%w: %d sources, %d entries parsed", ErrEmptyPool, rep.Sources, rep.Parsed)
	}

	pools := m.classifier.Tag(ctx, pool, m.opts.Regions)
	for name, p := range pools {
		rep.Regions[name] = len(p)
	}

	candidates := pool
	if m.opts.Scope != "" {
		candidates = filterRegion(pool, m.opts.Scope)
		l.Info().Str("scope", m.opts.Scope).Int("count", len(candidates)).Msg("Probing scoped region only.")
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: region %q has no nodes", ErrEmptyPool, m.opts.Scope)
	}

	rep.Reference = m.reference(pools)
	measurer := m.measurer
	if ra, ok := measurer.(referenceAware); ok && rep.Reference != "" {
		measurer = ra.WithReference(rep.Reference)
		l.Info().Str("reference", rep.Reference).Msg("Stage 2 tunnels through the reference node.")
	}

	v := validator.NewValidator(measurer, m.opts.Probe, m.metrics)
	v.SetObserver(m.observer)
	rep.Probe = v.Validate(ctx, candidates)

	rep.Ranked = ranker.Rank(candidates, m.opts.TopN)
	m.metrics.SetRanked(len(rep.Ranked))

	routing := export.BuildRoutingConfig(rep.Ranked, m.opts.Export)
	bundle, unencodable := export.Bundle(rep.Ranked, m.registry)
	rep.Unencodable = unencodable

	if m.store == nil {
		return nil
	}
	err := m.store.Save(&storage.Artifacts{
		Pool:     pool,
		Regions:  pools,
		Rejected: rep.Rejected,
		Ranked:   rep.Ranked,
		Routing:  routing,
		Bundle:   bundle,
	})
	if err != nil {
		return fmt.Errorf("failed to save artifacts: %w", err)
	}
	return nil
}

type document struct {
	source string
	text   string
}

// fetchAll 并发抓取所有订阅源。失败的源被跳过，错误合并后返回。
// 返回的文档保持订阅源的配置顺序。
func (m *Manager) fetchAll(ctx context.Context) ([]document, error) {
	l := logger.WithComponent("ProxyPool/Manager")

	type fetched struct {
		index int
		text  string
		err   error
	}

	var wg sync.WaitGroup
	resultsChan := make(chan fetched, len(m.scrapers))
	for i, s := range m.scrapers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := s.Scrape(ctx)
			resultsChan <- fetched{index: i, text: text, err: err}
		}()
	}
	wg.Wait()
	close(resultsChan)

	results := make([]fetched, 0, len(m.scrapers))
	for r := range resultsChan {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	var errs error
	docs := make([]document, 0, len(results))
	for _, r := range results {
		m.metrics.RecordFetch(r.err)
		name := m.scrapers[r.index].Name()
		if r.err != nil {
			l.Warn().Err(r.err).Str("source", name).Msg("Scraper failed.")
			errs = multierr.Append(errs, r.err)
			continue
		}
		docs = append(docs, document{source: name, text: r.text})
	}
	return docs, errs
}

// reference 返回第二阶段使用的参考节点地址：显式配置优先，
// 否则取参考区域中的第一个节点。
func (m *Manager) reference(pools map[string][]*model.Node) string {
	if m.opts.ReferenceProxy != "" {
		return m.opts.ReferenceProxy
	}
	if m.opts.ReferenceRegion == "" {
		return ""
	}
	if p := pools[m.opts.ReferenceRegion]; len(p) > 0 {
		return p[0].Key()
	}
	return ""
}

func (m *Manager) recordSkips(skips []model.Skip) {
	counts := make(map[model.SkipReason]int)
	for _, s := range skips {
		counts[s.Reason]++
	}
	for reason, n := range counts {
		m.metrics.RecordEntries(string(reason), n)
	}
}

func filterRegion(nodes []*model.Node, name string) []*model.Node {
	var out []*model.Node
	for _, n := range nodes {
		if n.HasRegion(name) {
			out = append(out, n)
		}
	}
	return out
}
