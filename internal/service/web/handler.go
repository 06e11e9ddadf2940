package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"nodesieve/internal/shared/logger"
	manager "nodesieve/proxypool"
	"nodesieve/proxypool/model"
	"nodesieve/proxypool/storage"
	"nodesieve/proxypool/validator"
)

// ArtifactReader 是 web 层读取已发布产物的方式。
type ArtifactReader interface {
	Read(name string) ([]byte, error)
	LoadRanked() ([]*model.Node, error)
}

// StatusProvider exposes the last finished run.
type StatusProvider interface {
	Latest() *manager.Report
}

// Status 是 /api/status 的响应体。
type Status struct {
	RunID       string            `json:"run_id"`
	StartedAt   time.Time         `json:"started_at"`
	DurationMS  int64             `json:"duration_ms"`
	Sources     int               `json:"sources"`
	FetchErrors []string          `json:"fetch_errors,omitempty"`
	Parsed      int               `json:"parsed"`
	Pool        int               `json:"pool"`
	Regions     map[string]int    `json:"regions"`
	Reference   string            `json:"reference,omitempty"`
	Probe       validator.Summary `json:"probe"`
	Ranked      int               `json:"ranked"`
	Rejected    int               `json:"rejected"`
}

// NewStatus converts a run report into its JSON view.
func NewStatus(rep *manager.Report) *Status {
	s := &Status{
		RunID:      rep.RunID,
		StartedAt:  rep.StartedAt,
		DurationMS: rep.Duration.Milliseconds(),
		Sources:    rep.Sources,
		Parsed:     rep.Parsed,
		Pool:       rep.Pool,
		Regions:    rep.Regions,
		Reference:  rep.Reference,
		Probe:      rep.Probe,
		Ranked:     len(rep.Ranked),
		Rejected:   len(rep.Rejected),
	}
	for _, err := range multierr.Errors(rep.FetchErr) {
		s.FetchErrors = append(s.FetchErrors, err.Error())
	}
	return s
}

type Handler struct {
	store  ArtifactReader
	status StatusProvider
}

func NewHandler(store ArtifactReader, status StatusProvider) *Handler {
	return &Handler{store: store, status: status}
}

// HandleSub 返回 base64 链接包（v2.txt）。
func (h *Handler) HandleSub(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, storage.BundleFile, "text/plain; charset=utf-8")
}

// HandleClash 返回路由配置（clash.yaml）。
func (h *Handler) HandleClash(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, storage.ClashFile, "text/yaml; charset=utf-8")
}

// HandleNodes 返回排名节点（ranked.json）。带 region 参数时只返回该区域的节点。
func (h *Handler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		h.serveArtifact(w, r, storage.RankedFile, "application/json")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ranked, err := h.store.LoadRanked()
	if err != nil {
		h.readFailed(w, storage.RankedFile, err)
		return
	}
	nodes := make([]*model.Node, 0, len(ranked))
	for _, n := range ranked {
		if n.HasRegion(region) {
			nodes = append(nodes, n)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Warn().Err(err).Msg("Failed to write nodes response.")
	}
}

// HandleStatus 返回最近一次运行的摘要。
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var rep *manager.Report
	if h.status != nil {
		rep = h.status.Latest()
	}
	if rep == nil {
		http.Error(w, "No run has finished yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(NewStatus(rep)); err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Warn().Err(err).Msg("Failed to write status response.")
	}
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, name, contentType string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := h.store.Read(name)
	if err != nil {
		h.readFailed(w, name, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

func (h *Handler) readFailed(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, storage.ErrNotPublished) {
		http.Error(w, "Not published yet", http.StatusServiceUnavailable)
		return
	}
	l := logger.WithComponent("Web/Handler")
	l.Error().Err(err).Str("artifact", name).Msg("Failed to read artifact.")
	http.Error(w, "Failed to read artifact", http.StatusInternalServerError)
}
