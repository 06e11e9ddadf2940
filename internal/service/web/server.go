package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nodesieve/internal/shared/logger"
	"nodesieve/internal/shared/metrics"
	"nodesieve/internal/shared/types"
)

// basicAuthMiddleware 检查 user 和 password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux 注册所有路由。/ws 和 /metrics 不需要认证。
func NewMux(cfg types.WebConf, handler *Handler, hub *Hub, reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	user, password := cfg.User, cfg.Password

	mux.Handle("/sub", basicAuthMiddleware(http.HandlerFunc(handler.HandleSub), user, password))
	mux.Handle("/clash.yaml", basicAuthMiddleware(http.HandlerFunc(handler.HandleClash), user, password))
	mux.Handle("/api/nodes", basicAuthMiddleware(http.HandlerFunc(handler.HandleNodes), user, password))
	mux.HandleFunc("/api/status", handler.HandleStatus)

	if hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWs(hub, w, r)
		})
	}
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	}
	return mux
}

// StartServer 在 cfg.Port 上启动 web 服务。端口为 0 时不启动并返回 nil。
func StartServer(wg *sync.WaitGroup, cfg types.WebConf, h http.Handler) (*http.Server, error) {
	l := logger.WithComponent("Web/Server")
	if cfg.Port <= 0 {
		l.Info().Msg("Web server is disabled (port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	l.Info().Str("addr", addr).Msg("Web server is listening.")

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return srv, nil
}

// Shutdown 优雅关闭服务器。
func Shutdown(srv *http.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
