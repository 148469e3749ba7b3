package app

import (
	"github.com/prometheus/client_golang/prometheus"

	cfgpkg "github.com/taoyao-code/mte-gateway/internal/config"
	"github.com/taoyao-code/mte-gateway/internal/httpserver"
	"github.com/taoyao-code/mte-gateway/internal/metrics"
)

// NewHTTPServer 创建 HTTP 服务器；metrics.enable=false 时不暴露指标
func NewHTTPServer(cfg *cfgpkg.Config, reg *prometheus.Registry, readyFn func() bool) *httpserver.Server {
	if !cfg.Metrics.Enable || reg == nil {
		return httpserver.New(cfg.HTTP, "", nil, readyFn)
	}
	return httpserver.New(cfg.HTTP, cfg.Metrics.Path, metrics.Handler(reg), readyFn)
}
