package api

import (
	"net/http"

	"cloudstore/internal/config"
	csmiddleware "cloudstore/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
// verifier 为 nil 时只接受 API Key。
func NewRouter(cfg *config.Config, objectHandler *ObjectHandler, verifier *csmiddleware.JWTVerifier, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(csmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(csmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	if objectHandler != nil {
		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(csmiddleware.Auth(cfg.APIKeys, verifier, logger))
			}
			// 限流放在鉴权之后，按调用方身份计数
			r.Use(csmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			objectHandler.RegisterRoutes(r)
		})
	}

	return r
}
