package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit 限制同一调用方在滑动窗口内的请求数量。
// 已鉴权的请求按身份计数，否则按来源 IP（RealIP 中间件已处理代理头）。
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(maxRequests, window,
		httprate.WithKeyFuncs(clientKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

func clientKey(r *http.Request) (string, error) {
	if owner := GetOwnerID(r.Context()); owner != "" {
		return "owner:" + owner, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
