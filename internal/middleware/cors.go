package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// DigestHeader 是网关返回上传摘要的响应头。
const DigestHeader = "X-Object-Digest"

// CORS 生成允许指定来源访问的跨域中间件，"*" 表示任意来源（此时不携带凭证）。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := false
	for _, origin := range allowedOrigins {
		value := strings.TrimSpace(origin)
		if value == "" {
			continue
		}
		if value == "*" {
			wildcard = true
		}
		origins = append(origins, value)
	}
	if wildcard {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Authorization",
			"Content-Type",
			"Content-Encoding",
			"X-Requested-With",
			"X-Amz-Meta-*",
			"X-Oss-Meta-*",
		},
		ExposedHeaders:   []string{"ETag", DigestHeader},
		AllowCredentials: !wildcard,
		MaxAge:           600,
	})
}
