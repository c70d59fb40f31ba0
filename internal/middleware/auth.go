package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// OwnerContextKey 是存储在 context 中的调用方身份的键。
type OwnerContextKey struct{}

// Auth 创建网关鉴权中间件。
// 接受两种请求头：Authorization: ApiKey <token>，或在 verifier 非空时
// Authorization: Bearer <jwt>。验证成功后把 API Key 或 Token 的 sub 存入 context。
func Auth(validKeys []string, verifier *JWTVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	keySet := make(map[string]struct{}, len(validKeys))
	for _, key := range validKeys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			keySet[trimmed] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			scheme, credential, _ := strings.Cut(authHeader, " ")
			credential = strings.TrimSpace(credential)
			if credential == "" {
				writeAuthError(w, http.StatusUnauthorized, "empty credential")
				return
			}

			var owner string
			switch {
			case strings.EqualFold(scheme, "ApiKey"):
				if _, valid := keySet[credential]; !valid {
					writeAuthError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				owner = credential
			case strings.EqualFold(scheme, "Bearer") && verifier != nil:
				sub, err := verifier.Verify(credential)
				if err != nil {
					logger.Debug("token rejected", zap.Error(err))
					writeAuthError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				owner = sub
			default:
				writeAuthError(w, http.StatusUnauthorized, "invalid Authorization format, expected: ApiKey <token>")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey{}, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerID 从 context 中获取经过鉴权的调用方身份。
func GetOwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(OwnerContextKey{}).(string); ok {
		return v
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("WWW-Authenticate", `ApiKey realm="cloudstore"`)
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
