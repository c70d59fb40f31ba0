package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clbanning/mxj/v2"
)

// MediaType 去掉 ";" 之后的参数并转为小写。
func MediaType(contentType string) string {
	value, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(value))
}

// Decode 按声明的 Content-Type 解析完整缓冲的响应体。
// XML 解析为通用的 map[string]any，JSON 使用标准解析，其它类型返回 ErrUnsupportedContentType。
// 空响应体返回 nil。
func Decode(contentType string, payload []byte) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}

	switch mediaType := MediaType(contentType); mediaType {
	case "application/xml":
		m, err := mxj.NewMapXml(payload)
		if err != nil {
			return nil, fmt.Errorf("decode xml body: %w", err)
		}
		return map[string]any(m), nil
	case "application/json":
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
	}
}

// lookup 沿着 path 在解码后的嵌套 map 中取字符串值。
func lookup(v any, path ...string) (string, bool) {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		if v, ok = m[key]; !ok {
			return "", false
		}
	}
	s, ok := v.(string)
	return s, ok
}
