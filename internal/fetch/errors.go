package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnsupportedContentType 表示响应的 Content-Type 没有对应的解码器。
	ErrUnsupportedContentType = errors.New("fetch: unsupported content type")
	// ErrMissingDigest 表示请求了摘要但成功路径上没有得到摘要。
	ErrMissingDigest = errors.New("fetch: digest requested but not produced")
)

// StatusError 表示状态码不在 [200,300) 内的响应，Body 为已完整解码的错误载荷。
type StatusError struct {
	StatusCode int
	Body       any
	Raw        []byte
	// DecodeErr 记录错误载荷解码失败的原因，此时 Body 为 nil。
	DecodeErr error
}

func (e *StatusError) Error() string {
	if code := e.Code(); code != "" {
		return fmt.Sprintf("fetch: unexpected status %d (%s)", e.StatusCode, code)
	}
	return fmt.Sprintf("fetch: unexpected status %d", e.StatusCode)
}

// Code 提取厂商的机器可读错误码，例如 S3/OSS XML 中的 Error.Code。
func (e *StatusError) Code() string {
	for _, path := range [][]string{
		{"Error", "Code"},
		{"Code"},
		{"error", "code"},
		{"code"},
	} {
		if code, ok := lookup(e.Body, path...); ok && code != "" {
			return code
		}
	}
	return ""
}

// Message 提取错误说明。
func (e *StatusError) Message() string {
	for _, path := range [][]string{
		{"Error", "Message"},
		{"Message"},
		{"error", "message"},
		{"message"},
	} {
		if msg, ok := lookup(e.Body, path...); ok {
			return msg
		}
	}
	return ""
}

// IsNotFound 判断 err 是否表示对象不存在。
func IsNotFound(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusNotFound || se.Code() == "NoSuchKey"
}
