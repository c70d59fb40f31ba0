package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloudstore/internal/relay"
)

// ErrNotFound 表示对象不存在，所有驱动统一返回该错误。
var ErrNotFound = errors.New("storage: object not found")

// ErrInvalidKey 表示对象 key 为空或试图越出根目录。
var ErrInvalidKey = errors.New("storage: invalid object key")

// ErrInvalidOptions 表示写入选项不合法。
var ErrInvalidOptions = errors.New("storage: invalid write options")

// ErrLengthRequired 表示后端要求预先声明对象大小，而调用方无法提供。
var ErrLengthRequired = errors.New("storage: object size must be known in advance")

// Writer 定义对象存储写接口，支持流式写入。
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader, opts WriteOptions) (Location, error)
}

// Reader 定义对象存储读接口，支持流式读取。
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// Deleter 删除对象，对象不存在时返回 ErrNotFound。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Storage 组合了读写删能力的完整存储接口。
type Storage interface {
	Writer
	Reader
	Deleter
}

// Object 是 Read 返回的对象内容，ContentType 为后端记录的类型（可能为空）。
type Object struct {
	io.ReadCloser
	ContentType string
}

// ContentTypeOf 返回 Read 结果携带的内容类型，没有时返回空串。
func ContentTypeOf(rc io.ReadCloser) string {
	if obj, ok := rc.(*Object); ok {
		return obj.ContentType
	}
	return ""
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path   string
	URL    string
	Size   int64
	Digest string
	ETag   string
}

// WriteOptions 是调用方可见的写入选项。
type WriteOptions struct {
	// Limit 为最大字节数，0 表示不限制。
	Limit int64
	Hash  relay.HashAlgorithm
	// ContentType 为空时使用 application/octet-stream。
	ContentType string
	// ContentEncoding 只声明载荷编码（deflate 或 gzip），数据原样写入。
	ContentEncoding string
	// Header 是附加到上传请求上的头，例如 x-amz-meta-* 或 x-oss-meta-*。
	Header map[string]string
	// DrainTimeout 为 0 时使用 relay.DefaultDrainTimeout。
	DrainTimeout time.Duration
	// Size 为预先已知的载荷字节数，0 表示未知。
	// 已知时作为 Content-Length 发送，上限仍由 relay 强制。
	Size int64
}

// ValidateOptions 拒绝负的上限以及未知的摘要算法和编码。
func ValidateOptions(opts WriteOptions) error {
	if opts.Limit < 0 {
		return fmt.Errorf("%w: limit must be a positive byte count", ErrInvalidOptions)
	}
	if opts.DrainTimeout < 0 {
		return fmt.Errorf("%w: drain timeout must not be negative", ErrInvalidOptions)
	}
	if opts.Size < 0 {
		return fmt.Errorf("%w: size must not be negative", ErrInvalidOptions)
	}
	if _, err := relay.ParseHashAlgorithm(string(opts.Hash)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	switch strings.ToLower(opts.ContentEncoding) {
	case "", "deflate", "gzip":
	default:
		return fmt.Errorf("%w: unsupported content encoding %q", ErrInvalidOptions, opts.ContentEncoding)
	}
	for name := range opts.Header {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: header name must not be empty", ErrInvalidOptions)
		}
	}
	return nil
}

// Policy 把写入选项转换为中继策略。
func (o WriteOptions) Policy() relay.Policy {
	hash, _ := relay.ParseHashAlgorithm(string(o.Hash))
	return relay.Policy{
		Limit:        o.Limit,
		Hash:         hash,
		DrainTimeout: o.DrainTimeout,
	}
}

// ContentTypeOrDefault 返回声明的类型或 application/octet-stream。
func (o WriteOptions) ContentTypeOrDefault() string {
	if o.ContentType == "" {
		return "application/octet-stream"
	}
	return o.ContentType
}

// ApplyHeaders 把内容类型、编码与附加头写入 h。
func (o WriteOptions) ApplyHeaders(h http.Header) {
	h.Set("Content-Type", o.ContentTypeOrDefault())
	if o.ContentEncoding != "" {
		h.Set("Content-Encoding", strings.ToLower(o.ContentEncoding))
	}
	for name, value := range o.Header {
		h.Set(name, value)
	}
}

// CleanKey 规范化对象 key，去掉开头的 "/"，拒绝空 key 与 ".." 越界。
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return cleaned, nil
}
