package oss

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloudstore/internal/fetch"
	"cloudstore/internal/storage"

	"go.uber.org/zap"
)

// Config 描述阿里云 OSS 访问参数。
type Config struct {
	Endpoint        string // 如 "oss-cn-hangzhou.aliyuncs.com"
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	UseSSL          bool
}

// Storage 通过 OSS REST 接口读写对象，使用 Header 签名（HMAC-SHA1）。
type Storage struct {
	cfg    Config
	client *fetch.Client
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, client *fetch.Client, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("driver", "oss"), zap.String("bucket", cfg.Bucket)),
		now:    time.Now,
	}
}

// Write 以 PutObject 上传，请求体经由 relay 流式发送。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if err := storage.ValidateOptions(opts); err != nil {
		return storage.Location{}, err
	}
	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return storage.Location{}, err
	}

	req := s.request(http.MethodPut, cleanKey)
	req.Body = r
	// OSS 接受分块传输，已知大小时仍声明 Content-Length
	req.ContentLength = opts.Size
	req.Policy = opts.Policy()
	opts.ApplyHeaders(req.Header)

	resp, err := s.client.Fetch(ctx, req)
	if err != nil {
		return storage.Location{}, fmt.Errorf("put object: %w", err)
	}

	return storage.Location{
		Path:   cleanKey,
		URL:    req.URL().String(),
		Size:   resp.Uploaded,
		Digest: resp.Digest,
		ETag:   strings.Trim(resp.Header.Get("ETag"), `"`),
	}, nil
}

// Read 以流的形式返回对象内容。
func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	req := s.request(http.MethodGet, cleanKey)
	req.ReturnStream = true

	resp, err := s.client.Fetch(ctx, req)
	if err != nil {
		return nil, s.mapError("get object", cleanKey, err)
	}
	return &storage.Object{ReadCloser: resp.Body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Delete 删除对象，不存在时返回 storage.ErrNotFound。
func (s *Storage) Delete(ctx context.Context, key string) error {
	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return err
	}

	if _, err := s.client.Fetch(ctx, s.request(http.MethodHead, cleanKey)); err != nil {
		return s.mapError("head object", cleanKey, err)
	}
	if _, err := s.client.Fetch(ctx, s.request(http.MethodDelete, cleanKey)); err != nil {
		return s.mapError("delete object", cleanKey, err)
	}
	return nil
}

func (s *Storage) request(method, key string) *fetch.Request {
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	resource := "/" + s.cfg.Bucket + "/" + key

	return &fetch.Request{
		Method: method,
		Scheme: scheme,
		Host:   s.cfg.Bucket + "." + s.cfg.Endpoint,
		Path:   "/" + key,
		Header: http.Header{},
		Authorize: func(r *http.Request) error {
			return s.sign(r, resource)
		},
	}
}

// sign 设置 Date 与 Authorization: OSS AccessKeyId:Signature。
func (s *Storage) sign(r *http.Request, resource string) error {
	if s.cfg.AccessKeyID == "" || s.cfg.AccessKeySecret == "" {
		return fmt.Errorf("oss credentials are not configured")
	}
	r.Header.Set("Date", s.now().UTC().Format(http.TimeFormat))

	mac := hmac.New(sha1.New, []byte(s.cfg.AccessKeySecret))
	mac.Write([]byte(stringToSign(r, resource)))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	r.Header.Set("Authorization", "OSS "+s.cfg.AccessKeyID+":"+signature)
	return nil
}

// stringToSign 拼接 VERB、Content-MD5、Content-Type、Date、规范化的 x-oss- 头和资源。
func stringToSign(r *http.Request, resource string) string {
	var ossHeaders []string
	values := make(map[string]string)
	for name, vals := range r.Header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-oss-") {
			continue
		}
		ossHeaders = append(ossHeaders, lower)
		values[lower] = strings.TrimSpace(strings.Join(vals, ","))
	}
	sort.Strings(ossHeaders)

	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.Header.Get("Content-MD5"))
	b.WriteByte('\n')
	b.WriteString(r.Header.Get("Content-Type"))
	b.WriteByte('\n')
	b.WriteString(r.Header.Get("Date"))
	b.WriteByte('\n')
	for _, name := range ossHeaders {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(values[name])
		b.WriteByte('\n')
	}
	b.WriteString(resource)
	return b.String()
}

func (s *Storage) mapError(op, key string, err error) error {
	if fetch.IsNotFound(err) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ storage.Storage = (*Storage)(nil)
