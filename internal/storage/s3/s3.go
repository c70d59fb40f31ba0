package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloudstore/internal/fetch"
	"cloudstore/internal/storage"

	"github.com/minio/minio-go/v7/pkg/signer"
	"go.uber.org/zap"
)

// unsignedPayload 让签名不依赖请求体，请求体因此可以边读边传。
const unsignedPayload = "UNSIGNED-PAYLOAD"

// Config 描述 S3 REST 访问参数。
type Config struct {
	Endpoint     string // 不含协议，如 "s3.us-east-1.amazonaws.com"
	AccessKey    string
	SecretKey    string
	SessionToken string
	Bucket       string
	Region       string
	UseSSL       bool
	PathStyle    bool
}

// Storage 直接通过 S3 REST 接口读写对象，使用 AWS Signature V4 签名。
type Storage struct {
	cfg    Config
	client *fetch.Client
	logger *zap.Logger
}

func New(cfg Config, client *fetch.Client, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Storage{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("driver", "s3"), zap.String("bucket", cfg.Bucket)),
	}
}

// Write 以 PUT Object 上传，请求体经由 relay 流式发送。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if err := storage.ValidateOptions(opts); err != nil {
		return storage.Location{}, err
	}
	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return storage.Location{}, err
	}
	// S3 的 PutObject 不接受分块传输，必须带 Content-Length
	if opts.Size <= 0 {
		return storage.Location{}, fmt.Errorf("put object %s: %w", cleanKey, storage.ErrLengthRequired)
	}

	req := s.request(http.MethodPut, cleanKey)
	req.Body = r
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

// Delete 删除对象。S3 删除不存在的 key 也会成功，所以先用 HEAD 确认。
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

	host, path := s.cfg.Bucket+"."+s.cfg.Endpoint, "/"+key
	if s.cfg.PathStyle {
		host, path = s.cfg.Endpoint, "/"+s.cfg.Bucket+"/"+key
	}

	return &fetch.Request{
		Method:    method,
		Scheme:    scheme,
		Host:      host,
		Path:      path,
		Header:    http.Header{},
		Authorize: s.sign,
	}
}

// sign 在请求发出前计算 Authorization 头。
func (s *Storage) sign(r *http.Request) error {
	if s.cfg.AccessKey == "" || s.cfg.SecretKey == "" {
		return fmt.Errorf("s3 credentials are not configured")
	}
	r.Header.Set("X-Amz-Content-Sha256", unsignedPayload)
	signed := signer.SignV4(*r, s.cfg.AccessKey, s.cfg.SecretKey, s.cfg.SessionToken, s.cfg.Region)
	r.Header = signed.Header
	return nil
}

func (s *Storage) mapError(op, key string, err error) error {
	if fetch.IsNotFound(err) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ storage.Storage = (*Storage)(nil)
