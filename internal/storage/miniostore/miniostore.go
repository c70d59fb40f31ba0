package miniostore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloudstore/internal/relay"
	"cloudstore/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config 包含 S3/MinIO 存储所需的配置。
type Config struct {
	Endpoint     string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey    string
	SecretKey    string
	SessionToken string
	Bucket       string
	Region       string
	UseSSL       bool // 是否使用 HTTPS
	PathStyle    bool // 是否使用路径风格（MinIO 需要 true）
	// HighWaterMark 是 SDK 读取端之前的缓冲上限。
	HighWaterMark int
}

// Storage 实现了 storage.Storage 接口，通过 minio-go SDK 访问 S3 兼容存储。
type Storage struct {
	client    *minio.Client
	bucket    string
	highWater int
	logger    *zap.Logger
}

// New 创建存储实例，bucket 不存在时自动创建。
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	// 检查 bucket 是否存在，不存在则创建
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Storage{
		client:    client,
		bucket:    cfg.Bucket,
		highWater: cfg.HighWaterMark,
		logger:    logger.With(zap.String("driver", "minio"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

type putResult struct {
	info minio.UploadInfo
	err  error
}

// Write 把 r 经由 relay 写入 Pipe，SDK 从 Pipe 的读端消费并上传。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("minio storage uninitialized")
	}
	if err := storage.ValidateOptions(opts); err != nil {
		return storage.Location{}, err
	}
	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return storage.Location{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipe := relay.NewPipe(s.highWater)
	task := relay.Start(ctx, r, pipe, opts.Policy())

	putOpts := minio.PutObjectOptions{
		ContentType:     opts.ContentTypeOrDefault(),
		ContentEncoding: opts.ContentEncoding,
		UserMetadata:    opts.Header,
	}

	results := make(chan putResult, 1)
	// 大小未知时传 -1，SDK 会按需切换分片上传
	size := int64(-1)
	if opts.Size > 0 {
		size = opts.Size
	}
	go func() {
		info, err := s.client.PutObject(ctx, s.bucket, cleanKey, pipe.Reader(), size, putOpts)
		results <- putResult{info: info, err: err}
	}()

	var res putResult
	select {
	case <-task.Done():
		if out := task.Outcome(); !out.OK() {
			cancel()
			<-results
			s.logger.Debug("upload aborted", zap.String("key", cleanKey), zap.Stringer("outcome", out.Kind))
			return storage.Location{}, fmt.Errorf("put object: %w", out.Error())
		}
		res = <-results
	case res = <-results:
	}

	if res.err != nil {
		pipe.Destroy(res.err)
		if out := task.Outcome(); !out.OK() && !errors.Is(out.Err, res.err) && !errors.Is(out.Err, relay.ErrSinkClosed) {
			return storage.Location{}, fmt.Errorf("put object: %w", out.Error())
		}
		return storage.Location{}, fmt.Errorf("put object: %w: %w", relay.ErrTransport, res.err)
	}

	out := task.Outcome()
	if !out.OK() {
		return storage.Location{}, fmt.Errorf("put object: %w", out.Error())
	}

	return storage.Location{
		Path:   cleanKey,
		URL:    fmt.Sprintf("s3://%s/%s", s.bucket, res.info.Key),
		Size:   out.Bytes,
		Digest: out.Digest,
		ETag:   res.info.ETag,
	}, nil
}

// Read 从 S3 存储读取对象。
func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio storage uninitialized")
	}

	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, cleanKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	// 验证对象是否存在
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, s.mapError("stat object", cleanKey, err)
	}

	return &storage.Object{ReadCloser: obj, ContentType: info.ContentType}, nil
}

// Delete 删除对象。S3 对不存在的 key 也返回成功，所以先 Stat。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio storage uninitialized")
	}

	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, cleanKey, minio.StatObjectOptions{}); err != nil {
		return s.mapError("stat object", cleanKey, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, cleanKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *Storage) mapError(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ storage.Storage = (*Storage)(nil)
