package drivers

import (
	"context"
	"fmt"

	"cloudstore/internal/config"
	"cloudstore/internal/fetch"
	"cloudstore/internal/storage"
	"cloudstore/internal/storage/local"
	"cloudstore/internal/storage/miniostore"
	"cloudstore/internal/storage/oss"
	"cloudstore/internal/storage/s3"

	"go.uber.org/zap"
)

// Open 按 cfg.StorageDriver 创建存储实现。REST 驱动共享同一个 fetch.Client。
func Open(ctx context.Context, cfg *config.Config, client *fetch.Client, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "local":
		return local.New(cfg.Local.Dir, cfg.Local.BaseURL, logger), nil
	case "minio":
		store, err := miniostore.New(ctx, miniostore.Config{
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			SessionToken:  cfg.S3.SessionToken,
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			UseSSL:        cfg.S3.UseSSL,
			PathStyle:     cfg.S3.PathStyle,
			HighWaterMark: cfg.Relay.HighWaterMark,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		return store, nil
	case "s3":
		return s3.New(s3.Config{
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			SessionToken: cfg.S3.SessionToken,
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			UseSSL:       cfg.S3.UseSSL,
			PathStyle:    cfg.S3.PathStyle,
		}, client, logger), nil
	case "oss":
		return oss.New(oss.Config{
			Endpoint:        cfg.OSS.Endpoint,
			AccessKeyID:     cfg.OSS.AccessKeyID,
			AccessKeySecret: cfg.OSS.AccessKeySecret,
			Bucket:          cfg.OSS.Bucket,
			UseSSL:          cfg.OSS.UseSSL,
		}, client, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// NewFetchClient 按连接池配置创建共享的出站客户端。
func NewFetchClient(cfg *config.Config, logger *zap.Logger) *fetch.Client {
	return fetch.New(fetch.Options{
		MaxConnsPerHost:     cfg.Pool.MaxConnsPerHost,
		MaxIdleConns:        cfg.Pool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Pool.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Pool.IdleConnTimeout,
		DialTimeout:         cfg.Pool.DialTimeout,
		HighWaterMark:       cfg.Relay.HighWaterMark,
	}, logger)
}
