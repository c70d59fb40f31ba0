package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloudstore/internal/config"
	"cloudstore/internal/relay"
	"cloudstore/internal/repository"
	"cloudstore/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLedgerDisabled 表示未配置对象台账，无法列出对象。
var ErrLedgerDisabled = errors.New("object ledger is not configured")

// Defaults 是调用方未指定时使用的写入策略，其中 Limit 同时是调用方不能超过的上限。
type Defaults struct {
	Limit        int64
	Hash         relay.HashAlgorithm
	DrainTimeout time.Duration
}

// DefaultsFromConfig 校验并转换配置中的中继默认值。
func DefaultsFromConfig(cfg config.RelayConfig) (Defaults, error) {
	hash, err := relay.ParseHashAlgorithm(cfg.DefaultHash)
	if err != nil {
		return Defaults{}, fmt.Errorf("UPLOAD_HASH: %w", err)
	}
	return Defaults{
		Limit:        cfg.UploadLimitBytes,
		Hash:         hash,
		DrainTimeout: cfg.DrainTimeout,
	}, nil
}

// ObjectService 封装对象读写与台账记录的业务流程。
type ObjectService struct {
	store    storage.Storage
	repo     repository.ObjectRepository
	backend  string
	defaults Defaults
	logger   *zap.Logger
}

// NewObjectService 创建服务，repo 为 nil 时不记录台账。
func NewObjectService(store storage.Storage, repo repository.ObjectRepository, backend string, defaults Defaults, logger *zap.Logger) *ObjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectService{
		store:    store,
		repo:     repo,
		backend:  backend,
		defaults: defaults,
		logger:   logger,
	}
}

// PutInput 描述一次对象写入。
type PutInput struct {
	Key     string
	Reader  io.Reader
	Options storage.WriteOptions
}

// PutResult 是写入结果，Record 仅在启用台账时非空。
type PutResult struct {
	Location storage.Location
	Record   *repository.ObjectRecord
}

// Put 把对象写入存储，成功后记录到台账。
func (s *ObjectService) Put(ctx context.Context, input PutInput) (*PutResult, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("object service not initialized")
	}
	key, err := storage.CleanKey(input.Key)
	if err != nil {
		return nil, err
	}
	if input.Reader == nil {
		return nil, fmt.Errorf("object body is required")
	}

	opts := s.applyDefaults(input.Options)
	if err := storage.ValidateOptions(opts); err != nil {
		return nil, err
	}

	start := time.Now()
	loc, err := s.store.Write(ctx, key, input.Reader, opts)
	if err != nil {
		return nil, fmt.Errorf("write storage: %w", err)
	}
	s.logger.Info("object stored",
		zap.String("key", key),
		zap.Int64("bytes", loc.Size),
		zap.String("digest", loc.Digest),
		zap.Duration("elapsed", time.Since(start)),
	)

	result := &PutResult{Location: loc}
	if s.repo == nil {
		return result, nil
	}

	now := time.Now().UTC()
	record := &repository.ObjectRecord{
		ID:              uuid.NewString(),
		Key:             key,
		Backend:         s.backend,
		SizeBytes:       loc.Size,
		Digest:          optional(loc.Digest),
		HashAlgorithm:   optional(string(opts.Hash)),
		ContentType:     opts.ContentTypeOrDefault(),
		ContentEncoding: optional(opts.ContentEncoding),
		ETag:            optional(loc.ETag),
		Status:          repository.ObjectStatusStored,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return result, fmt.Errorf("record object: %w", err)
	}
	result.Record = created
	return result, nil
}

// Get 以流的形式读取对象，调用方负责关闭。
func (s *ObjectService) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("object service not initialized")
	}
	return s.store.Read(ctx, key)
}

// Delete 删除对象并在台账中标记。台账里没有记录不视为错误。
func (s *ObjectService) Delete(ctx context.Context, key string) error {
	if s == nil || s.store == nil {
		return errors.New("object service not initialized")
	}
	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, cleanKey); err != nil {
		return err
	}
	if s.repo == nil {
		return nil
	}
	if err := s.repo.MarkDeleted(ctx, s.backend, cleanKey); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("mark object deleted: %w", err)
	}
	return nil
}

// List 从台账分页列出当前 backend 的对象。
func (s *ObjectService) List(ctx context.Context, params repository.ListObjectsParams) ([]repository.ObjectRecord, error) {
	if s == nil || s.repo == nil {
		return nil, ErrLedgerDisabled
	}
	params.Backend = s.backend
	return s.repo.List(ctx, params)
}

func (s *ObjectService) applyDefaults(opts storage.WriteOptions) storage.WriteOptions {
	// 服务端上限是硬上限，调用方只能收紧
	if s.defaults.Limit > 0 && (opts.Limit == 0 || opts.Limit > s.defaults.Limit) {
		opts.Limit = s.defaults.Limit
	}
	if hash, err := relay.ParseHashAlgorithm(string(opts.Hash)); err == nil {
		opts.Hash = hash
	}
	if opts.Hash == relay.HashNone {
		opts.Hash = s.defaults.Hash
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = s.defaults.DrainTimeout
	}
	return opts
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
