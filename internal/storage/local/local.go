package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"cloudstore/internal/relay"
	"cloudstore/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Storage 将对象写入本地文件系统。
type Storage struct {
	BaseDir string
	BaseURL string
	logger  *zap.Logger
}

func New(baseDir, baseURL string, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{BaseDir: baseDir, BaseURL: baseURL, logger: logger.With(zap.String("driver", "local"))}
}

// Write 经由 relay 写入临时文件，成功后原子地重命名为目标文件。
// 任何失败都会删除临时文件，目标文件保持不变。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local storage uninitialized")
	}
	if err := storage.ValidateOptions(opts); err != nil {
		return storage.Location{}, err
	}
	targetPath, cleanKey, err := s.resolve(key)
	if err != nil {
		return storage.Location{}, err
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	tempPath := fmt.Sprintf("%s.%s.tmp", targetPath, uuid.NewString())
	file, err := os.Create(tempPath)
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}

	out := relay.Run(ctx, r, relay.NewWriterSink(file), opts.Policy())
	if !out.OK() {
		file.Close()
		os.Remove(tempPath)
		s.logger.Debug("write aborted", zap.String("key", cleanKey), zap.Stringer("outcome", out.Kind))
		return storage.Location{}, fmt.Errorf("write file: %w", out.Error())
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}

	loc := storage.Location{Path: targetPath, Size: out.Bytes, Digest: out.Digest}
	if s.BaseURL != "" {
		if u, err := url.JoinPath(s.BaseURL, cleanKey); err == nil {
			loc.URL = u
		}
	}

	return loc, nil
}

// Read 打开并返回指定 key 对应的文件内容。
func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("local storage uninitialized")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	targetPath, cleanKey, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, cleanKey)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return file, nil
}

// Delete 删除对象文件。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("local storage uninitialized")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	targetPath, cleanKey, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(targetPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, cleanKey)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *Storage) resolve(key string) (string, string, error) {
	cleanKey, err := storage.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.BaseDir, filepath.FromSlash(cleanKey)), cleanKey, nil
}

var _ storage.Storage = (*Storage)(nil)
