package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示台账中没有对应的有效记录。
var ErrNotFound = errors.New("repository: record not found")

// ObjectStatus 描述对象在台账中的状态。
type ObjectStatus string

const (
	ObjectStatusStored  ObjectStatus = "stored"
	ObjectStatusDeleted ObjectStatus = "deleted"
)

// ObjectRecord 记录一次成功的上传。
type ObjectRecord struct {
	ID              string       `json:"id"`
	Key             string       `json:"key"`
	Backend         string       `json:"backend"`
	SizeBytes       int64        `json:"size_bytes"`
	Digest          *string      `json:"digest,omitempty"`
	HashAlgorithm   *string      `json:"hash_algorithm,omitempty"`
	ContentType     string       `json:"content_type"`
	ContentEncoding *string      `json:"content_encoding,omitempty"`
	ETag            *string      `json:"etag,omitempty"`
	Status          ObjectStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ListObjectsParams 用于分页检索对象。
type ListObjectsParams struct {
	Backend  string
	Prefix   string
	Statuses []ObjectStatus
	Limit    int
	Offset   int
}

// ObjectRepository 是对象台账的持久层接口。
type ObjectRepository interface {
	// Create 写入新记录，同一 backend 下同 key 的旧记录被标记为 deleted。
	Create(ctx context.Context, record *ObjectRecord) (*ObjectRecord, error)
	GetByKey(ctx context.Context, backend, key string) (*ObjectRecord, error)
	List(ctx context.Context, params ListObjectsParams) ([]ObjectRecord, error)
	MarkDeleted(ctx context.Context, backend, key string) error
}
