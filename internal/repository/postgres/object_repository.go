package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloudstore/internal/repository"
)

// NewObjectRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewObjectRepository(db *sql.DB) *ObjectRepository {
	return &ObjectRepository{db: db}
}

// ObjectRepository 实现 repository.ObjectRepository。
type ObjectRepository struct {
	db *sql.DB
}

var objectColumns = []string{
	"id",
	"object_key",
	"backend",
	"size_bytes",
	"digest",
	"hash_algorithm",
	"content_type",
	"content_encoding",
	"etag",
	"status",
	"created_at",
	"updated_at",
}

// Create 在同一事务中替换同 key 的旧记录并插入新记录。
func (r *ObjectRepository) Create(ctx context.Context, record *repository.ObjectRecord) (*repository.ObjectRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("object record is nil")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE objects SET status = $1, updated_at = $2 WHERE backend = $3 AND object_key = $4 AND status = $5`,
		repository.ObjectStatusDeleted, record.UpdatedAt, record.Backend, record.Key, repository.ObjectStatusStored,
	); err != nil {
		return nil, fmt.Errorf("replace previous record: %w", err)
	}

	placeholders := make([]string, len(objectColumns))
	for i := range objectColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO objects (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(objectColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(objectColumns, ","),
	)

	row := tx.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.Key,
		record.Backend,
		record.SizeBytes,
		nullString(record.Digest),
		nullString(record.HashAlgorithm),
		record.ContentType,
		nullString(record.ContentEncoding),
		nullString(record.ETag),
		record.Status,
		record.CreatedAt,
		record.UpdatedAt,
	)

	created, err := scanObjectRecord(row)
	if err != nil {
		return nil, fmt.Errorf("insert object: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

// GetByKey 查询 backend 下 key 当前有效的记录。
func (r *ObjectRepository) GetByKey(ctx context.Context, backend, key string) (*repository.ObjectRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM objects WHERE backend = $1 AND object_key = $2 AND status = $3`,
		strings.Join(objectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, backend, key, repository.ObjectStatusStored)
	rec, err := scanObjectRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List 支持按 backend、前缀、状态过滤并分页。
func (r *ObjectRepository) List(ctx context.Context, params repository.ListObjectsParams) ([]repository.ObjectRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Backend != "" {
		conditions = append(conditions, "backend = "+next(params.Backend))
	}
	if params.Prefix != "" {
		conditions = append(conditions, "object_key LIKE "+next(escapeLike(params.Prefix)+"%")+` ESCAPE '\'`)
	}
	if len(params.Statuses) > 0 {
		placeholders := make([]string, len(params.Statuses))
		for i, status := range params.Statuses {
			placeholders[i] = next(status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ",")+")")
	} else {
		// 默认排除已删除的对象
		conditions = append(conditions, "status != "+next(repository.ObjectStatusDeleted))
	}

	tail := "ORDER BY created_at DESC LIMIT " + next(limit)
	if params.Offset > 0 {
		tail += " OFFSET " + next(params.Offset)
	}

	query := fmt.Sprintf(`SELECT %s FROM objects WHERE %s %s`,
		strings.Join(objectColumns, ","), strings.Join(conditions, " AND "), tail)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.ObjectRecord
	for rows.Next() {
		rec, err := scanObjectRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// MarkDeleted 把当前有效记录标记为 deleted。
func (r *ObjectRepository) MarkDeleted(ctx context.Context, backend, key string) error {
	query := `UPDATE objects SET status = $1, updated_at = $2 WHERE backend = $3 AND object_key = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, query,
		repository.ObjectStatusDeleted, time.Now().UTC(), backend, key, repository.ObjectStatusStored)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObjectRecord(rs rowScanner) (*repository.ObjectRecord, error) {
	var (
		rec                               repository.ObjectRecord
		digest, algorithm, encoding, etag sql.NullString
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.Key,
		&rec.Backend,
		&rec.SizeBytes,
		&digest,
		&algorithm,
		&rec.ContentType,
		&encoding,
		&etag,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.Digest = stringPtr(digest)
	rec.HashAlgorithm = stringPtr(algorithm)
	rec.ContentEncoding = stringPtr(encoding)
	rec.ETag = stringPtr(etag)
	return &rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
