package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"cloudstore/internal/config"
	"cloudstore/internal/relay"
	"cloudstore/internal/repository"
	"cloudstore/internal/storage"
)

type mockObjectRepo struct {
	createRecord *repository.ObjectRecord
	createErr    error
	listParams   repository.ListObjectsParams
	listResult   []repository.ObjectRecord
	deletedKey   string
	deleteErr    error
}

func (m *mockObjectRepo) Create(ctx context.Context, record *repository.ObjectRecord) (*repository.ObjectRecord, error) {
	m.createRecord = record
	if m.createErr != nil {
		return nil, m.createErr
	}
	return record, nil
}

func (m *mockObjectRepo) GetByKey(ctx context.Context, backend, key string) (*repository.ObjectRecord, error) {
	return nil, repository.ErrNotFound
}

func (m *mockObjectRepo) List(ctx context.Context, params repository.ListObjectsParams) ([]repository.ObjectRecord, error) {
	m.listParams = params
	return m.listResult, nil
}

func (m *mockObjectRepo) MarkDeleted(ctx context.Context, backend, key string) error {
	m.deletedKey = key
	return m.deleteErr
}

type mockStore struct {
	key       string
	data      []byte
	opts      storage.WriteOptions
	writeErr  error
	deleteErr error
	deleted   string
}

func (s *mockStore) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s.writeErr != nil {
		return storage.Location{}, s.writeErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return storage.Location{}, err
	}
	s.key, s.data, s.opts = key, body, opts
	return storage.Location{Path: key, Size: int64(len(body)), Digest: "d1g35t"}, nil
}

func (s *mockStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if key != s.key {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *mockStore) Delete(ctx context.Context, key string) error {
	s.deleted = key
	return s.deleteErr
}

func TestObjectService_Put_WritesStorageAndLedger(t *testing.T) {
	repo := &mockObjectRepo{}
	store := &mockStore{}
	svc := NewObjectService(store, repo, "local", Defaults{}, nil)

	payload := []byte("hello world")
	result, err := svc.Put(context.Background(), PutInput{
		Key:     "/uploads/greeting.txt",
		Reader:  bytes.NewReader(payload),
		Options: storage.WriteOptions{Hash: "SHA256", ContentType: "text/plain"},
	})
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if store.key != "uploads/greeting.txt" {
		t.Fatalf("expected cleaned key, got %s", store.key)
	}
	if string(store.data) != string(payload) {
		t.Fatalf("expected store data %q, got %q", payload, store.data)
	}
	if store.opts.Hash != relay.HashSHA256 {
		t.Fatalf("expected normalized hash, got %q", store.opts.Hash)
	}
	if repo.createRecord == nil {
		t.Fatal("repository Create was not called")
	}
	rec := result.Record
	if rec.Backend != "local" || rec.SizeBytes != int64(len(payload)) || rec.ContentType != "text/plain" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Digest == nil || *rec.Digest != "d1g35t" {
		t.Fatalf("expected digest to be recorded, got %v", rec.Digest)
	}
}

func TestObjectService_Put_AppliesDefaults(t *testing.T) {
	store := &mockStore{}
	svc := NewObjectService(store, nil, "local", Defaults{Limit: 1024, Hash: relay.HashMD5}, nil)

	result, err := svc.Put(context.Background(), PutInput{Key: "a", Reader: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if store.opts.Limit != 1024 || store.opts.Hash != relay.HashMD5 {
		t.Fatalf("defaults not applied: %+v", store.opts)
	}
	if result.Record != nil {
		t.Fatal("record must be nil without ledger")
	}
}

func TestObjectService_Put_CallerCannotRaiseLimit(t *testing.T) {
	tests := []struct {
		name      string
		requested int64
		want      int64
	}{
		{name: "unset uses server cap", requested: 0, want: 1024},
		{name: "larger is capped", requested: 1 << 30, want: 1024},
		{name: "smaller is kept", requested: 16, want: 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			svc := NewObjectService(store, nil, "local", Defaults{Limit: 1024}, nil)

			_, err := svc.Put(context.Background(), PutInput{
				Key:     "a",
				Reader:  strings.NewReader("x"),
				Options: storage.WriteOptions{Limit: tt.requested},
			})
			if err != nil {
				t.Fatalf("Put returned error: %v", err)
			}
			if store.opts.Limit != tt.want {
				t.Fatalf("expected limit %d, got %d", tt.want, store.opts.Limit)
			}
		})
	}

	store := &mockStore{}
	uncapped := NewObjectService(store, nil, "local", Defaults{}, nil)
	if _, err := uncapped.Put(context.Background(), PutInput{
		Key:     "a",
		Reader:  strings.NewReader("x"),
		Options: storage.WriteOptions{Limit: 1 << 30},
	}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if store.opts.Limit != 1<<30 {
		t.Fatalf("caller limit must be kept without a server cap, got %d", store.opts.Limit)
	}
}

func TestObjectService_Put_Validation(t *testing.T) {
	svc := NewObjectService(&mockStore{}, &mockObjectRepo{}, "local", Defaults{}, nil)

	if _, err := svc.Put(context.Background(), PutInput{Key: "", Reader: strings.NewReader("x")}); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("expected invalid key error, got %v", err)
	}
	if _, err := svc.Put(context.Background(), PutInput{Key: "a"}); err == nil {
		t.Fatal("expected error for missing body")
	}
	_, err := svc.Put(context.Background(), PutInput{Key: "a", Reader: strings.NewReader("x"), Options: storage.WriteOptions{ContentEncoding: "br"}})
	if err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
}

func TestObjectService_Put_StorageErrorSkipsLedger(t *testing.T) {
	repo := &mockObjectRepo{}
	store := &mockStore{writeErr: relay.ErrTooLarge}
	svc := NewObjectService(store, repo, "local", Defaults{}, nil)

	_, err := svc.Put(context.Background(), PutInput{Key: "big", Reader: strings.NewReader("data")})
	if !errors.Is(err, relay.ErrTooLarge) {
		t.Fatalf("expected too large error, got %v", err)
	}
	if repo.createRecord != nil {
		t.Fatal("repository should not be called when storage fails")
	}
}

func TestObjectService_Put_LedgerErrorKeepsLocation(t *testing.T) {
	repo := &mockObjectRepo{createErr: errors.New("db down")}
	svc := NewObjectService(&mockStore{}, repo, "local", Defaults{}, nil)

	result, err := svc.Put(context.Background(), PutInput{Key: "a", Reader: strings.NewReader("x")})
	if err == nil {
		t.Fatal("expected ledger error")
	}
	if result == nil || result.Location.Path != "a" {
		t.Fatalf("expected location alongside ledger error, got %+v", result)
	}
}

func TestObjectService_Delete(t *testing.T) {
	repo := &mockObjectRepo{deleteErr: repository.ErrNotFound}
	store := &mockStore{}
	svc := NewObjectService(store, repo, "oss", Defaults{}, nil)

	if err := svc.Delete(context.Background(), "dir/a.txt"); err != nil {
		t.Fatalf("missing ledger row must not fail delete: %v", err)
	}
	if store.deleted != "dir/a.txt" || repo.deletedKey != "dir/a.txt" {
		t.Fatalf("unexpected delete calls: store=%s repo=%s", store.deleted, repo.deletedKey)
	}

	store.deleteErr = storage.ErrNotFound
	if err := svc.Delete(context.Background(), "dir/a.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestObjectService_List(t *testing.T) {
	repo := &mockObjectRepo{listResult: []repository.ObjectRecord{{ID: "1", Key: "a"}}}
	svc := NewObjectService(&mockStore{}, repo, "s3", Defaults{}, nil)

	records, err := svc.List(context.Background(), repository.ListObjectsParams{Limit: 5, Backend: "other"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if repo.listParams.Backend != "s3" || repo.listParams.Limit != 5 {
		t.Fatalf("repository received wrong params: %+v", repo.listParams)
	}

	noLedger := NewObjectService(&mockStore{}, nil, "s3", Defaults{}, nil)
	if _, err := noLedger.List(context.Background(), repository.ListObjectsParams{}); !errors.Is(err, ErrLedgerDisabled) {
		t.Fatalf("expected ErrLedgerDisabled, got %v", err)
	}
}

func TestDefaultsFromConfig(t *testing.T) {
	defaults, err := DefaultsFromConfig(config.RelayConfig{
		DrainTimeout:     3 * time.Second,
		UploadLimitBytes: 2048,
		DefaultHash:      "SHA256",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defaults.Hash != relay.HashSHA256 || defaults.Limit != 2048 || defaults.DrainTimeout != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", defaults)
	}

	if _, err := DefaultsFromConfig(config.RelayConfig{DefaultHash: "crc32"}); err == nil {
		t.Fatalf("expected error for unknown hash")
	}
}
