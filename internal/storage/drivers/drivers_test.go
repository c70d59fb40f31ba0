package drivers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloudstore/internal/config"
	"cloudstore/internal/storage"
	"cloudstore/internal/storage/local"
	"cloudstore/internal/storage/oss"
	"cloudstore/internal/storage/s3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	cfg := &config.Config{Local: config.LocalConfig{Dir: t.TempDir()}}
	client := NewFetchClient(cfg, nil)

	cfg.StorageDriver = "local"
	store, err := Open(context.Background(), cfg, client, nil)
	require.NoError(t, err)
	assert.IsType(t, &local.Storage{}, store)

	cfg.StorageDriver = "s3"
	store, err = Open(context.Background(), cfg, client, nil)
	require.NoError(t, err)
	assert.IsType(t, &s3.Storage{}, store)

	cfg.StorageDriver = "oss"
	store, err = Open(context.Background(), cfg, client, nil)
	require.NoError(t, err)
	assert.IsType(t, &oss.Storage{}, store)

	cfg.StorageDriver = "ftp"
	_, err = Open(context.Background(), cfg, client, nil)
	assert.Error(t, err)
}

func TestOpen_S3SignsWithSessionToken(t *testing.T) {
	var token, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Amz-Security-Token")
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{
		StorageDriver: "s3",
		S3: config.S3Config{
			Endpoint:     strings.TrimPrefix(srv.URL, "http://"),
			AccessKey:    "ASIAEXAMPLE",
			SecretKey:    "secret",
			SessionToken: "sts-token",
			Bucket:       "photos",
			Region:       "us-east-1",
			PathStyle:    true,
		},
	}
	client := NewFetchClient(cfg, nil)
	store, err := Open(context.Background(), cfg, client, nil)
	require.NoError(t, err)

	_, err = store.Write(context.Background(), "a.txt", strings.NewReader("abc"), storage.WriteOptions{Size: 3})
	require.NoError(t, err)
	assert.Equal(t, "sts-token", token)
	assert.Contains(t, auth, "ASIAEXAMPLE")
}
