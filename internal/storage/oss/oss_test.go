package oss

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloudstore/internal/fetch"
	"cloudstore/internal/relay"
	"cloudstore/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

// newTestStorage 把所有虚拟主机名都拨到测试服务器上。
func newTestStorage(t *testing.T, handler http.HandlerFunc) *Storage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	addr := strings.TrimPrefix(srv.URL, "http://")
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	s := New(Config{
		Endpoint:        "oss-cn-hangzhou.aliyuncs.com",
		AccessKeyID:     "LTAIexample",
		AccessKeySecret: "oss-secret",
		Bucket:          "docs",
	}, fetch.New(fetch.Options{Transport: transport}, nil), nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func expectedSignature(t *testing.T, toSign string) string {
	t.Helper()
	mac := hmac.New(sha1.New, []byte("oss-secret"))
	mac.Write([]byte(toSign))
	return "OSS LTAIexample:" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestStringToSign(t *testing.T) {
	r, err := http.NewRequest(http.MethodPut, "http://docs.oss-cn-hangzhou.aliyuncs.com/a.txt", nil)
	require.NoError(t, err)
	r.Header.Set("Content-Type", "text/plain")
	r.Header.Set("Date", "Fri, 01 Mar 2024 08:30:00 GMT")
	r.Header.Set("X-OSS-Meta-Author", "alice")
	r.Header.Set("x-oss-magic", "abracadabra")
	r.Header.Set("X-Amz-Ignored", "nope")

	want := "PUT\n\ntext/plain\nFri, 01 Mar 2024 08:30:00 GMT\n" +
		"x-oss-magic:abracadabra\nx-oss-meta-author:alice\n/docs/a.txt"
	assert.Equal(t, want, stringToSign(r, "/docs/a.txt"))
}

func TestStorage_WriteSignsRequest(t *testing.T) {
	var (
		host, auth, date, path, body string
		length                       int64
	)
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		host, auth, date, path = r.Host, r.Header.Get("Authorization"), r.Header.Get("Date"), r.URL.Path
		length = r.ContentLength
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("ETag", `"E1"`)
		w.WriteHeader(http.StatusOK)
	})

	loc, err := s.Write(context.Background(), "reports/q1.csv", strings.NewReader("a,b,c\n"), storage.WriteOptions{
		ContentType: "text/csv",
		Hash:        relay.HashSHA1,
		Size:        6,
		Header:      map[string]string{"x-oss-meta-team": "finance"},
	})
	require.NoError(t, err)

	assert.Equal(t, "docs.oss-cn-hangzhou.aliyuncs.com", host)
	assert.Equal(t, "/reports/q1.csv", path)
	assert.Equal(t, "a,b,c\n", body)
	assert.Equal(t, int64(6), length)
	assert.Equal(t, "Fri, 01 Mar 2024 08:30:00 GMT", date)

	toSign := "PUT\n\ntext/csv\nFri, 01 Mar 2024 08:30:00 GMT\nx-oss-meta-team:finance\n/docs/reports/q1.csv"
	assert.Equal(t, expectedSignature(t, toSign), auth)

	assert.Equal(t, "E1", loc.ETag)
	assert.Len(t, loc.Digest, 40)
}

func TestStorage_WriteUnknownSizeIsChunked(t *testing.T) {
	var chunked bool
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		chunked = len(r.TransferEncoding) > 0
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})

	loc, err := s.Write(context.Background(), "stream.log", strings.NewReader("line\n"), storage.WriteOptions{})
	require.NoError(t, err)
	assert.True(t, chunked)
	assert.Equal(t, int64(5), loc.Size)
}

func TestStorage_ReadKeepsContentType(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "a,b\n")
	})

	rc, err := s.Read(context.Background(), "reports/q1.csv")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "text/csv", storage.ContentTypeOf(rc))
}

func TestStorage_ReadMissing(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
	})

	_, err := s.Read(context.Background(), "missing.csv")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_DeleteIssuesHeadThenDelete(t *testing.T) {
	var methods []string
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, s.Delete(context.Background(), "old.csv"))
	assert.Equal(t, []string{http.MethodHead, http.MethodDelete}, methods)
}

func TestStorage_MissingCredentials(t *testing.T) {
	s := New(Config{Endpoint: "oss-cn-hangzhou.aliyuncs.com", Bucket: "docs"}, fetch.New(fetch.Options{}, nil), nil)
	_, err := s.Read(context.Background(), "a.txt")
	assert.ErrorContains(t, err, "credentials")
}
