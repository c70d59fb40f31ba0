package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"cloudstore/internal/middleware"
	"cloudstore/internal/relay"
	"cloudstore/internal/repository"
	"cloudstore/internal/service"
	"cloudstore/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ObjectHandler 提供对象读写的 HTTP 端点。
type ObjectHandler struct {
	service *service.ObjectService
	logger  *zap.Logger
}

func NewObjectHandler(s *service.ObjectService, logger *zap.Logger) *ObjectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectHandler{service: s, logger: logger}
}

func (h *ObjectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/objects", func(r chi.Router) {
		r.Get("/", h.ListObjects)
		r.Post("/", h.UploadForm)
		r.Put("/*", h.PutObject)
		r.Get("/*", h.GetObject)
		r.Delete("/*", h.DeleteObject)
	})
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type objectResponse struct {
	Key    string                   `json:"key"`
	Size   int64                    `json:"size_bytes"`
	Digest string                   `json:"digest,omitempty"`
	ETag   string                   `json:"etag,omitempty"`
	URL    string                   `json:"url,omitempty"`
	Record *repository.ObjectRecord `json:"record,omitempty"`
}

// metaHeaderPrefixes 中的请求头原样透传给存储后端。
var metaHeaderPrefixes = []string{"X-Amz-Meta-", "X-Oss-Meta-"}

// PutObject 把请求体流式写入存储。
// 查询参数：limit（字节数，不能超过服务端上限）、hash（md5/sha1/sha128/sha256）。
// Content-Length 已知时透传给后端，s3 驱动要求必须提供。
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "object key is required")
		return
	}
	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}
	defer r.Body.Close()

	opts, err := parseWriteOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.ContentType = r.Header.Get("Content-Type")
	opts.ContentEncoding = r.Header.Get("Content-Encoding")
	if r.ContentLength > 0 {
		opts.Size = r.ContentLength
	}

	h.store(w, r, key, r.Body, opts)
}

// UploadForm 接受 multipart/form-data 上传。
// "key" 字段必须出现在 "file" 之前，文件部分不落盘，直接流式写入存储。
func (h *ObjectHandler) UploadForm(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	opts, err := parseWriteOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var key string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
			return
		}

		switch part.FormName() {
		case "key":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unable to read key field")
				return
			}
			key = strings.TrimSpace(string(raw))
		case "file":
			if key == "" {
				key = part.FileName()
			}
			if key == "" {
				part.Close()
				writeError(w, http.StatusBadRequest, "key field must precede file")
				return
			}
			opts.ContentType = part.Header.Get("Content-Type")
			h.store(w, r, key, part, opts)
			part.Close()
			return
		default:
			part.Close()
		}
	}
}

func (h *ObjectHandler) store(w http.ResponseWriter, r *http.Request, key string, body io.Reader, opts storage.WriteOptions) {
	result, err := h.service.Put(r.Context(), service.PutInput{
		Key:     key,
		Reader:  body,
		Options: opts,
	})
	if err != nil && result == nil {
		h.fail(w, r, "put object", err)
		return
	}
	if err != nil {
		// 对象已写入，只有台账记录失败
		h.logger.Error("record object failed", zap.String("key", key), zap.Error(err))
	}

	loc := result.Location
	if loc.Digest != "" {
		w.Header().Set(middleware.DigestHeader, loc.Digest)
	}
	if loc.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(loc.ETag))
	}

	cleanKey, _ := storage.CleanKey(key)
	writeJSON(w, http.StatusCreated, envelope{Data: objectResponse{
		Key:    cleanKey,
		Size:   loc.Size,
		Digest: loc.Digest,
		ETag:   loc.ETag,
		URL:    loc.URL,
		Record: result.Record,
	}})
}

// GetObject 以流的形式返回对象内容。
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "object key is required")
		return
	}

	content, err := h.service.Get(r.Context(), key)
	if err != nil {
		h.fail(w, r, "get object", err)
		return
	}
	defer content.Close()

	// 优先使用后端记录的类型，本地存储没有元数据时按扩展名推断
	contentType := storage.ContentTypeOf(content)
	if contentType == "" {
		contentType = mime.TypeByExtension(extension(key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		h.logger.Debug("stream object interrupted", zap.String("key", key), zap.Error(err))
	}
}

// DeleteObject 删除对象。
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "object key is required")
		return
	}

	if err := h.service.Delete(r.Context(), key); err != nil {
		h.fail(w, r, "delete object", err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{"key": key, "deleted": true}})
}

// ListObjects 从台账分页列出对象。
func (h *ObjectHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	params := repository.ListObjectsParams{Prefix: r.URL.Query().Get("prefix")}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			params.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			params.Offset = offset
		}
	}
	for _, raw := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			params.Statuses = append(params.Statuses, repository.ObjectStatus(trimmed))
		}
	}

	records, err := h.service.List(r.Context(), params)
	if err != nil {
		h.fail(w, r, "list objects", err)
		return
	}
	if records == nil {
		records = []repository.ObjectRecord{}
	}

	writeJSON(w, http.StatusOK, envelope{Data: records})
}

func (h *ObjectHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if owner := middleware.GetOwnerID(r.Context()); owner != "" {
		fields = append(fields, zap.String("owner", owner))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}

	writeJSON(w, status, errorEnvelope{Error: err.Error(), Code: code})
}

func parseWriteOptions(r *http.Request) (storage.WriteOptions, error) {
	var opts storage.WriteOptions
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || limit < 0 {
			return opts, fmt.Errorf("limit must be a non-negative integer")
		}
		opts.Limit = limit
	}
	if raw := q.Get("hash"); raw != "" {
		hash, err := relay.ParseHashAlgorithm(raw)
		if err != nil {
			return opts, err
		}
		opts.Hash = hash
	}

	for name, values := range r.Header {
		for _, prefix := range metaHeaderPrefixes {
			if strings.HasPrefix(name, prefix) && len(values) > 0 {
				if opts.Header == nil {
					opts.Header = make(map[string]string)
				}
				opts.Header[strings.ToLower(name)] = values[0]
			}
		}
	}
	return opts, nil
}

func extension(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 && !strings.Contains(key[i:], "/") {
		return key[i:]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: message})
}
