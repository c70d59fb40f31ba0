package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"cloudstore/internal/relay"

	"go.uber.org/zap"
)

// Options 配置共享的出站连接池。
type Options struct {
	MaxConnsPerHost     int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	// HighWaterMark 是上传 Pipe 的缓冲上限。
	HighWaterMark int
	// Transport 非空时替代默认连接池，测试时使用。
	Transport http.RoundTripper
}

// Client 发起出站请求并把请求体经由 relay 流式上传，进程内共享。
type Client struct {
	http      *http.Client
	logger    *zap.Logger
	highWater int
}

// New 创建带 keep-alive 连接池的 Client。
func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := opts.Transport
	if transport == nil {
		dialTimeout := opts.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = 10 * time.Second
		}
		idleTimeout := opts.IdleConnTimeout
		if idleTimeout <= 0 {
			idleTimeout = 90 * time.Second
		}
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxConnsPerHost:     opts.MaxConnsPerHost,
			MaxIdleConns:        opts.MaxIdleConns,
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
			IdleConnTimeout:     idleTimeout,
		}
	}

	return &Client{
		http:      &http.Client{Transport: transport},
		logger:    logger,
		highWater: opts.HighWaterMark,
	}
}

// Request 描述一次出站调用。
type Request struct {
	Method string
	// Scheme 默认为 https。
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	Header http.Header
	// Body 为空表示没有请求体。
	Body io.Reader
	// ContentLength 已知时设置，0 表示未知（分块传输）。
	ContentLength int64
	Policy        relay.Policy
	// ReturnStream 为 true 时成功响应体以流的形式返回，不做缓冲。
	ReturnStream bool
	// Authorize 在请求发出前调用，用于厂商签名。
	Authorize func(*http.Request) error
}

// URL 返回请求的目标地址。
func (r *Request) URL() *url.URL {
	scheme := r.Scheme
	if scheme == "" {
		scheme = "https"
	}
	u := &url.URL{Scheme: scheme, Host: r.Host, Path: r.Path}
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}
	return u
}

// Response 是一次调用的结果。
type Response struct {
	StatusCode int
	// Header 只保留规范化后的常用头。
	Header http.Header
	// Body 仅在 ReturnStream 且成功时非空，调用方负责关闭。
	Body io.ReadCloser
	// Decoded 是缓冲解码后的响应体。
	Decoded any
	// Digest 为请求体的摘要（请求了哈希时）。
	Digest string
	// Uploaded 为实际发送的请求体字节数。
	Uploaded int64
}

// Call 是后台进行中的一次调用。结果只在调用进入 Done 之后发布。
type Call struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done 在调用结束且所有资源释放后关闭。
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait 阻塞直到调用结束。
func (c *Call) Wait() (*Response, error) {
	<-c.done
	return c.resp, c.err
}

// Start 在后台发起调用。
func (c *Client) Start(ctx context.Context, req *Request) *Call {
	call := &Call{done: make(chan struct{})}
	go func() {
		x := &exchange{client: c, req: req, logger: c.logger.With(
			zap.String("method", req.Method),
			zap.String("host", req.Host),
			zap.String("path", req.Path),
		)}
		start := time.Now()
		resp, err := x.run(ctx)
		x.transition(stateDone)
		observeFetch(req.Method, resp, err, time.Since(start))

		call.resp, call.err = resp, err
		close(call.done)
	}()
	return call
}

// Fetch 发起调用并等待结果。
//
// 状态码不在 [200,300) 时返回 *StatusError，同时返回携带已解码错误载荷的 Response。
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("fetch: nil request")
	}
	return c.Start(ctx, req).Wait()
}

// CloseIdleConnections 关闭连接池中的空闲连接，进行中的请求不受影响。
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
