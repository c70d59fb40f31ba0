package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloudstore/internal/relay"

	"go.uber.org/zap"
)

// state 是单次调用的状态机，只能前进，Done 为终态。
type state int

const (
	stateIdle state = iota
	stateConnectionOpen
	stateBodyStreaming
	stateAwaitingHeaders
	stateReceivingError
	stateStreamingSuccess
	stateBufferingSuccess
	stateDone
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnectionOpen:
		return "connection_open"
	case stateBodyStreaming:
		return "body_streaming"
	case stateAwaitingHeaders:
		return "awaiting_headers"
	case stateReceivingError:
		return "receiving_error"
	case stateStreamingSuccess:
		return "streaming_success"
	case stateBufferingSuccess:
		return "buffering_success"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// errRoundTrip 标记由连接失败触发的 Pipe 销毁，用于区分是谁先终止了上传。
var errRoundTrip = errors.New("fetch: round trip failed")

// errRejected 标记服务端已返回错误状态，未发送完的请求体不再需要。
var errRejected = errors.New("fetch: request rejected by server")

type roundTrip struct {
	resp *http.Response
	err  error
}

type exchange struct {
	client *Client
	req    *Request
	logger *zap.Logger
	state  state
}

func (x *exchange) transition(next state) {
	if x.state == stateDone || next <= x.state {
		return
	}
	x.logger.Debug("fetch state", zap.Stringer("from", x.state), zap.Stringer("to", next))
	x.state = next
}

func (x *exchange) run(parent context.Context) (*Response, error) {
	policy := x.req.Policy.Normalized()
	ctx, cancel := context.WithCancel(parent)
	handedOff := false
	defer func() {
		if !handedOff {
			cancel()
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, x.req.Method, x.req.URL().String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range x.req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	var pipe *relay.Pipe
	if x.req.Body != nil {
		pipe = relay.NewPipe(x.client.highWater)
		httpReq.Body = pipe.Reader()
		httpReq.ContentLength = x.req.ContentLength
		if httpReq.ContentLength <= 0 {
			httpReq.ContentLength = -1
		}
	}

	if x.req.Authorize != nil {
		if err := x.req.Authorize(httpReq); err != nil {
			return nil, fmt.Errorf("authorize request: %w", err)
		}
	}

	x.transition(stateConnectionOpen)

	var (
		task      *relay.Task
		relayDone <-chan struct{}
	)
	if pipe != nil {
		task = relay.Start(ctx, x.req.Body, pipe, policy)
		relayDone = task.Done()
		x.transition(stateBodyStreaming)
	}

	rtCh := make(chan roundTrip, 1)
	go func() {
		resp, err := x.client.http.Do(httpReq)
		rtCh <- roundTrip{resp: resp, err: err}
	}()

	var rt roundTrip
wait:
	for {
		select {
		case <-relayDone:
			relayDone = nil
			if out := task.Outcome(); !out.OK() {
				// 上传先失败：中止连接并等待 Do 返回，避免泄漏。
				cancel()
				rt = <-rtCh
				if rt.resp != nil {
					rt.resp.Body.Close()
				}
				return nil, x.uploadFailed(out)
			}
			x.transition(stateAwaitingHeaders)
		case rt = <-rtCh:
			break wait
		}
	}
	x.transition(stateAwaitingHeaders)

	if rt.err != nil {
		if task != nil {
			pipe.Destroy(fmt.Errorf("%w: %w", errRoundTrip, rt.err))
			if out := task.Outcome(); relayCaused(out) {
				return nil, x.uploadFailed(out)
			}
		}
		return nil, fmt.Errorf("round trip: %w: %w", relay.ErrTransport, rt.err)
	}

	resp := rt.resp
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		x.transition(stateReceivingError)
		return x.receiveError(resp, pipe, task)
	}

	var out relay.Outcome
	if task != nil {
		out = task.Outcome()
		if !out.OK() {
			resp.Body.Close()
			return nil, x.uploadFailed(out)
		}
	}
	// 没有请求体的调用无法产生摘要
	if policy.Hash != relay.HashNone && out.Digest == "" {
		resp.Body.Close()
		return nil, ErrMissingDigest
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Header:     normalizeHeader(resp.Header),
		Digest:     out.Digest,
		Uploaded:   out.Bytes,
	}

	if x.req.ReturnStream {
		x.transition(stateStreamingSuccess)
		handedOff = true
		result.Body = &streamBody{ReadCloser: resp.Body, cancel: cancel}
		return result, nil
	}

	x.transition(stateBufferingSuccess)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w: %w", relay.ErrTransport, err)
	}
	decoded, err := Decode(resp.Header.Get("Content-Type"), payload)
	if err != nil {
		return nil, err
	}
	result.Decoded = decoded
	return result, nil
}

// receiveError 无论 ReturnStream 如何都完整读取并解码错误载荷。
func (x *exchange) receiveError(resp *http.Response, pipe *relay.Pipe, task *relay.Task) (*Response, error) {
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	if task != nil {
		pipe.Destroy(errRejected)
		if out := task.Outcome(); relayCaused(out) {
			return nil, x.uploadFailed(out)
		}
	}
	if readErr != nil {
		return nil, fmt.Errorf("read error response: %w: %w", relay.ErrTransport, readErr)
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode, Raw: payload}
	statusErr.Body, statusErr.DecodeErr = Decode(resp.Header.Get("Content-Type"), payload)

	x.logger.Debug("fetch rejected",
		zap.Int("status", resp.StatusCode),
		zap.String("code", statusErr.Code()),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     normalizeHeader(resp.Header),
		Decoded:    statusErr.Body,
	}, statusErr
}

func (x *exchange) uploadFailed(out relay.Outcome) error {
	x.logger.Debug("upload body failed",
		zap.Stringer("outcome", out.Kind),
		zap.Int64("bytes", out.Bytes),
		zap.Error(out.Err),
	)
	return fmt.Errorf("upload body: %w", out.Error())
}

// relayCaused 判断上传失败是否由 relay 自身引起（超限、超时、源中止），
// 而不是连接失败或服务端拒绝后的连带结果。
func relayCaused(out relay.Outcome) bool {
	if out.OK() {
		return false
	}
	return !errors.Is(out.Err, errRoundTrip) &&
		!errors.Is(out.Err, errRejected) &&
		!errors.Is(out.Err, relay.ErrSinkClosed)
}

var passthroughHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Content-Length",
	"ETag",
	"Last-Modified",
}

func normalizeHeader(src http.Header) http.Header {
	dst := make(http.Header, len(passthroughHeaders))
	for _, key := range passthroughHeaders {
		if v := src.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
	return dst
}

// streamBody 在关闭响应体时释放调用的 context。
type streamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
