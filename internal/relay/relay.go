package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"
)

const chunkSize = 32 * 1024

// Task 是后台运行的一次中继，结果通过 Done/Outcome 通知。
type Task struct {
	done    chan struct{}
	outcome Outcome
}

// Done 在中继到达终态后关闭。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Outcome 阻塞直到中继结束并返回唯一的终态。
func (t *Task) Outcome() Outcome {
	<-t.done
	return t.outcome
}

// Start 在后台把 src 中继到 sink。
//
// 未设置上限且不计算摘要时走快速路径，只做字节搬运；否则逐块计数、计算摘要并在
// sink 饱和时暂停读取源，按 policy.DrainTimeout 等待 drain。
// 任何失败终态都会销毁 sink 并关闭实现了 io.Closer 的源。
func Start(ctx context.Context, src io.Reader, sink Sink, policy Policy) *Task {
	policy = policy.Normalized()
	t := &Task{done: make(chan struct{})}
	r := &run{
		src:     src,
		sink:    sink,
		policy:  policy,
		inspect: policy.inspected(),
		digest:  policy.Hash.New(),
		stop:    make(chan struct{}),
		reads:   make(chan readResult, 1),
		pull:    make(chan struct{}, 1),
	}

	go func() {
		t.outcome = r.pump(ctx)
		observe(t.outcome)
		close(t.done)
	}()
	return t
}

// Run 是 Start 的阻塞版本。
func Run(ctx context.Context, src io.Reader, sink Sink, policy Policy) Outcome {
	return Start(ctx, src, sink, policy).Outcome()
}

type readResult struct {
	chunk []byte
	err   error
}

// run 是单次中继的局部状态，只由驱动它的 goroutine 修改。
type run struct {
	src     io.Reader
	sink    Sink
	policy  Policy
	inspect bool
	digest  hash.Hash

	received int64
	written  int64
	pauses   int
	resumes  int

	resolved bool
	final    Outcome

	stop  chan struct{}
	reads chan readResult
	pull  chan struct{}
}

func (r *run) pump(ctx context.Context) Outcome {
	if err := r.policy.Validate(); err != nil {
		return r.fail(KindTransportError, fmt.Errorf("invalid policy: %w", err))
	}

	go r.readLoop()
	r.pull <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return r.fail(KindAborted, ctx.Err())
		case <-r.sink.Done():
			return r.sinkTerminated()
		case res := <-r.reads:
			if len(res.chunk) > 0 {
				if out, done := r.accept(ctx, res.chunk); done {
					return out
				}
			}
			switch {
			case res.err == io.EOF:
				return r.finish(ctx)
			case res.err != nil:
				return r.sourceFailed(res.err)
			}
			r.pull <- struct{}{}
		}
	}
}

// readLoop 只在收到 pull 信号时读取下一块，暂停读取即不发送 pull。
func (r *run) readLoop() {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-r.stop:
			return
		case <-r.pull:
		}

		n, err := r.src.Read(buf)
		select {
		case r.reads <- readResult{chunk: buf[:n], err: err}:
		case <-r.stop:
			return
		}
	}
}

func (r *run) accept(ctx context.Context, chunk []byte) (Outcome, bool) {
	if r.inspect {
		r.received += int64(len(chunk))
		if r.digest != nil {
			r.digest.Write(chunk)
		}
		if r.policy.Limit > 0 && r.received > r.policy.Limit {
			return r.fail(KindTooLarge, fmt.Errorf("%w: received %d bytes, limit %d", ErrTooLarge, r.received, r.policy.Limit)), true
		}
	}

	saturated, err := r.sink.Write(chunk)
	if err != nil {
		return r.fail(KindTransportError, err), true
	}
	r.written += int64(len(chunk))
	if !saturated {
		return Outcome{}, false
	}

	r.pauses++
	timeout := r.policy.drainTimeout()
	if !r.inspect {
		timeout = 0
	}
	if err := WaitForDrain(ctx, r.sink, timeout); err != nil {
		return r.drainFailed(ctx, err), true
	}
	r.resumes++
	return Outcome{}, false
}

func (r *run) finish(ctx context.Context) Outcome {
	if err := r.sink.End(); err != nil {
		return r.fail(KindTransportError, err)
	}

	// 快速路径无限期等待读端取完，检查路径同样受 DrainTimeout 约束。
	var expired <-chan time.Time
	if r.inspect {
		timer := time.NewTimer(r.policy.drainTimeout())
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-r.sink.Done():
		if err := r.sink.Err(); err != nil {
			return r.fail(KindTransportError, err)
		}
	case <-expired:
		return r.fail(KindTimedOut, fmt.Errorf("%w waiting for sink flush", ErrTimedOut))
	case <-ctx.Done():
		return r.fail(KindAborted, ctx.Err())
	}

	out := Outcome{Kind: KindCompleted}
	if r.digest != nil {
		out.Digest = hex.EncodeToString(r.digest.Sum(nil))
	}
	return r.resolve(out)
}

func (r *run) drainFailed(ctx context.Context, err error) Outcome {
	switch {
	case errors.Is(err, ErrTimedOut):
		return r.fail(KindTimedOut, err)
	case ctx.Err() != nil:
		return r.fail(KindAborted, err)
	default:
		return r.fail(KindTransportError, err)
	}
}

func (r *run) sourceFailed(err error) Outcome {
	if r.inspect && (errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return r.fail(KindAborted, err)
	}
	return r.fail(KindTransportError, err)
}

func (r *run) sinkTerminated() Outcome {
	err := r.sink.Err()
	if err == nil {
		err = ErrSinkClosed
	}
	if r.inspect && errors.Is(err, ErrSinkClosed) {
		return r.fail(KindAborted, err)
	}
	return r.fail(KindTransportError, err)
}

func (r *run) fail(kind Kind, cause error) Outcome {
	return r.resolve(Outcome{Kind: kind, Err: cause})
}

// resolve 是唯一的终态入口：只执行一次，撤销读取并在失败时销毁两端。
func (r *run) resolve(out Outcome) Outcome {
	if r.resolved {
		return r.final
	}
	r.resolved = true
	close(r.stop)

	out.Bytes = r.written
	out.Pauses = r.pauses
	out.Resumes = r.resumes
	if !out.OK() {
		out.Digest = ""
		r.sink.Destroy(out.Error())
		if c, ok := r.src.(io.Closer); ok {
			_ = c.Close()
		}
	}

	r.final = out
	return out
}
