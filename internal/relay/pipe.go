package relay

import (
	"bytes"
	"io"
	"sync"
)

// DefaultHighWaterMark 是 Pipe 默认的缓冲上限。
const DefaultHighWaterMark = 64 * 1024

// Pipe 是带背压的内存 sink，读端交给 http.Request.Body 或 SDK 上传接口消费。
//
// 缓冲达到高水位后 Write 报告饱和，读端把缓冲读空时触发 Drain。
// 读端在 End 之前 Close 视为连接被关闭（ErrSinkClosed）。
type Pipe struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	highWater int
	saturated bool
	ended     bool
	err       error

	drain    chan struct{}
	readable chan struct{}
	done     chan struct{}
}

// NewPipe 创建 Pipe，highWater <= 0 时使用 DefaultHighWaterMark。
func NewPipe(highWater int) *Pipe {
	if highWater <= 0 {
		highWater = DefaultHighWaterMark
	}
	return &Pipe{
		highWater: highWater,
		drain:     closedChan,
		readable:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (p *Pipe) Write(b []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminatedLocked() {
		if p.err != nil {
			return false, p.err
		}
		return false, ErrWriteAfterEnd
	}
	if p.ended {
		return false, ErrWriteAfterEnd
	}

	p.buf.Write(b)
	p.notifyLocked()

	if p.buf.Len() >= p.highWater {
		if !p.saturated {
			p.saturated = true
			p.drain = make(chan struct{})
		}
		return true, nil
	}
	return false, nil
}

func (p *Pipe) Drain() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drain
}

func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipe) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.ended = true
	p.notifyLocked()
	return nil
}

func (p *Pipe) Destroy(err error) {
	if err == nil {
		err = ErrSinkClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminateLocked(err)
}

// Buffered 返回尚未被读端消费的字节数。
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Reader 返回 Pipe 的读端。
func (p *Pipe) Reader() io.ReadCloser {
	return pipeReader{p}
}

func (p *Pipe) read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			if p.saturated && p.buf.Len() == 0 {
				p.saturated = false
				close(p.drain)
			}
			p.mu.Unlock()
			return n, nil
		}
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return 0, err
		}
		if p.ended {
			p.terminateLocked(nil)
			p.mu.Unlock()
			return 0, io.EOF
		}
		p.mu.Unlock()

		select {
		case <-p.readable:
		case <-p.done:
		}
	}
}

func (p *Pipe) closeReader() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended && p.buf.Len() == 0 {
		p.terminateLocked(nil)
		return nil
	}
	p.terminateLocked(ErrSinkClosed)
	return nil
}

func (p *Pipe) notifyLocked() {
	select {
	case p.readable <- struct{}{}:
	default:
	}
}

func (p *Pipe) terminatedLocked() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pipe) terminateLocked(err error) {
	if p.terminatedLocked() {
		return
	}
	p.err = err
	if err != nil {
		p.buf.Reset()
	}
	close(p.done)
	p.notifyLocked()
}

type pipeReader struct {
	p *Pipe
}

func (r pipeReader) Read(b []byte) (int, error) {
	return r.p.read(b)
}

func (r pipeReader) Close() error {
	return r.p.closeReader()
}

var _ Sink = (*Pipe)(nil)
