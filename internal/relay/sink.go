package relay

import (
	"io"
	"sync"
)

// Sink 是出站字节的目的地。
//
// Done 在 sink 到达终态时关闭：正常结束（Err 返回 nil）、出错、或在 End 之前被关闭
// （Err 返回 ErrSinkClosed）。
type Sink interface {
	// Write 复制 p；saturated 为 true 时调用方应等待 Drain 后再写。
	Write(p []byte) (saturated bool, err error)
	Drain() <-chan struct{}
	Done() <-chan struct{}
	Err() error
	// End 表示不会再有数据写入。
	End() error
	// Destroy 释放 sink，err 为 nil 时按 ErrSinkClosed 处理。
	Destroy(err error)
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// WriterSink 把同步的 io.Writer（例如文件）适配为 Sink，永远不会饱和。
type WriterSink struct {
	w io.Writer

	mu   sync.Mutex
	done chan struct{}
	err  error
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, done: make(chan struct{})}
}

func (s *WriterSink) Write(p []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closedLocked() {
		if s.err != nil {
			return false, s.err
		}
		return false, ErrWriteAfterEnd
	}
	if _, err := s.w.Write(p); err != nil {
		s.finishLocked(err)
		return false, err
	}
	return false, nil
}

func (s *WriterSink) Drain() <-chan struct{} {
	return closedChan
}

func (s *WriterSink) Done() <-chan struct{} {
	return s.done
}

func (s *WriterSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *WriterSink) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closedLocked() {
		return s.err
	}
	s.finishLocked(nil)
	return nil
}

func (s *WriterSink) Destroy(err error) {
	if err == nil {
		err = ErrSinkClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closedLocked() {
		s.finishLocked(err)
	}
}

func (s *WriterSink) closedLocked() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *WriterSink) finishLocked(err error) {
	s.err = err
	close(s.done)
}

var _ Sink = (*WriterSink)(nil)
