package relay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader 每次 Read 返回一个预先切好的块。
type chunkReader struct {
	chunks [][]byte
	reads  atomic.Int32
	closed atomic.Bool
}

func newChunkReader(data []byte, size int) *chunkReader {
	r := &chunkReader{}
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		r.chunks = append(r.chunks, data[:n])
		data = data[n:]
	}
	return r
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.reads.Add(1)
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed.Store(true)
	return nil
}

// stubSink 手动控制饱和与 drain。
type stubSink struct {
	mu        sync.Mutex
	data      bytes.Buffer
	saturate  bool
	drain     chan struct{}
	done      chan struct{}
	err       error
	destroyed error
}

func newStubSink(saturate bool) *stubSink {
	return &stubSink{saturate: saturate, drain: make(chan struct{}), done: make(chan struct{})}
}

func (s *stubSink) Write(p []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Write(p)
	return s.saturate, nil
}

func (s *stubSink) Drain() <-chan struct{} { return s.drain }
func (s *stubSink) Done() <-chan struct{}  { return s.done }

func (s *stubSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubSink) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return s.err
	default:
	}
	close(s.done)
	return nil
}

func (s *stubSink) Destroy(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = err
	select {
	case <-s.done:
	default:
		s.err = err
		close(s.done)
	}
}

func (s *stubSink) destroyedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestRun_CompletesWithDigestUnderLimit(t *testing.T) {
	data := payload(1000)
	var out bytes.Buffer

	res := Run(context.Background(), bytes.NewReader(data), NewWriterSink(&out), Policy{
		Limit: 2000,
		Hash:  HashSHA256,
	})

	require.Equal(t, KindCompleted, res.Kind)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Digest)
	assert.Equal(t, int64(1000), res.Bytes)
	assert.Equal(t, data, out.Bytes())
	assert.NoError(t, res.Error())
}

func TestRun_DigestAlgorithms(t *testing.T) {
	data := []byte("hello world")
	cases := map[HashAlgorithm]string{
		HashMD5:    "5eb63bbbe01eeed093cb22bb8f5acdc3",
		HashSHA1:   "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed",
		HashSHA128: "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed",
		HashSHA256: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
	}
	for algo, want := range cases {
		res := Run(context.Background(), bytes.NewReader(data), NewWriterSink(io.Discard), Policy{Hash: algo})
		require.Equal(t, KindCompleted, res.Kind, string(algo))
		assert.Equal(t, want, res.Digest, string(algo))
	}
}

func TestRun_NormalizesHashSpelling(t *testing.T) {
	data := []byte("hello world")
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	for _, spelling := range []HashAlgorithm{"SHA256", " Sha256 "} {
		policy := Policy{Hash: spelling}
		require.NoError(t, policy.Validate())

		res := Run(context.Background(), bytes.NewReader(data), NewWriterSink(io.Discard), policy)
		require.Equal(t, KindCompleted, res.Kind, string(spelling))
		assert.Equal(t, want, res.Digest, string(spelling))
	}
}

func TestRun_NoneHashTakesFastPath(t *testing.T) {
	for _, spelling := range []HashAlgorithm{"none", "NONE"} {
		policy := Policy{Hash: spelling}
		assert.False(t, policy.Normalized().inspected(), string(spelling))
		assert.Equal(t, HashNone, policy.Normalized().Hash)

		var out bytes.Buffer
		res := Run(context.Background(), bytes.NewReader([]byte("abc")), NewWriterSink(&out), policy)
		require.Equal(t, KindCompleted, res.Kind)
		assert.Empty(t, res.Digest)
		assert.Equal(t, "abc", out.String())
	}
}

func TestPolicy_NormalizedKeepsUnknownName(t *testing.T) {
	policy := Policy{Hash: "crc32"}.Normalized()
	assert.Equal(t, HashAlgorithm("crc32"), policy.Hash)
	assert.Error(t, policy.Validate())
}

func TestRun_TooLargeDestroysSink(t *testing.T) {
	src := newChunkReader(payload(3000), 1000)
	sink := newStubSink(false)

	res := Run(context.Background(), src, sink, Policy{Limit: 2000, Hash: HashSHA256})

	require.Equal(t, KindTooLarge, res.Kind)
	assert.Empty(t, res.Digest)
	assert.Equal(t, int64(2000), res.Bytes)
	assert.ErrorIs(t, res.Error(), ErrTooLarge)
	assert.ErrorIs(t, sink.destroyedErr(), ErrTooLarge)
	assert.Equal(t, 2000, sink.data.Len())
	assert.Equal(t, int32(3), src.reads.Load())
}

func TestRun_ExactlyAtLimitCompletes(t *testing.T) {
	data := payload(2000)
	res := Run(context.Background(), newChunkReader(data, 500), NewWriterSink(io.Discard), Policy{Limit: 2000})
	assert.Equal(t, KindCompleted, res.Kind)
}

func TestRun_BackpressurePausesAndResumes(t *testing.T) {
	data := payload(500)
	src := newChunkReader(data, 100)
	pipe := NewPipe(10)

	got := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(pipe.Reader())
		got <- b
	}()

	res := Run(context.Background(), src, pipe, Policy{Limit: 1000, DrainTimeout: time.Second})

	require.Equal(t, KindCompleted, res.Kind)
	assert.Equal(t, 5, res.Pauses)
	assert.Equal(t, 5, res.Resumes)
	assert.Equal(t, data, <-got)
}

func TestRun_FastPathPipesThroughPipe(t *testing.T) {
	data := payload(200 * 1024)
	pipe := NewPipe(4 * 1024)

	got := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(pipe.Reader())
		got <- b
	}()

	res := Run(context.Background(), bytes.NewReader(data), pipe, Policy{})

	require.Equal(t, KindCompleted, res.Kind)
	assert.Empty(t, res.Digest)
	assert.Equal(t, data, <-got)
	assert.NoError(t, pipe.Err())
}

func TestRun_DrainTimeout(t *testing.T) {
	src := newChunkReader(payload(300), 100)
	sink := newStubSink(true)

	start := time.Now()
	res := Run(context.Background(), src, sink, Policy{Hash: HashMD5, DrainTimeout: 50 * time.Millisecond})

	require.Equal(t, KindTimedOut, res.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.ErrorIs(t, res.Error(), ErrTimedOut)
	assert.Equal(t, 1, res.Pauses)
	assert.Equal(t, 0, res.Resumes)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), src.reads.Load(), "source must not be resumed after timeout")
	assert.ErrorIs(t, sink.destroyedErr(), ErrTimedOut)
	assert.True(t, src.closed.Load())
}

type failingReader struct {
	err error
}

func (r failingReader) Read(p []byte) (int, error) {
	return 0, r.err
}

func TestRun_SourceAbort(t *testing.T) {
	sink := newStubSink(false)
	res := Run(context.Background(), failingReader{err: ErrAborted}, sink, Policy{Limit: 10})

	require.Equal(t, KindAborted, res.Kind)
	assert.ErrorIs(t, res.Error(), ErrAborted)
	assert.Error(t, sink.destroyedErr())
}

func TestRun_SourceErrorIsTransport(t *testing.T) {
	boom := errors.New("disk on fire")
	res := Run(context.Background(), failingReader{err: boom}, newStubSink(false), Policy{Limit: 10})

	require.Equal(t, KindTransportError, res.Kind)
	assert.ErrorIs(t, res.Error(), ErrTransport)
	assert.ErrorIs(t, res.Error(), boom)
}

func TestRun_FastPathErrorsAreTransport(t *testing.T) {
	res := Run(context.Background(), failingReader{err: ErrAborted}, newStubSink(false), Policy{})
	assert.Equal(t, KindTransportError, res.Kind)
}

// blockingReader 在 release 关闭前一直阻塞。
type blockingReader struct {
	release chan struct{}
	closed  atomic.Bool
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.release
	return 0, io.EOF
}

func (r *blockingReader) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		close(r.release)
	}
	return nil
}

func TestRun_SinkClosedWhileReading(t *testing.T) {
	src := &blockingReader{release: make(chan struct{})}
	pipe := NewPipe(0)

	task := Start(context.Background(), src, pipe, Policy{Limit: 100})
	require.NoError(t, pipe.Reader().Close())

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not resolve after sink close")
	}

	res := task.Outcome()
	assert.Equal(t, KindAborted, res.Kind)
	assert.ErrorIs(t, res.Error(), ErrSinkClosed)
	assert.True(t, src.closed.Load())
}

func TestRun_ContextCancel(t *testing.T) {
	src := &blockingReader{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	task := Start(ctx, src, newStubSink(false), Policy{Limit: 100})
	cancel()

	res := task.Outcome()
	assert.Equal(t, KindAborted, res.Kind)
	assert.ErrorIs(t, res.Error(), context.Canceled)
}

func TestRun_CompetingEventsResolveOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		src := &blockingReader{release: make(chan struct{})}
		pipe := NewPipe(0)
		ctx, cancel := context.WithCancel(context.Background())

		task := Start(ctx, src, pipe, Policy{Limit: 100})
		go cancel()
		go pipe.Destroy(errors.New("reset by peer"))
		go src.Close()

		first := task.Outcome()
		second := task.Outcome()
		assert.NotEqual(t, KindCompleted, first.Kind)
		assert.Equal(t, first, second)
		cancel()
	}
}

func TestRun_InvalidPolicy(t *testing.T) {
	sink := newStubSink(false)
	res := Run(context.Background(), bytes.NewReader(nil), sink, Policy{Limit: -1})

	assert.Equal(t, KindTransportError, res.Kind)
	assert.Error(t, sink.destroyedErr())
}

func TestParseHashAlgorithm(t *testing.T) {
	algo, err := ParseHashAlgorithm(" SHA256 ")
	require.NoError(t, err)
	assert.Equal(t, HashSHA256, algo)

	algo, err = ParseHashAlgorithm("none")
	require.NoError(t, err)
	assert.Equal(t, HashNone, algo)

	_, err = ParseHashAlgorithm("crc32")
	assert.Error(t, err)
}
