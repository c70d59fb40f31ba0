package relay

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saturatedPipe(t *testing.T) *Pipe {
	t.Helper()
	p := NewPipe(4)
	saturated, err := p.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.True(t, saturated)
	return p
}

func TestWaitForDrain_Ready(t *testing.T) {
	p := saturatedPipe(t)

	go func() {
		buf := make([]byte, 16)
		_, _ = p.Reader().Read(buf)
	}()

	assert.NoError(t, WaitForDrain(context.Background(), p, time.Second))
}

func TestWaitForDrain_NotSaturatedReturnsImmediately(t *testing.T) {
	p := NewPipe(1024)
	assert.NoError(t, WaitForDrain(context.Background(), p, time.Millisecond))
}

func TestWaitForDrain_SinkError(t *testing.T) {
	p := saturatedPipe(t)
	boom := errors.New("connection reset")
	p.Destroy(boom)

	assert.ErrorIs(t, WaitForDrain(context.Background(), p, time.Second), boom)
}

func TestWaitForDrain_ClosedIsDistinctFromEnd(t *testing.T) {
	closed := saturatedPipe(t)
	require.NoError(t, closed.Reader().Close())
	assert.ErrorIs(t, WaitForDrain(context.Background(), closed, time.Second), ErrSinkClosed)

	ended := newStubSink(true)
	require.NoError(t, ended.End())
	assert.NoError(t, WaitForDrain(context.Background(), ended, time.Second))
}

func TestWaitForDrain_Timeout(t *testing.T) {
	p := saturatedPipe(t)

	start := time.Now()
	err := WaitForDrain(context.Background(), p, 30*time.Millisecond)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitForDrain_ContextCancelled(t *testing.T) {
	p := saturatedPipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, WaitForDrain(ctx, p, time.Second), context.Canceled)
}

func TestPipe_ReaderSeesDestroyError(t *testing.T) {
	p := NewPipe(0)
	_, err := p.Write([]byte("partial"))
	require.NoError(t, err)

	p.Destroy(ErrTooLarge)

	_, err = io.ReadAll(p.Reader())
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = p.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestPipe_CloseAfterEndFinishesCleanly(t *testing.T) {
	p := NewPipe(0)
	require.NoError(t, p.End())
	require.NoError(t, p.Reader().Close())

	<-p.Done()
	assert.NoError(t, p.Err())
	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrWriteAfterEnd)
}

func TestWriterSink_PropagatesWriteError(t *testing.T) {
	boom := errors.New("no space left")
	s := NewWriterSink(errWriter{err: boom})

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, boom)
	<-s.Done()
	assert.ErrorIs(t, s.Err(), boom)
	assert.ErrorIs(t, s.End(), boom)
}

type errWriter struct {
	err error
}

func (w errWriter) Write(p []byte) (int, error) {
	return 0, w.err
}
