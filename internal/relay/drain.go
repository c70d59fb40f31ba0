package relay

import (
	"context"
	"fmt"
	"time"
)

// WaitForDrain 挂起调用方直到 sink 重新可写、sink 终止、超时或 ctx 取消。
//
// sink 正常结束视为可继续（返回 nil）；sink 在结束前关闭返回 ErrSinkClosed；
// 超时返回包装了 ErrTimedOut 的错误。timeout <= 0 表示不设上限。
// 所有等待源在同一个 select 中布置，任一触发即全部撤销。
func WaitForDrain(ctx context.Context, sink Sink, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-sink.Drain():
		return nil
	case <-sink.Done():
		return sink.Err()
	case <-expired:
		return fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
