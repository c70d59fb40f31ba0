package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted 表示源流在完成前异常终止。源可以返回包装了该错误的 error 主动中止上传。
	ErrAborted = errors.New("relay: source aborted")
	// ErrTooLarge 表示累计字节数超过了上限。
	ErrTooLarge = errors.New("relay: payload exceeds size limit")
	// ErrTimedOut 表示等待 sink 可写超时。
	ErrTimedOut = errors.New("relay: drain wait timed out")
	// ErrTransport 包装底层连接或流错误。
	ErrTransport = errors.New("relay: transport error")
	// ErrSinkClosed 表示 sink 在正常结束前被关闭。
	ErrSinkClosed = errors.New("relay: sink closed before end")
	// ErrWriteAfterEnd 表示在 End 之后继续写入。
	ErrWriteAfterEnd = errors.New("relay: write after end")
)

// Kind 是一次中继的终态类型。
type Kind int

const (
	KindCompleted Kind = iota + 1
	KindAborted
	KindTooLarge
	KindTimedOut
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindAborted:
		return "aborted"
	case KindTooLarge:
		return "too_large"
	case KindTimedOut:
		return "timed_out"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Outcome 描述一次中继的唯一终态。
type Outcome struct {
	Kind Kind
	// Digest 仅在 Completed 且启用哈希时非空（十六进制小写）。
	Digest string
	// Bytes 是已写入 sink 的字节数，失败时不回收。
	Bytes int64
	// Pauses/Resumes 记录因背压暂停与恢复读取源的次数。
	Pauses  int
	Resumes int
	// Err 是导致失败的底层原因，可能为 nil。
	Err error
}

// OK 报告中继是否成功完成。
func (o Outcome) OK() bool {
	return o.Kind == KindCompleted
}

// Error 将失败终态转换为可用 errors.Is 判断的错误；成功时返回 nil。
func (o Outcome) Error() error {
	var sentinel error
	switch o.Kind {
	case KindCompleted:
		return nil
	case KindAborted:
		sentinel = ErrAborted
	case KindTooLarge:
		sentinel = ErrTooLarge
	case KindTimedOut:
		sentinel = ErrTimedOut
	default:
		sentinel = ErrTransport
	}

	if o.Err == nil || errors.Is(o.Err, sentinel) {
		if o.Err != nil {
			return o.Err
		}
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, o.Err)
}
