package videocache

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed 表示后台拉取失败；错误会粘滞在资源上，直到资源被重新创建。
	ErrFetchFailed = errors.New("fetch failed")
	// ErrTransportClosed 表示客户端连接已断开，不属于业务错误。
	ErrTransportClosed = errors.New("transport closed")
	// ErrShutdown 表示资源已被外部拆除。
	ErrShutdown = errors.New("resource shut down")
	// ErrRangeNotSatisfiable 表示区间起点超出资源长度。
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

func transportError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransportClosed, err)
}
