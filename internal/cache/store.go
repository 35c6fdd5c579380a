package cache

import "errors"

// Store 是单个资源的追加写缓存。后台拉取协程是唯一写者，读者可以与写入并发调用 ReadAt。
type Store interface {
	// Available 返回已经落盘、可以读取的字节数，除 Reset 外单调不减。
	Available() int64

	// IsCompleted 表示资源已完整下载，此时 Available 即资源总长度。
	IsCompleted() bool

	// ReadAt 从 off 处读取至多 len(p) 个已落盘字节；off 不小于 Available 时返回 io.EOF。
	ReadAt(p []byte, off int64) (int, error)

	// Append 在末尾追加数据，仅供后台拉取协程调用。
	Append(p []byte) error

	// Reset 丢弃全部未完成数据，Available 归零，仅供后台拉取协程在续传前调用。
	Reset() error

	// Complete 将临时文件转为最终文件，之后不再接受写入。
	Complete() error

	// Close 释放文件句柄。
	Close() error
}

var (
	// ErrClosed 表示缓存文件已关闭。
	ErrClosed = errors.New("cache store closed")
	// ErrCompleted 表示缓存已完成，不允许继续追加。
	ErrCompleted = errors.New("cache store already completed")
)
