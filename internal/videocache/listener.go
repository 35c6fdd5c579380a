package videocache

// Listener 接收缓存进度通知，percent 在 [0,100] 内且对同一资源严格递增。
type Listener interface {
	OnProgress(url string, percent int)
}

// CompletionListener 是 Listener 的可选扩展：资源由本进程下载完成时调用一次，
// 复用磁盘上已完成的缓存不会触发。
type CompletionListener interface {
	OnComplete(url string)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(url string, percent int)

// OnProgress makes ListenerFunc satisfy Listener.
func (f ListenerFunc) OnProgress(url string, percent int) {
	f(url, percent)
}

// percentOf 计算 available 占 total 的整数百分比，total 未知时返回 -1。
func percentOf(available, total int64) int {
	if total <= 0 {
		return -1
	}
	percent := available * 100 / total
	if percent > 100 {
		percent = 100
	}
	return int(percent)
}

// Listeners fans a progress report out to several listeners in order.
type Listeners []Listener

// OnProgress 依次通知每个非空监听者。
func (ls Listeners) OnProgress(url string, percent int) {
	for _, l := range ls {
		if l != nil {
			l.OnProgress(url, percent)
		}
	}
}

// OnComplete 把完成事件转发给实现了 CompletionListener 的成员。
func (ls Listeners) OnComplete(url string) {
	for _, l := range ls {
		if c, ok := l.(CompletionListener); ok {
			c.OnComplete(url)
		}
	}
}
