package videocache

import "fmt"

// Intent 区分请求意图：普通播放或纯预加载。
type Intent int

const (
	IntentPlayback Intent = iota
	IntentPreload
)

func (i Intent) String() string {
	switch i {
	case IntentPlayback:
		return "playback"
	case IntentPreload:
		return "preload"
	default:
		return fmt.Sprintf("intent(%d)", int(i))
	}
}

// Request 是一次连接上的已解析请求。
type Request struct {
	URL         string
	RangeOffset int64
	// Partial 仅在请求携带 Range 时为 true。
	Partial bool
	Intent  Intent
}
