package videocache

import "fmt"

// Strategy 是响应正文的输出方式，集合封闭。
type Strategy int

const (
	// StrategyNone 只输出头部，用于缓存被绕过的预加载请求。
	StrategyNone Strategy = iota
	// StrategyCached 通过 Resource.Read 阻塞读取缓存，驱动后台拉取。
	StrategyCached
	// StrategyLive 使用请求私有的源句柄直接回源，不写缓存。
	StrategyLive
	// StrategyHybrid 先非阻塞地输出已缓存字节，余下部分回源。
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyCached:
		return "cached"
	case StrategyLive:
		return "live"
	case StrategyHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// SelectStrategy 根据请求意图与缓存决策选出输出策略。
//
// 预加载只走缓存，缓存被绕过时不回源；播放请求在缓存不值得使用时直接回源，
// 否则按 hybrid 开关选择 cached 或 hybrid。起点超出已缓存范围时 hybrid 不会读到任何缓存，
// 与 live 等价，因此这里直接选 live。
func SelectStrategy(intent Intent, useCache, hybrid bool) Strategy {
	switch {
	case intent == IntentPreload && useCache:
		return StrategyCached
	case intent == IntentPreload:
		return StrategyNone
	case !useCache:
		return StrategyLive
	case hybrid:
		return StrategyHybrid
	default:
		return StrategyCached
	}
}

// UseCache 判断区间请求是否值得走缓存：长度未知或非区间请求总是走缓存；
// 否则起点不能超过已缓存字节数加上 barrier×总长度，超过则视为用户拖动进度条。
func UseCache(req Request, length, available int64, barrier float64) bool {
	if length < 0 || !req.Partial {
		return true
	}
	return float64(req.RangeOffset) <= float64(available)+float64(length)*barrier
}
