package proxy

import (
	"github.com/sirupsen/logrus"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/logging"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/videocache"
)

// progressStep 控制进度日志的粒度，完成时总会记录。
const progressStep = 10

// ProgressLogger 返回把缓存进度写入日志的 Listener，只记录 10 的整数倍与完成事件。
func ProgressLogger(logger logrus.FieldLogger) videocache.Listener {
	return videocache.ListenerFunc(func(url string, percent int) {
		if percent%progressStep != 0 && percent != 100 {
			return
		}
		fields := logging.ResourceFields("cache_progress", url)
		fields["percent"] = percent
		entry := logger.WithFields(fields)
		if percent == 100 {
			entry.Info("cache_complete")
			return
		}
		entry.Debug("cache_progress")
	})
}
