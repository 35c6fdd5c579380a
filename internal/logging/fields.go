package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源地址/区间/策略字段，供代理请求日志复用。
func RequestFields(url, requestID, strategy string, offset int64, partial bool) logrus.Fields {
	fields := logrus.Fields{
		"url":          url,
		"strategy":     strategy,
		"range_offset": offset,
		"partial":      partial,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// ResourceFields 用于后台拉取与缓存进度相关的日志。
func ResourceFields(action, url string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"url":    url,
	}
}
