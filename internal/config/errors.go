package config

import (
	"errors"
	"fmt"
)

// FieldError 指出校验失败的配置键及原因，CLI 直接打印即可定位。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("配置项 %s %s", e.Field, e.Reason)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// FailedField 返回 err 链中第一个 FieldError 的字段名，不存在时返回空串。
func FailedField(err error) string {
	var fieldErr FieldError
	if errors.As(err, &fieldErr) {
		return fieldErr.Field
	}
	return ""
}

// originField 拼接 Origin 段下的字段路径。
func originField(field string) string {
	return "Origin." + field
}
