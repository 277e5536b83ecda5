package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// originField 用于拼接 Origin 级字段路径，输出 Origin[host].Field 形式。
func originField(host, field string) string {
	if host == "" {
		return fmt.Sprintf("Origin[].%s", field)
	}
	return fmt.Sprintf("Origin[%s].%s", host, field)
}

// listField 输出列表元素路径，例如 App.Precache[2]。
func listField(name string, idx int) string {
	return fmt.Sprintf("%s[%d]", name, idx)
}
