package ingest

import "fmt"

// ErrorKind 校验失败类别
type ErrorKind string

const (
	// KindMalformedEnvelope 信封无法解析、类型未知或缺少载荷
	KindMalformedEnvelope ErrorKind = "malformed_envelope"
	// KindSchemaViolation 缺少必填字段、类型错误或枚举值非法
	KindSchemaViolation ErrorKind = "schema_violation"
	// KindOutOfRange 数值越界或非有限
	KindOutOfRange ErrorKind = "out_of_range"
)

// ValidationError 入站载荷校验失败
// Field 为 JSON 路径（如 entry.price），信封级错误时为空。
type ValidationError struct {
	Kind   ErrorKind `json:"kind"`
	Field  string    `json:"field,omitempty"`
	Reason string    `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Reason)
}

func newError(kind ErrorKind, field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}
