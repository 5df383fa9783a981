package resilience

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	KindValidation  Kind = "validation"
	KindTransient   Kind = "transient"
	KindPermanent   Kind = "permanent"
	KindTimeout     Kind = "timeout"
	KindCircuitOpen Kind = "circuit_open"
	KindUnknown     Kind = "unknown"
)

// Error 带分类的错误
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen 熔断器打开时直接返回
var ErrCircuitOpen = &Error{Kind: KindCircuitOpen, Message: "circuit breaker is open"}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// FromStatus 根据 HTTP 状态码分类：4xx 为永久错误，其余为可重试错误
func FromStatus(status int, err error) error {
	kind := KindTransient
	if status >= 400 && status < 500 {
		kind = KindPermanent
	}
	return &Error{Kind: kind, StatusCode: status, Err: err}
}

// RetryExhaustedError 重试耗尽，包含尝试次数和最后一次错误
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// KindOf 沿错误链查找分类
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// StatusCode 沿错误链查找状态码，没有时返回 0
func StatusCode(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// IsRetryable 默认重试策略
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindPermanent, KindCircuitOpen:
		return false
	}
	if code := StatusCode(err); code >= 400 && code < 500 {
		return false
	}
	return true
}
