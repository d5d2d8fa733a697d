package utils

import "fmt"

// 错误码
const (
	ErrCodeConfig    = 1
	ErrCodeProvision = 2
	ErrCodeReplay    = 3
	ErrCodeAdmin     = 4
)

// SteerError 自定义错误类型
type SteerError struct {
	Code    int
	Message string
	Err     error
}

// Error 实现error接口
func (e *SteerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("steer error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("steer error %d: %s (%v)", e.Code, e.Message, e.Err)
}

// Unwrap 支持 errors.Is / errors.As
func (e *SteerError) Unwrap() error {
	return e.Err
}

// NewSteerError 创建新的错误
func NewSteerError(code int, message string, err error) *SteerError {
	return &SteerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
