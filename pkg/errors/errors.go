package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理核心链路上的错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 可读的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is 可以穿透 Wrap 之后的错误
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Wrapf 包装格式化的原因
func (e *AppError) Wrapf(format string, args ...any) *AppError {
	return e.Wrap(fmt.Errorf(format, args...))
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeUnauthenticated = 10001

	// 消息相关 20000-20999
	CodeInvalidMessage     = 20001
	CodePersistenceFailure = 20002
	CodeGroupNotFound      = 20003

	// 连接相关 30000-30999
	CodeDeliveryFailure  = 30001
	CodeConnectionClosed = 30002

	// 系统错误 50000-50999
	CodeServerError      = 50001
	CodeStoreUnavailable = 50002
	CodeIOError          = 50003
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrUnauthenticated = NewError(CodeUnauthenticated, "unauthenticated")
)

// 消息相关
var (
	ErrInvalidMessage     = NewError(CodeInvalidMessage, "invalid message")
	ErrPersistenceFailure = NewError(CodePersistenceFailure, "message persistence failed")
	ErrGroupNotFound      = NewError(CodeGroupNotFound, "group chat not found")
)

// 连接相关
var (
	ErrDeliveryFailure  = NewError(CodeDeliveryFailure, "delivery failed")
	ErrConnectionClosed = NewError(CodeConnectionClosed, "connection closed")
)

// 系统相关
var (
	ErrServerError      = NewError(CodeServerError, "internal server error")
	ErrStoreUnavailable = NewError(CodeStoreUnavailable, "store unavailable")
	ErrIOError          = NewError(CodeIOError, "blob io error")
)
