package services

import "errors"

var (
	// ErrAccessDenied 授权协作方拒绝了调用者
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound 比赛/状态/时段/条目不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition 状态机规则不允许该转换
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidReference 球队/球员不属于该比赛或彼此不匹配
	ErrInvalidReference = errors.New("invalid team or player reference")

	// ErrPlayerNotOnPitch 换人目标不在场上
	ErrPlayerNotOnPitch = errors.New("player not on pitch")

	// ErrConflict 幂等键跨比赛复用，或唯一键冲突
	ErrConflict = errors.New("conflict")

	// ErrQuotaExceeded 外部配额协作方拒绝了本次写入
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// AppError 应用错误，携带错误码和底层原因
type AppError struct {
	Code    error // 上面的哨兵错误之一
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap 让 errors.Is 能够识别错误码
func (e *AppError) Unwrap() error {
	return e.Code
}

// NewAppError 创建应用错误
func NewAppError(code error, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
