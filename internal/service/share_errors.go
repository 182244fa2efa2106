package service

import (
	"errors"
	"fmt"
)

var (
	ErrPostNotFound  = errors.New("post not found")
	ErrConflict      = errors.New("share transaction conflict")
	ErrShareNotFound = errors.New("share not found")
	ErrNotShareOwner = errors.New("only the original sharer may remove a share")
)

// ErrorKind 是分享失败的稳定分类，HTTP 层据此映射状态码。
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindRateLimit    ErrorKind = "rate_limit"
	KindCooldown     ErrorKind = "cooldown"
	KindSpamRejected ErrorKind = "spam_rejected"
	KindPermission   ErrorKind = "permission"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindStorage      ErrorKind = "storage"
)

// ShareError 携带分类以及调用方重试或展示所需的信息。
type ShareError struct {
	Kind              ErrorKind
	Message           string
	RetryAfterSeconds int
	Reason            string
	Tier              string
	Reasons           []string
	Err               error
}

func (e *ShareError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ShareError) Unwrap() error {
	return e.Err
}

// Retryable 表示调用方在等待或刷新状态后可以重试。
func (e *ShareError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindCooldown, KindConflict, KindStorage:
		return true
	default:
		return false
	}
}

func newShareError(kind ErrorKind, message string) *ShareError {
	return &ShareError{Kind: kind, Message: message}
}

// KindOf 返回错误对应的分类，未知错误视为存储错误。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *ShareError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrPostNotFound), errors.Is(err, ErrShareNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotShareOwner):
		return KindPermission
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindStorage
	}
}

// asShareError 将哨兵错误包装为 ShareError。
func asShareError(err error) *ShareError {
	var se *ShareError
	if errors.As(err, &se) {
		return se
	}
	kind := KindOf(err)
	return &ShareError{Kind: kind, Message: defaultMessage(kind), Err: err}
}

func defaultMessage(kind ErrorKind) string {
	switch kind {
	case KindNotFound:
		return "resource not found"
	case KindPermission:
		return "not allowed"
	case KindConflict:
		return "concurrent update, please retry"
	default:
		return "storage unavailable"
	}
}
