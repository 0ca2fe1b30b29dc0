// Package apperr 定义供应链核心的错误类别。
//
// 所有业务校验失败都以 *Error 返回，Kind 原样透传到 HTTP 响应，
// 调用方据此决定是否重试（只有 ConcurrentModification 可重试）。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	NotFound               Kind = "NotFound"
	ItemNotFound           Kind = "ItemNotFound"
	InvalidTransition      Kind = "InvalidTransition"
	InvalidTopology        Kind = "InvalidTopology"
	InsufficientQuantity   Kind = "InsufficientQuantity"
	InsufficientInventory  Kind = "InsufficientInventory"
	NodeHasDependencies    Kind = "NodeHasDependencies"
	ChainFinalized         Kind = "ChainFinalized"
	ItemInactive           Kind = "ItemInactive"
	InvalidApproval        Kind = "InvalidApproval"
	InvalidSchedule        Kind = "InvalidSchedule"
	ConcurrentModification Kind = "ConcurrentModification"
	InvalidInput           Kind = "InvalidInput"
	Forbidden              Kind = "Forbidden"
	Internal               Kind = "Internal"
)

// Retryable 是否可由调用方重试
func (k Kind) Retryable() bool {
	return k == ConcurrentModification
}

// Error 业务错误
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New 创建业务错误
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf 返回错误类别，非业务错误返回 Internal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is 判断错误是否属于指定类别
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf 返回面向调用方的错误信息
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
