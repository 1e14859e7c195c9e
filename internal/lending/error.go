package lending

import (
	"context"
	"errors"
	"fmt"
)

type Code string

// エラー種別（HTTP層で status に変換する）
const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeAlreadyReturned Code = "ALREADY_RETURNED"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
	// 呼び出し側の ctx が期限切れ・キャンセル（サーバ障害ではない）
	CodeTimeout         Code = "TIMEOUT"
)

// Error is the typed failure returned by every engine operation.
// Context carries the ids involved so the transport can build its own message.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Is lets errors.Is match on the code alone, e.g. errors.Is(err, ErrUnavailable).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Code == e.Code
}

// With は Context にキーを追加したコピーを返す
func (e *Error) With(key string, v any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, val := range e.Context {
		ctx[k] = val
	}
	ctx[key] = v
	return &Error{Code: e.Code, Message: e.Message, Context: ctx}
}

// 比較用の番兵（Message 空）
var (
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrForbidden       = &Error{Code: CodeForbidden}
	ErrUnavailable     = &Error{Code: CodeUnavailable}
	ErrAlreadyReturned = &Error{Code: CodeAlreadyReturned}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrConflict        = &Error{Code: CodeConflict}
)

func NewNotFound(msg string) *Error        { return &Error{Code: CodeNotFound, Message: msg} }
func NewForbidden(msg string) *Error       { return &Error{Code: CodeForbidden, Message: msg} }
func NewUnavailable(msg string) *Error     { return &Error{Code: CodeUnavailable, Message: msg} }
func NewAlreadyReturned(msg string) *Error { return &Error{Code: CodeAlreadyReturned, Message: msg} }
func NewInvalidArgument(msg string) *Error { return &Error{Code: CodeInvalidArgument, Message: msg} }
func NewConflict(msg string) *Error        { return &Error{Code: CodeConflict, Message: msg} }
func NewInternal(msg string) *Error        { return &Error{Code: CodeInternal, Message: msg} }

// CodeOf returns the Code of a domain error, CodeTimeout for a caller
// context error and CodeInternal for anything else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}
	return CodeInternal
}

func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
