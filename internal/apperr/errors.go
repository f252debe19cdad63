package apperr

import (
	"errors"
)

// Kind 错误分类，handler 据此选择响应码
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindIntegration
	KindUnauthorized
	KindForbidden
)

// Error 业务错误。Code 相同即视为同一种错误（errors.Is）
type Error struct {
	Kind Kind
	Code int
	Msg  string
	Err  error
}

func New(kind Kind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap 保留 base 的分类和响应码，附带底层原因
func Wrap(base *Error, err error) error {
	return &Error{Kind: base.Kind, Code: base.Code, Msg: base.Msg, Err: err}
}

// WithMsg 替换对外消息
func WithMsg(base *Error, msg string) error {
	return &Error{Kind: base.Kind, Code: base.Code, Msg: msg}
}

// As 取出错误链上的第一个 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return 0
}
