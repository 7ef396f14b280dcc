package errs

import (
	"errors"
	"strconv"
)

// 业务错误码
const (
	CodeOK            = 0
	CodeBadRequest    = 1001
	CodeUnauthorized  = 1002
	CodeTokenExpired  = 1003
	CodeNotFriends    = 1101
	CodeDuplicate     = 1102
	CodeNotFound      = 1104
	CodeStorage       = 1201
	CodeInternal      = 1500
)

var (
	ErrBadRequest   = NewCodeError(CodeBadRequest, "bad request")
	ErrUnauthorized = NewCodeError(CodeUnauthorized, "unauthorized")
	ErrTokenExpired = NewCodeError(CodeTokenExpired, "token invalid or expired")
	ErrNotFriends   = NewCodeError(CodeNotFriends, "not mutual friends")
	ErrStorage      = NewCodeError(CodeStorage, "storage unavailable")
)

// CodeError 统一的对外错误：code + msg (+detail)，可直接 JSON 返回。
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	s := strconv.Itoa(e.Code) + ": " + e.Msg
	if e.Detail != "" {
		s += " (" + e.Detail + ")"
	}
	return s
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Is 支持 errors.Is 按 code 匹配。
func (e *CodeError) Is(target error) bool {
	var ce *CodeError
	if !errors.As(target, &ce) {
		return false
	}
	return e.Code == ce.Code
}
