// Package errs 定义状态引擎对外暴露的错误分类（对外导出）
//
// 引擎只返回三类错误：NotFound、Validation、Conflict。
// 调用方应通过 errors.Is 或 IsNotFound/IsValidation/IsConflict 判断类型，
// 不要依赖错误文本。
package errs

import (
	"errors"
	"fmt"
)

// Kind 错误类型（对外导出）
type Kind string

const (
	// KindNotFound 资源不存在或不属于当前租户
	KindNotFound Kind = "not_found"
	// KindValidation 非法状态转换、定义格式错误、前置条件不满足
	KindValidation Kind = "validation"
	// KindConflict 并发写入失败或已存在活跃实例，调用方应重新读取后重试
	KindConflict Kind = "conflict"
)

// 哨兵错误，用于 errors.Is 判断
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
)

// Error 引擎错误（对外导出）
// Rule 为被违反的规则名（如 "invalid_transition"），Message 为可读描述。
type Error struct {
	Kind    Kind
	Rule    string
	Message string
	Err     error
}

// Error 实现error接口
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Rule != "" {
		msg = e.Rule + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类型即视为匹配，使 errors.Is(err, ErrConflict) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Rule != "" && t.Rule != e.Rule {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound 创建NotFound错误（对外导出）
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Rule: "not_found", Message: fmt.Sprintf(format, args...)}
}

// Validation 创建Validation错误（对外导出）
func Validation(rule, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Conflict 创建Conflict错误（对外导出）
func Conflict(rule, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Wrap 以指定类型包装底层错误
func Wrap(kind Kind, rule string, err error) *Error {
	return &Error{Kind: kind, Rule: rule, Message: string(kind), Err: err}
}

// KindOf 返回错误类型，非引擎错误返回空字符串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RuleOf 返回被违反的规则名
func RuleOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Rule
	}
	return ""
}

// IsNotFound 判断是否为NotFound错误
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation 判断是否为Validation错误
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict 判断是否为Conflict错误
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
