// Package apperr はフレンド申請・チャレンジ台帳が返すエラーの分類を定義します。
package apperr

import (
	"errors"
	"fmt"
)

// Kind はエラーの種別
type Kind int

const (
	KindUnknown Kind = iota
	// 入力不正・自分自身への操作・参照先が存在しない・負のステーク
	KindValidation
	// 呼び出し元がその遷移を行う当事者ではない
	KindAuthorization
	// エンティティが要求された遷移の状態にない
	KindStateConflict
	// 承認時点で残高がステークに満たない
	KindInsufficientFunds
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

// ErrNotFound は参照先が存在しない場合に Validation エラーがラップする
var ErrNotFound = errors.New("not found")

// Error は種別付きのドメインエラー
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return newError(KindAuthorization, format, args...)
}

func StateConflict(format string, args ...any) *Error {
	return newError(KindStateConflict, format, args...)
}

func InsufficientFunds(format string, args ...any) *Error {
	return newError(KindInsufficientFunds, format, args...)
}

// NotFound は entity が見つからないことを表す Validation エラーを返します。
func NotFound(entity string) *Error {
	return &Error{Kind: KindValidation, Msg: entity + " not found", Err: ErrNotFound}
}

// KindOf は err の連鎖から最初の *Error の種別を返します。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
