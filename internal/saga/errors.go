package saga

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized は操作者のユーザーレコードを取得できなかったことを表す。
	ErrUnauthorized = errors.New("user not authorized")
	// ErrBookingNotAllowed は操作者が予約できない状態であることを表す。
	ErrBookingNotAllowed = errors.New("user can't book")
	// ErrSagaNotFound は指定したSagaが存在しないことを表す。
	ErrSagaNotFound = errors.New("saga not found")
	// ErrNotRepairable は修復対象でない状態のSagaを修復しようとしたことを表す。
	ErrNotRepairable = errors.New("saga is not inconsistent")
)

// StatusError はバックエンドが期待と異なるステータスを返したことを表す。
type StatusError struct {
	// Step は失敗したステップ名。
	Step string
	// StatusCode はバックエンドが返したステータスコード。
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("step %s: unexpected status %d", e.Step, e.StatusCode)
}
