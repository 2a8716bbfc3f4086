// Package upstream はIdPとデータストアへのネットワーク呼び出しにタイムアウトを課す。
// タイムアウトは拒否とは区別される一時的な失敗として報告する。
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrTimeout は外部呼び出しがタイムアウトしたことを表す。
// 呼び出し先で処理が完了している可能性があるため、結果は不明として扱う。
var ErrTimeout = errors.New("upstream call timed out")

// TimeoutError はどの操作がタイムアウトしたかを保持する。
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s: %v", e.Op, e.Timeout, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is はerrors.Is(err, ErrTimeout)を満たす。
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Call はfnをタイムアウト付きのコンテキストで実行する。
// dが0以下の場合はタイムアウトを課さない。
func Call(ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, op, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value は値を返すfnをタイムアウト付きのコンテキストで実行する。
func Value[T any](ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := fn(callCtx)
	if err == nil {
		return v, nil
	}

	// 呼び出し元のキャンセルはタイムアウトとして扱わない
	if ctx.Err() == nil && isTimeout(callCtx, err) {
		var zero T
		return zero, &TimeoutError{Op: op, Timeout: d, Err: err}
	}
	return v, err
}

// IsTimeout はerrがタイムアウトを表すかどうかを返す。
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func isTimeout(callCtx context.Context, err error) bool {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
