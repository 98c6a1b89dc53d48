package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ndnstore/pkg/core"
)

// MaxRetries 是数据库锁冲突时的最大尝试次数
const MaxRetries = 5

// WithRetry 只重试 sqlite 的锁冲突，其它错误原样返回
// 重试用尽后返回 ErrDB
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		err = fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt == MaxRetries {
			break
		}
		slog.Warn("database busy, retrying", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: retries exhausted: %v", core.ErrDB, err)
}

// IsBusy 兼容 mattn/go-sqlite3 和 pgx 的错误文本
func IsBusy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "deadlock detected")
}

// WrapDBError 把底层错误统一包装成 ErrDB，业务错误 (core.Err*) 保持不变
func WrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		core.ErrNotFound, core.ErrAlreadyExists, core.ErrInvalidData, core.ErrInvalidParam,
		core.ErrInvalidState, core.ErrPermissionDenied, core.ErrInvalidLink, core.ErrDB,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", core.ErrDB, op, err)
}
