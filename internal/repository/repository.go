package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	apperr "sudooom.im.chat/pkg/errors"
)

//go:embed schema.sql
var schema string

// PostgreSQL 错误码
const (
	pgCheckViolation      = "23514"
	pgForeignKeyViolation = "23503"
)

// Migrate 建表（幂等）
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withTimeout 为单次存储调用加上超时，timeout <= 0 不限制
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// mapError 把驱动错误转换为应用错误
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCheckViolation, pgForeignKeyViolation:
			return apperr.ErrInvalidMessage.Wrap(err)
		}
	}
	return apperr.ErrStoreUnavailable.Wrap(err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
