package common

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/servicedesk-backend/internal/pkg/apperror"
)

// GetOne читает одну строку в T. Отсутствие строки превращается в notFoundErr.
func GetOne[T any](ctx context.Context, q sqlx.QueryerContext, notFoundErr error, op, query string, args ...interface{}) (*T, error) {
	var dest T
	if err := sqlx.GetContext(ctx, q, &dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundErr
		}
		return nil, apperror.Database(err, op)
	}
	return &dest, nil
}

// WithTransaction выполняет fn в транзакции: ошибка или паника откатывают, иначе коммит.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperror.Database(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperror.Database(err, "commit transaction")
	}
	return nil
}
