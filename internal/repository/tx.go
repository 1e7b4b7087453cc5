package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Atomic выполняет fn внутри одной БД-транзакции.
// Используется там где две записи должны стать видимыми вместе
// (например, вставка позиции + перевод интента в executed).
func Atomic(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// isUniqueViolation распознаёт нарушение unique constraint в ошибке Postgres
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqlmock и обёрнутые ошибки не дают *pq.Error
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
