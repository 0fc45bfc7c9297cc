// Пакет repository — архив запусков в PostgreSQL.
// Запросы пишутся на SQL через pgx, записи результатов грузятся COPY.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки архива.
var (
	// ErrNotFound — запуска с таким run_id нет.
	ErrNotFound = errors.New("запуск не найден в архиве")
	// ErrConflict — запуск с таким run_id уже сохранён.
	ErrConflict = errors.New("запуск уже сохранён в архиве")
)

// sqlStateUniqueViolation — SQLSTATE нарушения уникальности.
const sqlStateUniqueViolation = "23505"

// DBTX — общее подмножество *pgxpool.Pool и pgx.Tx, нужное архиву.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// beginner открывает транзакцию. Реализуется *pgxpool.Pool и *pgx.Conn.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner выполняет функцию в транзакции.
type TxRunner struct {
	db beginner
}

// NewTxRunner создаёт TxRunner поверх пула или одиночного соединения.
func NewTxRunner(db beginner) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx коммитит транзакцию, если fn вернула nil, иначе откатывает.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("начало транзакции архива: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после Commit — no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("коммит транзакции архива: %w", err)
	}
	return nil
}

// sqlState возвращает SQLSTATE ошибки PostgreSQL или пустую строку.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
