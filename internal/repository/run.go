package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// RunRepository — архив запусков: remediation_runs и remediation_results.
// Движок только пишет в архив и никогда не читает его при обработке.
type RunRepository interface {
	// Save сохраняет запуск и все его записи одной транзакцией.
	Save(ctx context.Context, out *model.RunOutput) error
	// GetRun возвращает заголовок запуска без записей.
	GetRun(ctx context.Context, runID string) (*model.RunOutput, error)
	// ListResults возвращает записи запуска в порядке обработки.
	ListResults(ctx context.Context, runID string) ([]model.ResultEntry, error)
}

// Transactor выполняет функцию в транзакции (TxRunner).
type Transactor interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

var resultColumns = []string{
	"run_id", "position", "user_principal_name", "sam_account_name",
	"inactive_days", "last_activity", "action", "notification_stage",
	"notification_sent", "notification_recipient", "owner_strategy",
	"status", "skip_reason", "error_detail", "processed_at",
}

// runRepo — реализация RunRepository.
type runRepo struct {
	db DBTX
	tx Transactor
}

// NewRunRepository создаёт репозиторий архива запусков.
func NewRunRepository(db DBTX, tx Transactor) RunRepository {
	return &runRepo{db: db, tx: tx}
}

func (r *runRepo) Save(ctx context.Context, out *model.RunOutput) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO remediation_runs
				(run_id, mode, dry_run, started_at, finished_at, success, error, summary, retry)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		retry := out.Retry
		if retry == nil {
			retry = []model.InputAccount{}
		}
		_, err := tx.Exec(ctx, query,
			out.RunID, string(out.Mode), out.DryRun, out.StartedAt, out.FinishedAt,
			out.Success, out.Error, out.Summary, retry,
		)
		if err != nil {
			if sqlState(err) == sqlStateUniqueViolation {
				return fmt.Errorf("%w: run_id %s", ErrConflict, out.RunID)
			}
			return fmt.Errorf("ошибка сохранения запуска: %w", err)
		}

		if len(out.Results) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(out.Results))
		for i, e := range out.Results {
			rows = append(rows, []any{
				out.RunID, i, e.UserPrincipalName, e.SamAccountName,
				e.InactiveDays, e.LastActivity, string(e.Action), string(e.Stage),
				e.NotificationSent, e.NotificationRecipient, string(e.OwnerStrategy),
				string(e.Status), string(e.SkipReason), e.ErrorDetail, e.ProcessedAt,
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"remediation_results"}, resultColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("ошибка сохранения записей запуска: %w", err)
		}
		return nil
	})
}

func (r *runRepo) GetRun(ctx context.Context, runID string) (*model.RunOutput, error) {
	query := `
		SELECT run_id, mode, dry_run, started_at, finished_at, success, error, summary, retry
		FROM remediation_runs
		WHERE run_id = $1`

	var (
		out  model.RunOutput
		mode string
	)
	err := r.db.QueryRow(ctx, query, runID).Scan(
		&out.RunID, &mode, &out.DryRun, &out.StartedAt, &out.FinishedAt,
		&out.Success, &out.Error, &out.Summary, &out.Retry,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения запуска: %w", err)
	}
	out.Mode = model.Mode(mode)
	return &out, nil
}

func (r *runRepo) ListResults(ctx context.Context, runID string) ([]model.ResultEntry, error) {
	query := `
		SELECT user_principal_name, sam_account_name, inactive_days, last_activity,
			action, notification_stage, notification_sent, notification_recipient,
			owner_strategy, status, skip_reason, error_detail, processed_at
		FROM remediation_results
		WHERE run_id = $1
		ORDER BY position`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей запуска: %w", err)
	}
	defer rows.Close()

	result := []model.ResultEntry{}
	for rows.Next() {
		var (
			e                                           model.ResultEntry
			action, stage, strategy, status, skipReason string
		)
		if err := rows.Scan(
			&e.UserPrincipalName, &e.SamAccountName, &e.InactiveDays, &e.LastActivity,
			&action, &stage, &e.NotificationSent, &e.NotificationRecipient,
			&strategy, &status, &skipReason, &e.ErrorDetail, &e.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи запуска: %w", err)
		}
		e.Action = model.Action(action)
		e.Stage = model.Stage(stage)
		e.OwnerStrategy = model.OwnerStrategy(strategy)
		e.Status = model.Status(status)
		e.SkipReason = model.SkipReason(skipReason)
		result = append(result, e)
	}
	return result, rows.Err()
}
