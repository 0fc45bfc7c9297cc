// remediation.go — движок обработки неактивных привилегированных учёток.
//
// RemediationService выполняет один запуск в одном из двух режимов сборки
// (Discovery или Reconciliation) и общий конвейер на каждую учётку:
//  1. Пустой UPN → пропуск NoPrincipalName
//  2. Reconciliation: живая сверка с каталогами
//  3. База неактивности: последний вход (AD, Entra), иначе дата создания
//  4. Ниже порога предупреждения → пропуск ActivityDetected
//  5. Поиск владельца → пропуски NoOwnerFound / NoEmailFound
//  6. Выбор действия и стадии по порогам
//  7. Уведомление владельца; сбой доставки останавливает весь запуск
//  8. Отключение (пропускается, если учётка уже отключена)
//  9. Удаление (только при явно включённом удалении)
//
// Учётки обрабатываются строго последовательно. Итог запуска возвращается
// всегда, включая частичные результаты и список повтора.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
	"github.com/ethorneloe/identity-lifecycle/internal/domain/policy"
	"github.com/ethorneloe/identity-lifecycle/internal/mailer"
)

// lastActivityLayout — формат даты последней активности в письме.
const lastActivityLayout = "2006-01-02"

// Dependencies — коллабораторы движка.
type Dependencies struct {
	Assembler *AccountAssembler
	Owners    *OwnerResolver
	Notifier  Notifier
	Actions   ActionExecutor
	Messages  MessageBuilder

	// Sender — адрес отправителя уведомлений
	Sender string
	// OverrideRecipient — все письма уходят на этот адрес (тестовые прогоны)
	OverrideRecipient string
	// Connectors проверяются до начала обработки; сбой фатален
	Connectors []Connector
	// Clock — источник текущего времени, по умолчанию time.Now
	Clock func() time.Time
}

// RunRequest — параметры одного запуска.
type RunRequest struct {
	Mode model.Mode
	// SearchBase — корень поиска в AD (Discovery)
	SearchBase string
	// Accounts — входной список (Reconciliation)
	Accounts        []model.InputAccount
	Thresholds      policy.Thresholds
	DeletionEnabled bool
	DryRun          bool
}

// RemediationService — движок запуска.
type RemediationService struct {
	deps   Dependencies
	now    func() time.Time
	logger *slog.Logger
}

// workItem — учётка в очереди обработки.
type workItem struct {
	// row — исходная строка (Reconciliation)
	row model.InputAccount
	// account — собранная учётка (Discovery)
	account model.WorkingAccount
}

// runState — состояние одного запуска, принадлежит только Run.
type runState struct {
	req    RunRequest
	now    time.Time
	logger *slog.Logger
}

// NewRemediationService создаёт движок.
func NewRemediationService(deps Dependencies, logger *slog.Logger) *RemediationService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &RemediationService{
		deps:   deps,
		now:    now,
		logger: logger.With(slog.String("component", "remediation")),
	}
}

// Run выполняет запуск и всегда возвращает итог. Ошибка запуска
// (подключение, получение списков, доставка письма, отмена context)
// отражается в RunOutput.Error, уже полученные результаты сохраняются.
func (s *RemediationService) Run(ctx context.Context, req RunRequest) *model.RunOutput {
	started := s.now()
	out := &model.RunOutput{
		RunID:     uuid.NewString(),
		Mode:      req.Mode,
		DryRun:    req.DryRun,
		StartedAt: started,
	}
	logger := s.logger.With(slog.String("run_id", out.RunID), slog.String("mode", string(req.Mode)))
	logger.Info("Запуск обработки неактивных учёток",
		slog.Int("warn_days", req.Thresholds.WarnDays),
		slog.Int("disable_days", req.Thresholds.DisableDays),
		slog.Int("delete_days", req.Thresholds.DeleteDays),
		slog.Bool("deletion_enabled", req.DeletionEnabled),
		slog.Bool("dry_run", req.DryRun),
	)

	records, unprocessed, fatal := s.run(ctx, req, started, logger)
	finalize(out, records, unprocessed, fatal, s.now())

	if fatal != nil {
		logger.Error("Запуск остановлен",
			slog.String("error", fatal.Error()),
			slog.Int("processed", len(records)),
			slog.Int("unprocessed", len(unprocessed)),
		)
	}
	logger.Info("Запуск завершён",
		slog.Bool("success", out.Success),
		slog.Int("total", out.Summary.Total),
		slog.Int("completed", out.Summary.Completed),
		slog.Int("skipped", out.Summary.Skipped),
		slog.Int("errors", out.Summary.Errors),
		slog.Int("retry", out.Summary.Retry),
		slog.Duration("duration", out.FinishedAt.Sub(started)),
	)
	return out
}

func (s *RemediationService) run(ctx context.Context, req RunRequest, now time.Time, logger *slog.Logger) ([]processed, []model.InputAccount, error) {
	// 1. Проверка параметров
	if !req.Mode.Valid() {
		return nil, nil, fmt.Errorf("неизвестный режим %q", req.Mode)
	}
	if err := req.Thresholds.Validate(); err != nil {
		return nil, nil, err
	}

	// 2. Подключение к каталогам
	for _, c := range s.deps.Connectors {
		if err := c.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
	}

	// 3. Сборка рабочего набора
	items, err := s.assemble(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Рабочий набор готов", slog.Int("accounts", len(items)))

	// 4. Последовательная обработка
	state := &runState{req: req, now: now, logger: logger}
	records := make([]processed, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return records, pendingInputs(items[i:]), fmt.Errorf("%w: %w", ErrRunCancelled, err)
		}
		rec, err := s.processSafely(ctx, state, item)
		if err != nil {
			return records, pendingInputs(items[i:]), err
		}
		logger.Info("Учётка обработана",
			slog.String("upn", rec.entry.UserPrincipalName),
			slog.String("status", string(rec.entry.Status)),
			slog.String("action", string(rec.entry.Action)),
			slog.String("skip_reason", string(rec.entry.SkipReason)),
		)
		records = append(records, rec)
	}
	return records, nil, nil
}

func (s *RemediationService) assemble(ctx context.Context, req RunRequest) ([]workItem, error) {
	switch req.Mode {
	case model.ModeDiscovery:
		accounts, err := s.deps.Assembler.Discover(ctx, req.SearchBase)
		if err != nil {
			return nil, err
		}
		items := make([]workItem, 0, len(accounts))
		for _, a := range accounts {
			items = append(items, workItem{row: model.InputFromWorking(a), account: a})
		}
		return items, nil
	default:
		rows := s.deps.Assembler.FilterRows(req.Accounts)
		items := make([]workItem, 0, len(rows))
		for _, r := range rows {
			items = append(items, workItem{row: r, account: r.Working()})
		}
		return items, nil
	}
}

// pendingInputs — необработанные учётки в формате входного контракта.
func pendingInputs(items []workItem) []model.InputAccount {
	rows := make([]model.InputAccount, 0, len(items))
	for _, it := range items {
		rows = append(rows, it.row)
	}
	return rows
}

// processSafely превращает панику в обработке одной учётки в ошибку этой учётки.
func (s *RemediationService) processSafely(ctx context.Context, state *runState, item workItem) (rec processed, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			state.logger.Error("Паника при обработке учётки",
				slog.String("upn", item.account.UserPrincipalName),
				slog.Any("panic", r),
			)
			rec = processed{
				entry:   failed(newEntry(item.account, s.now()), fmt.Sprintf("внутренняя ошибка: %v", r)),
				account: item.account,
			}
			fatal = nil
		}
	}()
	return s.process(ctx, state, item)
}

// process проводит учётку через конвейер. Ошибка — только фатальная для запуска.
func (s *RemediationService) process(ctx context.Context, state *runState, item workItem) (processed, error) {
	acct := item.account
	entry := newEntry(acct, s.now())

	if acct.UserPrincipalName == "" {
		return processed{entry: skipped(entry, model.SkipNoPrincipalName), account: acct}, nil
	}

	if state.req.Mode == model.ModeReconciliation {
		rec, err := s.deps.Assembler.Reconcile(ctx, item.row)
		if err != nil {
			if ctx.Err() != nil {
				return processed{}, fmt.Errorf("%w: %w", ErrRunCancelled, ctx.Err())
			}
			return processed{entry: failed(entry, err.Error()), account: acct}, nil
		}
		acct = rec.Account
		if rec.Skip != model.SkipNone {
			return processed{entry: skipped(entry, rec.Skip), account: acct}, nil
		}
	} else if !acct.Actionable() {
		return processed{entry: failed(entry, ErrNoIdentifier.Error()), account: acct}, nil
	}

	// База неактивности
	baseline := policy.InactivityBaseline(acct.LastLogon, acct.LastCloudSignIn, acct.Created)
	if baseline == nil {
		return processed{entry: failed(entry, ErrNoActivityBaseline.Error()), account: acct}, nil
	}
	days := policy.InactiveDays(state.now, *baseline)
	entry.InactiveDays = &days
	entry.LastActivity = baseline

	if days < state.req.Thresholds.WarnDays {
		return processed{entry: skipped(entry, model.SkipActivityDetected), account: acct}, nil
	}

	// Владелец
	res, err := s.deps.Owners.Resolve(ctx, OwnerQuery{
		SamAccountName:     acct.SamAccountName,
		PrincipalLocalPart: acct.LocalPart(),
		OwnerAttribute:     acct.OwnerAttribute,
		CloudObjectID:      acct.CloudObjectID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return processed{}, fmt.Errorf("%w: %w", ErrRunCancelled, ctx.Err())
		}
		return processed{entry: failed(entry, err.Error()), account: acct}, nil
	}
	switch res.Outcome {
	case OwnerUnresolved:
		return processed{entry: skipped(entry, model.SkipNoOwnerFound), account: acct}, nil
	case OwnerNoEmail:
		state.logger.Warn("Владелец найден, но без почтового адреса",
			slog.String("upn", acct.UserPrincipalName),
			slog.String("owner", res.Matched),
		)
		return processed{entry: skipped(entry, model.SkipNoEmailFound), account: acct}, nil
	}
	entry.NotificationRecipient = res.Owner.Address
	entry.OwnerStrategy = res.Owner.Strategy

	// Действие и стадия
	action, stage := policy.SelectAction(days, state.req.Thresholds, state.req.DeletionEnabled)
	entry.Action = action
	entry.Stage = stage

	msg, err := s.deps.Messages.Build(stage, acct.UserPrincipalName, baseline.UTC().Format(lastActivityLayout), days)
	if err != nil {
		return processed{entry: failed(entry, fmt.Sprintf("сборка письма: %v", err)), account: acct, ownerConfirmed: true}, nil
	}

	// Уведомление: сбой доставки фатален для всего запуска
	if !state.req.DryRun {
		to := res.Owner.Address
		if s.deps.OverrideRecipient != "" {
			to = s.deps.OverrideRecipient
		}
		err := s.deps.Notifier.Send(ctx, mailer.Notification{
			From:     s.deps.Sender,
			To:       to,
			Subject:  msg.Subject,
			HTMLBody: msg.HTMLBody,
		})
		if err != nil {
			return processed{}, fmt.Errorf("%w: %s: %w", ErrNotificationFailed, acct.UserPrincipalName, err)
		}
	}
	entry.NotificationSent = true

	// Отключение или удаление
	var result model.ActionResult
	switch action {
	case model.ActionDisable:
		if !acct.Enabled {
			state.logger.Debug("Учётка уже отключена", slog.String("upn", acct.UserPrincipalName))
			break
		}
		if state.req.DryRun {
			break
		}
		result = s.deps.Actions.Disable(ctx, acct)
		if !result.Success {
			return processed{entry: failed(entry, result.Message), account: acct, ownerConfirmed: true}, nil
		}
	case model.ActionDelete:
		if state.req.DryRun {
			break
		}
		result = s.deps.Actions.Delete(ctx, acct)
		if !result.Success {
			return processed{entry: failed(entry, result.Message), account: acct, ownerConfirmed: true}, nil
		}
	}

	return processed{entry: completed(entry), account: acct, ownerConfirmed: true}, nil
}
