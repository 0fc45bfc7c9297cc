// assembler.go — сборка рабочего набора учёток.
//
// Discovery: оба каталога опрашиваются параллельно, синхронизированные облачные
// учётки присоединяются к локальным по UPN без учёта регистра, облачные
// несинхронизированные добавляются отдельно.
//
// Reconciliation: строки вызывающего проходят фильтр префиксов и живую сверку
// с каталогами перед обработкой.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
	"github.com/ethorneloe/identity-lifecycle/internal/domain/policy"
)

// Reconciled — итог живой сверки строки. Skip заполнен, если обработка не нужна.
type Reconciled struct {
	Account model.WorkingAccount
	Skip    model.SkipReason
}

// AccountAssembler собирает рабочий набор.
type AccountAssembler struct {
	onprem   OnPremDirectory
	cloud    CloudDirectory
	prefixes policy.PrefixPolicy
	logger   *slog.Logger
}

// NewAccountAssembler создаёт сборщик. cloud может быть nil.
func NewAccountAssembler(onprem OnPremDirectory, cloud CloudDirectory, prefixes policy.PrefixPolicy, logger *slog.Logger) *AccountAssembler {
	return &AccountAssembler{
		onprem:   onprem,
		cloud:    cloud,
		prefixes: prefixes,
		logger:   logger.With(slog.String("component", "assembler")),
	}
}

// Discover опрашивает оба каталога и объединяет синхронизированные учётки.
// Ошибка любого из каталогов фатальна для запуска.
func (a *AccountAssembler) Discover(ctx context.Context, searchBase string) ([]model.WorkingAccount, error) {
	var (
		onprem []model.OnPremAccount
		cloud  []model.CloudAccount
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		onprem, err = a.onprem.ListAccounts(gctx, a.prefixes.Prefixes, searchBase)
		if err != nil {
			return fmt.Errorf("%w: локальный каталог: %w", ErrDirectoryListing, err)
		}
		return nil
	})
	if a.cloud != nil {
		g.Go(func() error {
			var err error
			cloud, err = a.cloud.ListUsers(gctx, a.prefixes.Prefixes)
			if err != nil {
				return fmt.Errorf("%w: облачный каталог: %w", ErrDirectoryListing, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Синхронизированные облачные учётки по UPN в нижнем регистре
	synced := make(map[string]model.CloudAccount)
	for _, c := range cloud {
		if c.Synced && c.UserPrincipalName != "" {
			synced[strings.ToLower(c.UserPrincipalName)] = c
		}
	}

	result := make([]model.WorkingAccount, 0, len(onprem)+len(cloud))
	matched := 0
	for _, op := range onprem {
		w := op.Working()
		if c, ok := synced[strings.ToLower(op.UserPrincipalName)]; ok && op.UserPrincipalName != "" {
			w.LastCloudSignIn = c.LastSignIn
			w.CloudObjectID = c.ObjectID
			matched++
		}
		result = append(result, w)
	}

	cloudOnly := 0
	for _, c := range cloud {
		if c.Synced {
			continue
		}
		result = append(result, c.Working())
		cloudOnly++
	}

	a.logger.Info("Рабочий набор собран из каталогов",
		slog.Int("onprem", len(onprem)),
		slog.Int("cloud", len(cloud)),
		slog.Int("synced_matched", matched),
		slog.Int("cloud_only", cloudOnly),
	)
	return result, nil
}

// FilterRows отбрасывает строки, не подходящие ни под один префикс.
// Строки с пустым UPN сохраняются: движок фиксирует их как пропуск.
func (a *AccountAssembler) FilterRows(rows []model.InputAccount) []model.InputAccount {
	kept := make([]model.InputAccount, 0, len(rows))
	for _, row := range rows {
		upn := strings.TrimSpace(row.UserPrincipalName)
		if upn == "" || a.prefixes.Matches(upn) || a.prefixes.Matches(row.SamAccountName) {
			kept = append(kept, row)
			continue
		}
		a.logger.Debug("Строка не подходит под префиксы, отброшена", slog.String("upn", upn))
	}
	return kept
}

// Reconcile сверяет строку снимка с каталогами.
// Ошибка — сбой обращения к каталогу либо отсутствие идентификаторов.
func (a *AccountAssembler) Reconcile(ctx context.Context, row model.InputAccount) (Reconciled, error) {
	snap := row.Working()
	if !snap.Actionable() {
		return Reconciled{}, ErrNoIdentifier
	}
	live := snap

	if snap.SamAccountName != "" {
		op, err := a.onprem.LookupAccount(ctx, snap.SamAccountName)
		if errors.Is(err, model.ErrAccountNotFound) {
			return Reconciled{Account: snap, Skip: model.SkipAlreadyActioned}, nil
		}
		if err != nil {
			return Reconciled{}, fmt.Errorf("живая сверка %s: %w", snap.SamAccountName, err)
		}
		live.Enabled = op.Enabled
		live.LastLogon = op.LastLogon
		live.OwnerAttribute = op.OwnerAttribute
		if op.Created != nil {
			live.Created = op.Created
		}

		if snap.CloudObjectID != "" && a.cloud != nil {
			ca, err := a.cloud.GetUser(ctx, snap.CloudObjectID)
			switch {
			case errors.Is(err, model.ErrAccountNotFound):
				a.logger.Warn("Облачный двойник не найден, облачный вход из снимка",
					slog.String("upn", snap.UserPrincipalName),
					slog.String("object_id", snap.CloudObjectID),
				)
			case err != nil:
				return Reconciled{}, fmt.Errorf("живая сверка %s: %w", snap.CloudObjectID, err)
			default:
				live.LastCloudSignIn = ca.LastSignIn
			}
		}
	} else {
		if a.cloud == nil {
			return Reconciled{}, fmt.Errorf("живая сверка %s: %w", snap.CloudObjectID, ErrCloudUnavailable)
		}
		ca, err := a.cloud.GetUser(ctx, snap.CloudObjectID)
		if errors.Is(err, model.ErrAccountNotFound) {
			return Reconciled{Account: snap, Skip: model.SkipAlreadyActioned}, nil
		}
		if err != nil {
			return Reconciled{}, fmt.Errorf("живая сверка %s: %w", snap.CloudObjectID, err)
		}
		live.Enabled = ca.Enabled
		live.LastCloudSignIn = ca.LastSignIn
		if ca.Created != nil {
			live.Created = ca.Created
		}
	}

	// Снимок считал учётку включённой, а она уже отключена
	if !live.Enabled && row.Enabled != nil && *row.Enabled {
		return Reconciled{Account: live, Skip: model.SkipAlreadyActioned}, nil
	}
	return Reconciled{Account: live}, nil
}
