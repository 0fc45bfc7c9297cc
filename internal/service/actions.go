// actions.go — отключение и удаление учёток в нужном каталоге.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// OnPremAccountManager — изменяющие операции локального каталога (ldapdir.Client).
type OnPremAccountManager interface {
	DisableAccount(ctx context.Context, samAccountName string) error
	DeleteAccount(ctx context.Context, samAccountName string) error
}

// CloudAccountManager — изменяющие операции облачного каталога (graph.Client).
type CloudAccountManager interface {
	DisableUser(ctx context.Context, objectID string) error
	DeleteUser(ctx context.Context, objectID string) error
}

// DirectoryActions направляет действие в локальный каталог, если у учётки есть
// sAMAccountName, иначе в облачный по object id. Ошибки возвращаются данными.
type DirectoryActions struct {
	onprem OnPremAccountManager
	cloud  CloudAccountManager
	logger *slog.Logger
}

// NewDirectoryActions создаёт исполнителя действий. cloud может быть nil.
func NewDirectoryActions(onprem OnPremAccountManager, cloud CloudAccountManager, logger *slog.Logger) *DirectoryActions {
	return &DirectoryActions{
		onprem: onprem,
		cloud:  cloud,
		logger: logger.With(slog.String("component", "directory_actions")),
	}
}

// Disable отключает учётку.
func (d *DirectoryActions) Disable(ctx context.Context, acct model.WorkingAccount) model.ActionResult {
	return d.apply(ctx, acct, "отключение",
		func(ctx context.Context, sam string) error { return d.onprem.DisableAccount(ctx, sam) },
		func(ctx context.Context, id string) error { return d.cloud.DisableUser(ctx, id) },
	)
}

// Delete удаляет учётку.
func (d *DirectoryActions) Delete(ctx context.Context, acct model.WorkingAccount) model.ActionResult {
	return d.apply(ctx, acct, "удаление",
		func(ctx context.Context, sam string) error { return d.onprem.DeleteAccount(ctx, sam) },
		func(ctx context.Context, id string) error { return d.cloud.DeleteUser(ctx, id) },
	)
}

func (d *DirectoryActions) apply(
	ctx context.Context,
	acct model.WorkingAccount,
	verb string,
	onprem func(context.Context, string) error,
	cloud func(context.Context, string) error,
) model.ActionResult {
	var (
		target string
		err    error
	)
	switch {
	case acct.SamAccountName != "":
		target = "AD " + acct.SamAccountName
		err = onprem(ctx, acct.SamAccountName)
	case acct.CloudObjectID != "" && d.cloud != nil:
		target = "Entra " + acct.CloudObjectID
		err = cloud(ctx, acct.CloudObjectID)
	case acct.CloudObjectID != "":
		err = ErrCloudUnavailable
	default:
		err = ErrNoIdentifier
	}

	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			err = fmt.Errorf("учётка исчезла до действия: %w", err)
		}
		d.logger.Warn("Действие над учёткой не выполнено",
			slog.String("upn", acct.UserPrincipalName),
			slog.String("action", verb),
			slog.String("error", err.Error()),
		)
		return model.ActionResult{Success: false, Message: fmt.Sprintf("%s %s: %v", verb, acct.UserPrincipalName, err)}
	}
	return model.ActionResult{Success: true, Message: fmt.Sprintf("%s выполнено: %s", verb, target)}
}
