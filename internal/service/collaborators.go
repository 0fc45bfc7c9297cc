// collaborators.go — возможности внешних систем, которые использует движок.
package service

import (
	"context"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
	"github.com/ethorneloe/identity-lifecycle/internal/mailer"
)

// OnPremDirectory — чтение локального каталога (ldapdir.Client).
type OnPremDirectory interface {
	ListAccounts(ctx context.Context, prefixes []string, searchBase string) ([]model.OnPremAccount, error)
	// LookupAccount ищет по sAMAccountName или UPN; отсутствие — model.ErrAccountNotFound.
	LookupAccount(ctx context.Context, identifier string) (model.OnPremAccount, error)
}

// CloudDirectory — чтение облачного каталога (graph.Client).
type CloudDirectory interface {
	ListUsers(ctx context.Context, prefixes []string) ([]model.CloudAccount, error)
	// GetUser возвращает учётку; отсутствие — model.ErrAccountNotFound.
	GetUser(ctx context.Context, objectID string) (model.CloudAccount, error)
	// ListSponsors возвращает спонсоров; пустой срез, если их нет.
	ListSponsors(ctx context.Context, objectID string) ([]model.Sponsor, error)
}

// Notifier доставляет письма. Любая ошибка останавливает запуск.
type Notifier interface {
	Send(ctx context.Context, n mailer.Notification) error
}

// MessageBuilder собирает письмо для стадии (message.Builder).
type MessageBuilder interface {
	Build(stage model.Stage, principalName, lastActivity string, inactiveDays int) (model.Message, error)
}

// ActionExecutor отключает и удаляет учётки. Сбой возвращается данными, не ошибкой.
type ActionExecutor interface {
	Disable(ctx context.Context, acct model.WorkingAccount) model.ActionResult
	Delete(ctx context.Context, acct model.WorkingAccount) model.ActionResult
}

// Connector — коллаборатор, которому нужно соединение до начала работы.
type Connector interface {
	Connect(ctx context.Context) error
}
