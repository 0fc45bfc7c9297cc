// owner.go — цепочка поиска владельца привилегированной учётки.
//
// Стратегии в строгом порядке, первая успешная побеждает:
//  1. PrefixStrip — снять префикс с sAMAccountName (или локальной части UPN)
//     и найти базовую учётку в AD
//  2. ExtensionAttribute — взять ключ owner из свободного атрибута и найти его в AD
//  3. Sponsor — первый спонсор облачной учётки (только при наличии object id)
//
// Найденная в 1–2 учётка без почты — отдельный исход NoEmail, к спонсору не переходим.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
	"github.com/ethorneloe/identity-lifecycle/internal/domain/policy"
)

// OwnerOutcome — исход поиска владельца.
type OwnerOutcome int

const (
	// OwnerUnresolved — ни одна стратегия не нашла владельца.
	OwnerUnresolved OwnerOutcome = iota
	// OwnerResolved — владелец найден, адрес есть.
	OwnerResolved
	// OwnerNoEmail — владелец найден в AD, но без почтового адреса.
	OwnerNoEmail
)

// OwnerQuery — данные учётки для поиска владельца.
type OwnerQuery struct {
	SamAccountName     string
	PrincipalLocalPart string
	OwnerAttribute     string
	CloudObjectID      string
}

// OwnerResolution — результат поиска. Owner заполнен только при OwnerResolved.
type OwnerResolution struct {
	Outcome OwnerOutcome
	Owner   model.ResolvedOwner
	// Matched — учётка, найденная без адреса (для OwnerNoEmail)
	Matched string
}

// OwnerResolver ищет владельца по цепочке стратегий.
type OwnerResolver struct {
	onprem   OnPremDirectory
	cloud    CloudDirectory
	prefixes policy.PrefixPolicy
	attr     policy.OwnerAttributePolicy
	logger   *slog.Logger
}

// NewOwnerResolver создаёт цепочку поиска владельца. cloud может быть nil.
func NewOwnerResolver(
	onprem OnPremDirectory,
	cloud CloudDirectory,
	prefixes policy.PrefixPolicy,
	attr policy.OwnerAttributePolicy,
	logger *slog.Logger,
) *OwnerResolver {
	return &OwnerResolver{
		onprem:   onprem,
		cloud:    cloud,
		prefixes: prefixes,
		attr:     attr,
		logger:   logger.With(slog.String("component", "owner_resolver")),
	}
}

// Resolve проходит стратегии по порядку. Ошибка — сбой обращения к каталогу
// (не «не найдено»); вызывающий код превращает её в ошибку учётки.
func (r *OwnerResolver) Resolve(ctx context.Context, q OwnerQuery) (OwnerResolution, error) {
	// 1. Снятие префикса
	source := q.SamAccountName
	if source == "" {
		source = q.PrincipalLocalPart
	}
	if candidate, ok := r.prefixes.Strip(source); ok {
		res, found, err := r.lookupOnPrem(ctx, candidate, model.OwnerPrefixStrip)
		if err != nil {
			return OwnerResolution{}, err
		}
		if found {
			return res, nil
		}
	}

	// 2. Атрибут владельца
	if candidate, ok := r.attr.Extract(q.OwnerAttribute); ok {
		res, found, err := r.lookupOnPrem(ctx, candidate, model.OwnerExtensionAttribute)
		if err != nil {
			return OwnerResolution{}, err
		}
		if found {
			return res, nil
		}
	}

	// 3. Спонсор облачной учётки
	if q.CloudObjectID != "" && r.cloud != nil {
		sponsors, err := r.cloud.ListSponsors(ctx, q.CloudObjectID)
		if err != nil && !errors.Is(err, model.ErrAccountNotFound) {
			return OwnerResolution{}, fmt.Errorf("спонсоры %s: %w", q.CloudObjectID, err)
		}
		if len(sponsors) > 0 {
			first := sponsors[0]
			address := strings.TrimSpace(first.Mail)
			if address == "" {
				address = strings.TrimSpace(first.UserPrincipalName)
			}
			if address != "" {
				return OwnerResolution{
					Outcome: OwnerResolved,
					Owner: model.ResolvedOwner{
						Address:  address,
						Strategy: model.OwnerSponsor,
						Identity: first.UserPrincipalName,
					},
				}, nil
			}
		}
	}

	return OwnerResolution{Outcome: OwnerUnresolved}, nil
}

// lookupOnPrem проверяет кандидата в AD. found=false — кандидата нет, идём дальше.
func (r *OwnerResolver) lookupOnPrem(ctx context.Context, candidate string, strategy model.OwnerStrategy) (OwnerResolution, bool, error) {
	acct, err := r.onprem.LookupAccount(ctx, candidate)
	if errors.Is(err, model.ErrAccountNotFound) {
		r.logger.Debug("Кандидат во владельцы не найден",
			slog.String("candidate", candidate),
			slog.String("strategy", string(strategy)),
		)
		return OwnerResolution{}, false, nil
	}
	if err != nil {
		return OwnerResolution{}, false, fmt.Errorf("поиск владельца %s: %w", candidate, err)
	}

	identity := acct.SamAccountName
	if identity == "" {
		identity = candidate
	}
	if acct.Mail == "" {
		return OwnerResolution{Outcome: OwnerNoEmail, Matched: identity}, true, nil
	}
	return OwnerResolution{
		Outcome: OwnerResolved,
		Owner:   model.ResolvedOwner{Address: acct.Mail, Strategy: strategy, Identity: identity},
	}, true, nil
}
