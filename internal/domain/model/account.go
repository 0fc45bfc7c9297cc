// account.go — учётные записи каталогов и контракт входных данных.
package model

import (
	"strings"
	"time"
)

// WorkingAccount — одна привилегированная учётная запись, проверяемая в ходе запуска.
// Собирается один раз на запуск и после создания не изменяется.
type WorkingAccount struct {
	// UserPrincipalName — основной идентификатор (UPN), уникальный ключ
	UserPrincipalName string
	// SamAccountName — имя в локальном каталоге (пусто для облачных учёток)
	SamAccountName string
	// Enabled — учётная запись включена
	Enabled bool
	// LastLogon — последний вход в локальный каталог
	LastLogon *time.Time
	// LastCloudSignIn — последний вход в облачный каталог
	LastCloudSignIn *time.Time
	// Created — дата создания (крайний вариант базы неактивности)
	Created *time.Time
	// CloudObjectID — object id в облачном каталоге
	CloudObjectID string
	// OwnerAttribute — свободный атрибут вида "owner=jdoe;team=ops"
	OwnerAttribute string
	// Description — описание, передаётся без изменений
	Description string
}

// LocalPart возвращает часть UPN до символа '@'.
func (a WorkingAccount) LocalPart() string {
	local, _, _ := strings.Cut(a.UserPrincipalName, "@")
	return local
}

// Actionable сообщает, есть ли у учётки хотя бы один идентификатор для действий:
// SamAccountName либо CloudObjectID.
func (a WorkingAccount) Actionable() bool {
	return a.SamAccountName != "" || a.CloudObjectID != ""
}

// OnPremAccount — учётная запись локального каталога (Active Directory).
type OnPremAccount struct {
	// DN — distinguished name объекта
	DN string
	// SamAccountName — имя входа
	SamAccountName string
	// UserPrincipalName — UPN
	UserPrincipalName string
	// Enabled — флаг ACCOUNTDISABLE не установлен
	Enabled bool
	// LastLogon — lastLogonTimestamp
	LastLogon *time.Time
	// Created — whenCreated
	Created *time.Time
	// OwnerAttribute — значение настроенного атрибута владельца
	OwnerAttribute string
	// Mail — почтовый адрес
	Mail string
	// Description — описание
	Description string
}

// Working превращает запись локального каталога в WorkingAccount без облачных данных.
func (a OnPremAccount) Working() WorkingAccount {
	return WorkingAccount{
		UserPrincipalName: a.UserPrincipalName,
		SamAccountName:    a.SamAccountName,
		Enabled:           a.Enabled,
		LastLogon:         a.LastLogon,
		Created:           a.Created,
		OwnerAttribute:    a.OwnerAttribute,
		Description:       a.Description,
	}
}

// CloudAccount — учётная запись облачного каталога (Entra ID).
type CloudAccount struct {
	// ObjectID — object id
	ObjectID string
	// UserPrincipalName — UPN
	UserPrincipalName string
	// Enabled — accountEnabled
	Enabled bool
	// Synced — учётка синхронизирована из локального каталога
	Synced bool
	// LastSignIn — signInActivity.lastSignInDateTime
	LastSignIn *time.Time
	// Created — createdDateTime
	Created *time.Time
	// Mail — почтовый адрес
	Mail string
}

// Working превращает облачную учётку без локального двойника в WorkingAccount.
func (a CloudAccount) Working() WorkingAccount {
	return WorkingAccount{
		UserPrincipalName: a.UserPrincipalName,
		Enabled:           a.Enabled,
		LastCloudSignIn:   a.LastSignIn,
		Created:           a.Created,
		CloudObjectID:     a.ObjectID,
	}
}

// Sponsor — ответственное лицо облачной учётки.
type Sponsor struct {
	Mail              string
	UserPrincipalName string
}

// InputAccount — строка входного списка и списка повтора.
// Один и тот же формат принимается режимом сверки и выдаётся в retry.
type InputAccount struct {
	UserPrincipalName string     `json:"userPrincipalName"`
	SamAccountName    string     `json:"samAccountName,omitempty"`
	Enabled           *bool      `json:"enabled,omitempty"`
	LastLogonDate     *time.Time `json:"lastLogonDate,omitempty"`
	LastSignInDate    *time.Time `json:"lastSignInDate,omitempty"`
	Created           *time.Time `json:"created,omitempty"`
	ObjectID          string     `json:"objectId,omitempty"`
	OwnerAttribute    string     `json:"ownerAttribute,omitempty"`
	Description       string     `json:"description,omitempty"`
}

// Working возвращает снимок строки как WorkingAccount (до живой сверки).
func (in InputAccount) Working() WorkingAccount {
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	return WorkingAccount{
		UserPrincipalName: strings.TrimSpace(in.UserPrincipalName),
		SamAccountName:    strings.TrimSpace(in.SamAccountName),
		Enabled:           enabled,
		LastLogon:         in.LastLogonDate,
		LastCloudSignIn:   in.LastSignInDate,
		Created:           in.Created,
		CloudObjectID:     strings.TrimSpace(in.ObjectID),
		OwnerAttribute:    in.OwnerAttribute,
		Description:       in.Description,
	}
}

// InputFromWorking выражает учётку в формате входного контракта.
func InputFromWorking(a WorkingAccount) InputAccount {
	enabled := a.Enabled
	return InputAccount{
		UserPrincipalName: a.UserPrincipalName,
		SamAccountName:    a.SamAccountName,
		Enabled:           &enabled,
		LastLogonDate:     a.LastLogon,
		LastSignInDate:    a.LastCloudSignIn,
		Created:           a.Created,
		ObjectID:          a.CloudObjectID,
		OwnerAttribute:    a.OwnerAttribute,
		Description:       a.Description,
	}
}
