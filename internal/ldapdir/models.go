// Пакет ldapdir — клиент Active Directory поверх LDAP.
// models.go — атрибуты AD и преобразование их значений.
package ldapdir

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// Атрибуты учётной записи AD.
const (
	attrSamAccountName     = "sAMAccountName"
	attrUserPrincipalName  = "userPrincipalName"
	attrUserAccountControl = "userAccountControl"
	attrLastLogonTimestamp = "lastLogonTimestamp"
	attrWhenCreated        = "whenCreated"
	attrMail               = "mail"
	attrDescription        = "description"
)

// uacAccountDisable — бит ACCOUNTDISABLE в userAccountControl.
const uacAccountDisable = 0x2

// fileTimeEpochDiff — интервалы по 100 нс между 1601-01-01 и 1970-01-01.
const fileTimeEpochDiff = 116444736000000000

// parseFileTime разбирает Windows FILETIME (lastLogonTimestamp).
// Ноль и максимальное значение означают «никогда».
func parseFileTime(s string) *time.Time {
	ft, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ft <= fileTimeEpochDiff || ft == 1<<63-1 {
		return nil
	}
	delta := ft - fileTimeEpochDiff
	t := time.Unix(delta/10_000_000, (delta%10_000_000)*100).UTC()
	return &t
}

// parseGeneralizedTime разбирает GeneralizedTime AD ("20240102150405.0Z").
func parseGeneralizedTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) < 14 {
		return nil
	}
	t, err := time.ParseInLocation("20060102150405", s[:14], time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// parseUAC возвращает значение userAccountControl (0, если атрибута нет).
func parseUAC(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// entryToAccount превращает LDAP-запись в доменную учётку.
func entryToAccount(e *ldap.Entry, ownerAttr string) model.OnPremAccount {
	acct := model.OnPremAccount{
		DN:                e.DN,
		SamAccountName:    e.GetAttributeValue(attrSamAccountName),
		UserPrincipalName: e.GetAttributeValue(attrUserPrincipalName),
		Enabled:           parseUAC(e.GetAttributeValue(attrUserAccountControl))&uacAccountDisable == 0,
		LastLogon:         parseFileTime(e.GetAttributeValue(attrLastLogonTimestamp)),
		Created:           parseGeneralizedTime(e.GetAttributeValue(attrWhenCreated)),
		Mail:              strings.TrimSpace(e.GetAttributeValue(attrMail)),
		Description:       e.GetAttributeValue(attrDescription),
	}
	if ownerAttr != "" {
		acct.OwnerAttribute = e.GetAttributeValue(ownerAttr)
	}
	return acct
}

// userFilter оборачивает условие в фильтр пользовательских объектов.
func userFilter(cond string) string {
	return "(&(objectCategory=person)(objectClass=user)" + cond + ")"
}

// prefixFilter строит фильтр по префиксам sAMAccountName.
func prefixFilter(prefixes []string) string {
	var b strings.Builder
	b.WriteString("(|")
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		b.WriteString("(" + attrSamAccountName + "=" + ldap.EscapeFilter(p) + "*)")
	}
	b.WriteString(")")
	return userFilter(b.String())
}

// identityFilter строит фильтр по sAMAccountName или UPN.
func identityFilter(identifier string) string {
	id := ldap.EscapeFilter(identifier)
	return userFilter("(|(" + attrSamAccountName + "=" + id + ")(" + attrUserPrincipalName + "=" + id + "))")
}
