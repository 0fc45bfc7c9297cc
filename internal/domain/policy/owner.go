// owner.go — правила разбора идентификаторов владельца.
package policy

import (
	"strings"
)

// PrefixPolicy — префиксы привилегированных учёток и допустимые разделители.
type PrefixPolicy struct {
	// Prefixes — префиксы без учёта регистра (например "adm", "priv")
	Prefixes []string `yaml:"prefixes" validate:"required,min=1,dive,required"`
	// Separators — символы, один из которых следует за префиксом
	Separators string `yaml:"separators"`
}

// Matches сообщает, начинается ли идентификатор с одного из префиксов.
func (p PrefixPolicy) Matches(identifier string) bool {
	lower := strings.ToLower(strings.TrimSpace(identifier))
	if lower == "" {
		return false
	}
	for _, prefix := range p.Prefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// Strip снимает префикс и разделитель и возвращает базовую учётку владельца.
// "adm-jdoe" → "jdoe". Без разделителя после префикса ("admin") совпадения нет,
// если только сам префикс не оканчивается разделителем.
func (p PrefixPolicy) Strip(identifier string) (string, bool) {
	id := strings.TrimSpace(identifier)
	for _, prefix := range p.Prefixes {
		if prefix == "" || len(id) < len(prefix) || !strings.EqualFold(id[:len(prefix)], prefix) {
			continue
		}
		rest := id[len(prefix):]
		if !strings.ContainsAny(prefix[len(prefix)-1:], p.Separators) {
			if rest == "" || !strings.ContainsAny(rest[:1], p.Separators) {
				continue
			}
			rest = rest[1:]
		}
		if rest != "" {
			return rest, true
		}
	}
	return "", false
}

// OwnerAttributePolicy — формат свободного атрибута с владельцем.
// Это соглашение организации, а не схема, поэтому всё настраивается.
type OwnerAttributePolicy struct {
	// PairDelimiter — разделитель пар (по умолчанию ";")
	PairDelimiter string `yaml:"pair_delimiter" validate:"required"`
	// KeyValueSeparator — разделитель ключа и значения (по умолчанию "=")
	KeyValueSeparator string `yaml:"kv_separator" validate:"required"`
	// Key — ключ с владельцем (по умолчанию "owner")
	Key string `yaml:"key" validate:"required"`
	// CaseSensitiveKey — сравнивать ключ с учётом регистра
	CaseSensitiveKey bool `yaml:"case_sensitive_key"`
}

// DefaultOwnerAttributePolicy возвращает разбор "owner=jdoe;team=ops".
func DefaultOwnerAttributePolicy() OwnerAttributePolicy {
	return OwnerAttributePolicy{
		PairDelimiter:     ";",
		KeyValueSeparator: "=",
		Key:               "owner",
		CaseSensitiveKey:  true,
	}
}

// Extract возвращает значение ключа владельца из атрибута.
// Берётся первая пара с совпавшим ключом и непустым значением.
func (p OwnerAttributePolicy) Extract(attr string) (string, bool) {
	if strings.TrimSpace(attr) == "" || p.PairDelimiter == "" || p.KeyValueSeparator == "" {
		return "", false
	}
	for _, pair := range strings.Split(attr, p.PairDelimiter) {
		key, value, ok := strings.Cut(pair, p.KeyValueSeparator)
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		match := key == p.Key
		if !p.CaseSensitiveKey {
			match = strings.EqualFold(key, p.Key)
		}
		if !match {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, true
		}
	}
	return "", false
}
