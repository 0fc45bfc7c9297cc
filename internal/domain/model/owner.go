package model

// OwnerStrategy — способ, которым найден владелец.
type OwnerStrategy string

const (
	OwnerPrefixStrip        OwnerStrategy = "PrefixStrip"
	OwnerExtensionAttribute OwnerStrategy = "ExtensionAttribute"
	OwnerSponsor            OwnerStrategy = "Sponsor"
)

// Valid проверяет, что значение из закрытого набора.
func (s OwnerStrategy) Valid() bool {
	switch s {
	case OwnerPrefixStrip, OwnerExtensionAttribute, OwnerSponsor:
		return true
	}
	return false
}

// ResolvedOwner — владелец, которому уходит уведомление.
type ResolvedOwner struct {
	// Address — почтовый адрес получателя
	Address string
	// Strategy — сработавшая стратегия
	Strategy OwnerStrategy
	// Identity — сопоставленная учётка (sAMAccountName или UPN спонсора)
	Identity string
}
