// Пакет policy — чистые правила жизненного цикла: база неактивности,
// подсчёт дней и выбор действия по абсолютным порогам.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// ErrInvalidThresholds — отрицательный порог.
var ErrInvalidThresholds = errors.New("некорректные пороги неактивности")

// Thresholds — пороги неактивности в днях (включительно).
type Thresholds struct {
	WarnDays    int `yaml:"warn_days" validate:"gte=0"`
	DisableDays int `yaml:"disable_days" validate:"gte=0"`
	DeleteDays  int `yaml:"delete_days" validate:"gte=0"`
}

// DefaultThresholds возвращает пороги по умолчанию: 90/120/180.
func DefaultThresholds() Thresholds {
	return Thresholds{WarnDays: 90, DisableDays: 120, DeleteDays: 180}
}

// Validate проверяет, что все пороги неотрицательны.
func (t Thresholds) Validate() error {
	if t.WarnDays < 0 || t.DisableDays < 0 || t.DeleteDays < 0 {
		return fmt.Errorf("%w: warn=%d disable=%d delete=%d",
			ErrInvalidThresholds, t.WarnDays, t.DisableDays, t.DeleteDays)
	}
	return nil
}

// LatestActivity возвращает самую позднюю из непустых меток времени.
// Сравнение по календарной дате в UTC; при равных датах побеждает первая.
// Если все метки пусты — nil.
func LatestActivity(candidates ...*time.Time) *time.Time {
	var latest *time.Time
	for _, c := range candidates {
		if c == nil || c.IsZero() {
			continue
		}
		if latest == nil || calendarDate(*c).After(calendarDate(*latest)) {
			latest = c
		}
	}
	return latest
}

// InactivityBaseline выбирает базу для подсчёта неактивности:
// самый поздний из входов (локальный, облачный), иначе дата создания.
func InactivityBaseline(lastLogon, lastCloudSignIn, created *time.Time) *time.Time {
	if latest := LatestActivity(lastLogon, lastCloudSignIn); latest != nil {
		return latest
	}
	return LatestActivity(created)
}

// InactiveDays возвращает количество целых календарных дней между baseline и now.
// База в будущем даёт 0.
func InactiveDays(now, baseline time.Time) int {
	days := int(calendarDate(now).Sub(calendarDate(baseline)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// SelectAction сопоставляет дни неактивности с действием и стадией уведомления.
// Пороги проверяются от старшего к младшему, границы включительные.
// При выключенном удалении порог удаления понижается до отключения со стадией Deletion.
// Ниже порога предупреждения — ActionNone; пропуск решает вызывающий код.
func SelectAction(inactiveDays int, t Thresholds, deletionEnabled bool) (model.Action, model.Stage) {
	switch {
	case inactiveDays >= t.DeleteDays:
		if deletionEnabled {
			return model.ActionDelete, model.StageDeletion
		}
		return model.ActionDisable, model.StageDeletion
	case inactiveDays >= t.DisableDays:
		return model.ActionDisable, model.StageDisabled
	case inactiveDays >= t.WarnDays:
		return model.ActionNotify, model.StageWarning
	default:
		return model.ActionNone, model.StageNone
	}
}

// calendarDate отбрасывает время суток (UTC).
func calendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
