package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

func ptr(t time.Time) *time.Time { return &t }

func TestSelectAction_Boundaries(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name     string
		days     int
		deletion bool
		action   model.Action
		stage    model.Stage
	}{
		{"ниже предупреждения", 89, false, model.ActionNone, model.StageNone},
		{"ровно предупреждение", 90, false, model.ActionNotify, model.StageWarning},
		{"перед отключением", 119, false, model.ActionNotify, model.StageWarning},
		{"ровно отключение", 120, false, model.ActionDisable, model.StageDisabled},
		{"перед удалением", 179, true, model.ActionDisable, model.StageDisabled},
		{"ровно удаление, удаление включено", 180, true, model.ActionDelete, model.StageDeletion},
		{"ровно удаление, удаление выключено", 180, false, model.ActionDisable, model.StageDeletion},
		{"далеко за удалением", 1000, true, model.ActionDelete, model.StageDeletion},
		{"ноль дней", 0, true, model.ActionNone, model.StageNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, stage := SelectAction(tt.days, th, tt.deletion)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.stage, stage)
		})
	}
}

func TestSelectAction_ZeroThresholds(t *testing.T) {
	action, stage := SelectAction(0, Thresholds{}, false)
	assert.Equal(t, model.ActionDisable, action)
	assert.Equal(t, model.StageDeletion, stage)
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
	require.NoError(t, Thresholds{}.Validate())

	err := Thresholds{WarnDays: -1, DisableDays: 10, DeleteDays: 20}.Validate()
	require.ErrorIs(t, err, ErrInvalidThresholds)
}

func TestLatestActivity(t *testing.T) {
	older := time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	assert.Nil(t, LatestActivity())
	assert.Nil(t, LatestActivity(nil, nil))
	assert.Equal(t, newer, *LatestActivity(ptr(older), ptr(newer)))
	assert.Equal(t, newer, *LatestActivity(ptr(newer), nil, ptr(older)))
	assert.Equal(t, older, *LatestActivity(nil, ptr(older)))

	// Нулевое время считается отсутствием значения
	assert.Nil(t, LatestActivity(ptr(time.Time{})))
}

func TestLatestActivity_SameDayKeepsFirst(t *testing.T) {
	morning := time.Date(2026, 2, 2, 6, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 2, 2, 21, 0, 0, 0, time.UTC)

	assert.Equal(t, morning, *LatestActivity(ptr(morning), ptr(evening)))
}

func TestInactivityBaseline(t *testing.T) {
	logon := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signIn := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	// Побеждает самый поздний вход, а не первый непустой
	assert.Equal(t, signIn, *InactivityBaseline(ptr(logon), ptr(signIn), ptr(created)))
	assert.Equal(t, logon, *InactivityBaseline(ptr(logon), nil, ptr(created)))

	// Дата создания — только когда обоих входов нет, даже если она позже
	later := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, logon, *InactivityBaseline(ptr(logon), nil, ptr(later)))
	assert.Equal(t, created, *InactivityBaseline(nil, nil, ptr(created)))

	assert.Nil(t, InactivityBaseline(nil, nil, nil))
}

func TestInactiveDays(t *testing.T) {
	now := time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, InactiveDays(now, now))
	// Календарные дни: вчера 23:59 — уже один день
	assert.Equal(t, 1, InactiveDays(now, time.Date(2026, 10, 13, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, 120, InactiveDays(now, now.AddDate(0, 0, -120)))
	// База в будущем не даёт отрицательных значений
	assert.Equal(t, 0, InactiveDays(now, now.AddDate(0, 0, 5)))
}
