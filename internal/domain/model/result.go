// result.go — результаты обработки учёток и итог запуска.
package model

import "time"

// Status — итог обработки одной учётки.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusSkipped   Status = "Skipped"
	StatusError     Status = "Error"
)

// Valid проверяет, что значение из закрытого набора.
func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusError:
		return true
	}
	return false
}

// Action — выполненное над учёткой действие.
type Action string

const (
	ActionNone    Action = "None"
	ActionNotify  Action = "Notify"
	ActionDisable Action = "Disable"
	ActionDelete  Action = "Delete"
)

// Valid проверяет, что значение из закрытого набора.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionNotify, ActionDisable, ActionDelete:
		return true
	}
	return false
}

// Stage — стадия уведомления владельца. Пустое значение — уведомления нет.
type Stage string

const (
	StageNone     Stage = ""
	StageWarning  Stage = "Warning"
	StageDisabled Stage = "Disabled"
	StageDeletion Stage = "Deletion"
)

// Valid проверяет, что значение из закрытого набора.
func (s Stage) Valid() bool {
	switch s {
	case StageNone, StageWarning, StageDisabled, StageDeletion:
		return true
	}
	return false
}

// SkipReason — причина пропуска. Пропуск — это решение, а не сбой,
// поэтому пропущенные учётки никогда не попадают в список повтора.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipNoPrincipalName  SkipReason = "NoPrincipalName"
	SkipActivityDetected SkipReason = "ActivityDetected"
	SkipAlreadyActioned  SkipReason = "AlreadyActioned"
	SkipNoOwnerFound     SkipReason = "NoOwnerFound"
	SkipNoEmailFound     SkipReason = "NoEmailFound"
)

// Valid проверяет, что значение из закрытого набора.
func (r SkipReason) Valid() bool {
	switch r {
	case SkipNone, SkipNoPrincipalName, SkipActivityDetected, SkipAlreadyActioned,
		SkipNoOwnerFound, SkipNoEmailFound:
		return true
	}
	return false
}

// Mode — способ сборки рабочего набора.
type Mode string

const (
	ModeDiscovery      Mode = "Discovery"
	ModeReconciliation Mode = "Reconciliation"
)

// Valid проверяет, что значение из закрытого набора.
func (m Mode) Valid() bool {
	return m == ModeDiscovery || m == ModeReconciliation
}

// ResultEntry — запись об исходе обработки одной учётки.
// Ровно один статус; SkipReason заполнен только для Skipped, ErrorDetail — только для Error.
type ResultEntry struct {
	UserPrincipalName     string        `json:"userPrincipalName"`
	SamAccountName        string        `json:"samAccountName,omitempty"`
	InactiveDays          *int          `json:"inactiveDays,omitempty"`
	LastActivity          *time.Time    `json:"lastActivity,omitempty"`
	Action                Action        `json:"action"`
	Stage                 Stage         `json:"notificationStage,omitempty"`
	NotificationSent      bool          `json:"notificationSent"`
	NotificationRecipient string        `json:"notificationRecipient,omitempty"`
	OwnerStrategy         OwnerStrategy `json:"ownerStrategy,omitempty"`
	Status                Status        `json:"status"`
	SkipReason            SkipReason    `json:"skipReason,omitempty"`
	ErrorDetail           string        `json:"errorDetail,omitempty"`
	ProcessedAt           time.Time     `json:"processedAt"`
}

// Summary — счётчики итога, вычисляются только при финализации по списку записей.
type Summary struct {
	Total             int                `json:"total"`
	Completed         int                `json:"completed"`
	Skipped           int                `json:"skipped"`
	Errors            int                `json:"errors"`
	NotificationsSent int                `json:"notificationsSent"`
	Warned            int                `json:"warned"`
	Disabled          int                `json:"disabled"`
	Deleted           int                `json:"deleted"`
	SkipReasons       map[SkipReason]int `json:"skipReasons,omitempty"`
	Unprocessed       int                `json:"unprocessed"`
	Retry             int                `json:"retry"`
}

// RunOutput — итог запуска. Возвращается всегда, даже при аварийной остановке.
type RunOutput struct {
	RunID      string         `json:"runId"`
	Mode       Mode           `json:"mode"`
	DryRun     bool           `json:"dryRun"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Summary    Summary        `json:"summary"`
	Results    []ResultEntry  `json:"results"`
	Retry      []InputAccount `json:"retry"`

	// Unprocessed — учётки, до которых цикл не дошёл (подмножество Retry)
	Unprocessed []InputAccount `json:"unprocessed"`
}

// Message — готовое письмо владельцу.
type Message struct {
	Subject  string
	HTMLBody string
}

// ActionResult — результат отключения или удаления. Сбой возвращается данными.
type ActionResult struct {
	Success bool
	Message string
}
