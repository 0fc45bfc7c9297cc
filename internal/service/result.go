// result.go — записи результатов и финализация запуска.
package service

import (
	"time"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// processed — запись результата с данными, нужными только финализации.
type processed struct {
	entry   model.ResultEntry
	account model.WorkingAccount
	// ownerConfirmed — владелец найден; только такие ошибки попадают в повтор
	ownerConfirmed bool
}

// newEntry создаёт запись со значениями по умолчанию: действия нет, статус не задан.
func newEntry(acct model.WorkingAccount, processedAt time.Time) model.ResultEntry {
	return model.ResultEntry{
		UserPrincipalName: acct.UserPrincipalName,
		SamAccountName:    acct.SamAccountName,
		Action:            model.ActionNone,
		Stage:             model.StageNone,
		ProcessedAt:       processedAt,
	}
}

func skipped(e model.ResultEntry, reason model.SkipReason) model.ResultEntry {
	e.Status = model.StatusSkipped
	e.SkipReason = reason
	e.ErrorDetail = ""
	return e
}

func failed(e model.ResultEntry, detail string) model.ResultEntry {
	e.Status = model.StatusError
	e.ErrorDetail = detail
	e.SkipReason = model.SkipNone
	return e
}

func completed(e model.ResultEntry) model.ResultEntry {
	e.Status = model.StatusCompleted
	e.SkipReason = model.SkipNone
	e.ErrorDetail = ""
	return e
}

// buildRetry собирает список повтора: ошибки после подтверждения владельца
// и учётки, до которых цикл не дошёл. Пропуски не повторяются никогда.
func buildRetry(records []processed, unprocessed []model.InputAccount) []model.InputAccount {
	retry := make([]model.InputAccount, 0, len(unprocessed))
	for _, r := range records {
		if r.entry.Status == model.StatusError && r.ownerConfirmed {
			retry = append(retry, model.InputFromWorking(r.account))
		}
	}
	return append(retry, unprocessed...)
}

// buildSummary считает итоги только по списку записей.
func buildSummary(results []model.ResultEntry, unprocessed, retry int) model.Summary {
	s := model.Summary{
		Total:       len(results),
		SkipReasons: make(map[model.SkipReason]int),
		Unprocessed: unprocessed,
		Retry:       retry,
	}
	for _, e := range results {
		if e.NotificationSent {
			s.NotificationsSent++
		}
		switch e.Status {
		case model.StatusCompleted:
			s.Completed++
			switch e.Action {
			case model.ActionNotify:
				s.Warned++
			case model.ActionDisable:
				s.Disabled++
			case model.ActionDelete:
				s.Deleted++
			}
		case model.StatusSkipped:
			s.Skipped++
			s.SkipReasons[e.SkipReason]++
		case model.StatusError:
			s.Errors++
		}
	}
	return s
}

// finalize заполняет итог запуска. Вызывается всегда, в том числе после аварийной остановки.
func finalize(out *model.RunOutput, records []processed, unprocessed []model.InputAccount, fatal error, finishedAt time.Time) {
	results := make([]model.ResultEntry, 0, len(records))
	for _, r := range records {
		results = append(results, r.entry)
	}
	if unprocessed == nil {
		unprocessed = []model.InputAccount{}
	}
	retry := buildRetry(records, unprocessed)

	out.Results = results
	out.Unprocessed = unprocessed
	out.Retry = retry
	out.Summary = buildSummary(results, len(unprocessed), len(retry))
	out.Success = fatal == nil
	if fatal != nil {
		out.Error = fatal.Error()
	}
	out.FinishedAt = finishedAt
}
