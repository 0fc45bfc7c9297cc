// writer.go — запись итога запуска и списка повтора.
package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// csvHeader — заголовок CSV списка повтора; совпадает с тем, что принимает ReadAccounts.
var csvHeader = []string{
	"UserPrincipalName", "SamAccountName", "Enabled", "LastLogonDate", "LastSignInDate",
	"Created", "ObjectId", "OwnerAttribute", "Description",
}

// WriteAccountsCSV пишет учётки в CSV для повторной подачи в режиме сверки.
func WriteAccountsCSV(w io.Writer, accounts []model.InputAccount) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("запись заголовка CSV: %w", err)
	}

	for _, a := range accounts {
		enabled := ""
		if a.Enabled != nil {
			enabled = strconv.FormatBool(*a.Enabled)
		}
		row := []string{
			a.UserPrincipalName, a.SamAccountName, enabled,
			formatTime(a.LastLogonDate), formatTime(a.LastSignInDate), formatTime(a.Created),
			a.ObjectID, a.OwnerAttribute, a.Description,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("запись строки CSV %s: %w", a.UserPrincipalName, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteAccountsJSON пишет учётки JSON-массивом.
func WriteAccountsJSON(w io.Writer, accounts []model.InputAccount) error {
	if accounts == nil {
		accounts = []model.InputAccount{}
	}
	return writeJSON(w, accounts)
}

// WriteAccounts пишет учётки в выбранном формате.
func WriteAccounts(w io.Writer, format Format, accounts []model.InputAccount) error {
	if format == FormatJSON {
		return WriteAccountsJSON(w, accounts)
	}
	return WriteAccountsCSV(w, accounts)
}

// WriteRunOutput пишет итог запуска в JSON.
func WriteRunOutput(w io.Writer, out *model.RunOutput) error {
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("сериализация JSON: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
