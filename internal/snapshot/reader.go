// Пакет snapshot — чтение входного списка учёток (CSV/JSON) и запись
// итогов запуска и списка повтора в том же формате.
package snapshot

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// Format — формат файла с учётками.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrEmptyInput — во входных данных нет ни заголовка, ни записей.
var ErrEmptyInput = errors.New("пустой входной файл")

// ParseWarning — нефатальная проблема в строке входного файла.
type ParseWarning struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ReadResult — прочитанные учётки и предупреждения.
type ReadResult struct {
	Accounts []model.InputAccount
	Warnings []ParseWarning
}

// FormatFromPath определяет формат по расширению файла (по умолчанию CSV).
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatCSV
}

// ReadAccounts читает учётки, считая даты без смещения датами в UTC.
func ReadAccounts(r io.Reader, format Format) (*ReadResult, error) {
	return ReadAccountsIn(r, format, time.UTC)
}

// ReadAccountsIn читает учётки. Даты без смещения относятся к зоне loc:
// Export-Csv пишет локальное время машины, где делалась выгрузка.
// Вход декодируется из UTF-8 (с BOM или без) либо из UTF-16 с BOM.
func ReadAccountsIn(r io.Reader, format Format, loc *time.Location) (*ReadResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(transform.NewReader(r, decoder))
	if err != nil {
		return nil, fmt.Errorf("декодирование входа: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	switch format {
	case FormatJSON:
		return readJSON(data, loc)
	case FormatCSV:
		return readCSV(data, loc)
	default:
		return nil, fmt.Errorf("неизвестный формат %q", format)
	}
}

// --- CSV ---

// csvColumns — допустимые заголовки столбцов (без учёта регистра).
var csvColumns = map[string]string{
	"userprincipalname":  "upn",
	"samaccountname":     "sam",
	"enabled":            "enabled",
	"lastlogondate":      "lastLogon",
	"lastlogontimestamp": "lastLogon",
	"lastlogon":          "lastLogon",
	"lastsignindate":     "lastSignIn",
	"lastsignindatetime": "lastSignIn",
	"lastcloudsignin":    "lastSignIn",
	"created":            "created",
	"whencreated":        "created",
	"createddatetime":    "created",
	"objectid":           "objectId",
	"id":                 "objectId",
	"cloudobjectid":      "objectId",
	"ownerattribute":     "owner",
	"description":        "description",
}

func readCSV(data []byte, loc *time.Location) (*ReadResult, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("чтение заголовка CSV: %w", err)
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if field, ok := csvColumns[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, dup := index[field]; !dup {
				index[field] = i
			}
		}
	}
	if _, ok := index["upn"]; !ok {
		return nil, fmt.Errorf("в CSV нет столбца UserPrincipalName")
	}

	result := &ReadResult{}
	rowNum := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			result.Warnings = append(result.Warnings, ParseWarning{Row: rowNum, Message: fmt.Sprintf("ошибка разбора: %v", err)})
			continue
		}

		get := func(field string) string {
			i, ok := index[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		warn := func(msg string) {
			result.Warnings = append(result.Warnings, ParseWarning{Row: rowNum, Message: msg})
		}

		acct := model.InputAccount{
			UserPrincipalName: get("upn"),
			SamAccountName:    get("sam"),
			ObjectID:          get("objectId"),
			OwnerAttribute:    get("owner"),
			Description:       get("description"),
		}
		if v := get("enabled"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				warn(fmt.Sprintf("Enabled: некорректное значение %q", v))
			} else {
				acct.Enabled = &b
			}
		}
		acct.LastLogonDate = parseField(get("lastLogon"), "LastLogonDate", loc, warn)
		acct.LastSignInDate = parseField(get("lastSignIn"), "LastSignInDate", loc, warn)
		acct.Created = parseField(get("created"), "Created", loc, warn)

		result.Accounts = append(result.Accounts, acct)
	}

	return result, nil
}

// --- JSON ---

// jsonAccount — строка JSON: даты и Enabled принимаются в нескольких формах.
type jsonAccount struct {
	UserPrincipalName string          `json:"userPrincipalName"`
	SamAccountName    string          `json:"samAccountName"`
	Enabled           json.RawMessage `json:"enabled"`
	LastLogonDate     *string         `json:"lastLogonDate"`
	LastSignInDate    *string         `json:"lastSignInDate"`
	Created           *string         `json:"created"`
	ObjectID          string          `json:"objectId"`
	OwnerAttribute    string          `json:"ownerAttribute"`
	Description       string          `json:"description"`
}

// jsonEnvelope — объект со списком учёток или прошлый итог запуска.
type jsonEnvelope struct {
	Accounts []jsonAccount `json:"accounts"`
	Retry    []jsonAccount `json:"retry"`
}

func readJSON(data []byte, loc *time.Location) (*ReadResult, error) {
	data = bytes.TrimSpace(data)

	var rows []jsonAccount
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("разбор JSON: %w", err)
		}
	case '{':
		var env jsonEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("разбор JSON: %w", err)
		}
		rows = env.Accounts
		if rows == nil {
			rows = env.Retry
		}
	default:
		return nil, fmt.Errorf("разбор JSON: ожидается массив или объект")
	}

	result := &ReadResult{Accounts: make([]model.InputAccount, 0, len(rows))}
	for i, r := range rows {
		rowNum := i + 1
		warn := func(msg string) {
			result.Warnings = append(result.Warnings, ParseWarning{Row: rowNum, Message: msg})
		}

		acct := model.InputAccount{
			UserPrincipalName: strings.TrimSpace(r.UserPrincipalName),
			SamAccountName:    strings.TrimSpace(r.SamAccountName),
			ObjectID:          strings.TrimSpace(r.ObjectID),
			OwnerAttribute:    r.OwnerAttribute,
			Description:       r.Description,
		}
		if len(r.Enabled) > 0 && string(r.Enabled) != "null" {
			b, err := parseJSONBool(r.Enabled)
			if err != nil {
				warn(fmt.Sprintf("enabled: %v", err))
			} else {
				acct.Enabled = &b
			}
		}
		acct.LastLogonDate = parseField(deref(r.LastLogonDate), "lastLogonDate", loc, warn)
		acct.LastSignInDate = parseField(deref(r.LastSignInDate), "lastSignInDate", loc, warn)
		acct.Created = parseField(deref(r.Created), "created", loc, warn)

		result.Accounts = append(result.Accounts, acct)
	}
	return result, nil
}

// parseJSONBool принимает true/false и строки "True"/"False".
func parseJSONBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("некорректное значение %s", string(raw))
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("некорректное значение %q", s)
	}
	return b, nil
}

// --- даты ---

// timeLayouts — форматы дат, встречающиеся в выгрузках AD и Graph.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 3:04:05 PM",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006",
}

// parseTimestamp разбирает дату. Даты без зоны относятся к loc, результат в UTC.
// Поддерживается сериализация PowerShell ConvertTo-Json: "/Date(1700000000000)/".
func parseTimestamp(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if inner, ok := strings.CutPrefix(s, "/Date("); ok {
		inner = strings.TrimSuffix(inner, ")/")
		if inner == "" {
			return nil, fmt.Errorf("некорректная дата %q", s)
		}
		// Смещение зоны после миллисекунд ("1700000000000+0000") не влияет на момент времени
		if i := strings.IndexAny(inner[1:], "+-"); i >= 0 {
			inner = inner[:i+1]
		}
		ms, err := strconv.ParseInt(inner, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("некорректная дата %q", s)
		}
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("некорректная дата %q", s)
}

func parseField(value, name string, loc *time.Location, warn func(string)) *time.Time {
	t, err := parseTimestamp(value, loc)
	if err != nil {
		warn(name + ": " + err.Error())
		return nil
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
