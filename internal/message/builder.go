// Пакет message — сборка писем владельцам по стадии уведомления.
// Шаблоны HTML встроены в бинарник.
package message

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
	"github.com/ethorneloe/identity-lifecycle/internal/domain/policy"
)

//go:embed templates/*.html
var templateFS embed.FS

// Builder собирает письма по стадиям.
type Builder struct {
	thresholds      policy.Thresholds
	deletionEnabled bool
	stages          map[model.Stage]*template.Template
}

// templateData — данные для шаблонов.
type templateData struct {
	Subject         string
	PrincipalName   string
	LastActivity    string
	InactiveDays    int
	DisableDays     int
	DeletionDays    int
	DeletionEnabled bool
}

// NewBuilder разбирает встроенные шаблоны.
func NewBuilder(thresholds policy.Thresholds, deletionEnabled bool) (*Builder, error) {
	b := &Builder{
		thresholds:      thresholds,
		deletionEnabled: deletionEnabled,
		stages:          make(map[model.Stage]*template.Template, 3),
	}

	files := map[model.Stage]string{
		model.StageWarning:  "templates/warning.html",
		model.StageDisabled: "templates/disabled.html",
		model.StageDeletion: "templates/deletion.html",
	}
	for stage, file := range files {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("разбор шаблона %s: %w", file, err)
		}
		b.stages[stage] = tmpl
	}
	return b, nil
}

// Build возвращает тему и HTML-тело письма для стадии.
func (b *Builder) Build(stage model.Stage, principalName, lastActivity string, inactiveDays int) (model.Message, error) {
	tmpl, ok := b.stages[stage]
	if !ok {
		return model.Message{}, fmt.Errorf("нет шаблона для стадии %q", stage)
	}

	data := templateData{
		Subject:         subject(stage, principalName, b.deletionEnabled),
		PrincipalName:   principalName,
		LastActivity:    lastActivity,
		InactiveDays:    inactiveDays,
		DisableDays:     b.thresholds.DisableDays,
		DeletionEnabled: b.deletionEnabled,
	}
	if b.deletionEnabled || stage == model.StageDeletion {
		data.DeletionDays = b.thresholds.DeleteDays
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return model.Message{}, fmt.Errorf("сборка письма %s: %w", stage, err)
	}
	return model.Message{Subject: data.Subject, HTMLBody: buf.String()}, nil
}

func subject(stage model.Stage, principalName string, deletionEnabled bool) string {
	switch stage {
	case model.StageWarning:
		return "Action required: privileged account " + principalName + " is inactive"
	case model.StageDisabled:
		return "Privileged account " + principalName + " has been disabled"
	case model.StageDeletion:
		if deletionEnabled {
			return "Privileged account " + principalName + " has been deleted"
		}
		return "Privileged account " + principalName + " is scheduled for deletion"
	default:
		return "Privileged account " + principalName
	}
}
