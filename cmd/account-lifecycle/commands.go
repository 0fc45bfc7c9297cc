// commands.go — команды cobra и флаги, перекрывающие конфигурацию окружения.
package main

import (
	"github.com/spf13/cobra"

	"github.com/ethorneloe/identity-lifecycle/internal/config"
	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// runFlags — флаги командной строки. Применяются поверх env и файла политики.
type runFlags struct {
	warnDays       int
	disableDays    int
	deleteDays     int
	enableDeletion bool
	dryRun         bool
	prefixes       []string
	searchBase     string
	input          string
	output         string
	retryOutput    string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "account-lifecycle",
		Short:         "Обработка неактивных привилегированных учёток AD и Entra ID",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDiscoverCmd(&runFlags{}), newReconcileCmd(&runFlags{}))
	return root
}

func newDiscoverCmd(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Собрать учётки из AD и Entra ID по префиксам и обработать",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRemediation(cmd, model.ModeDiscovery, f)
		},
	}
	addCommonFlags(cmd, f)
	cmd.Flags().StringVar(&f.searchBase, "search-base", "", "корень поиска в AD (по умолчанию AL_SEARCH_BASE)")
	return cmd
}

func newReconcileCmd(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Обработать список учёток из файла с живой сверкой",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRemediation(cmd, model.ModeReconciliation, f)
		},
	}
	addCommonFlags(cmd, f)
	cmd.Flags().StringVar(&f.input, "input", "", "файл со списком учёток (.csv или .json)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func addCommonFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	flags.IntVar(&f.warnDays, "warn-days", 0, "порог предупреждения, дней")
	flags.IntVar(&f.disableDays, "disable-days", 0, "порог отключения, дней")
	flags.IntVar(&f.deleteDays, "delete-days", 0, "порог удаления, дней")
	flags.BoolVar(&f.enableDeletion, "enable-deletion", false, "разрешить удаление учёток")
	flags.BoolVar(&f.dryRun, "dry-run", false, "пробный запуск без писем и изменений")
	flags.StringSliceVar(&f.prefixes, "prefix", nil, "префиксы привилегированных учёток")
	flags.StringVar(&f.output, "output", "", "файл для итогов запуска в JSON (по умолчанию stdout)")
	flags.StringVar(&f.retryOutput, "retry-output", "", "файл для списка повтора (.csv или .json)")
}

// applyFlags перекрывает конфигурацию явно заданными флагами.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f *runFlags) {
	flags := cmd.Flags()
	if flags.Changed("warn-days") {
		cfg.Thresholds.WarnDays = f.warnDays
	}
	if flags.Changed("disable-days") {
		cfg.Thresholds.DisableDays = f.disableDays
	}
	if flags.Changed("delete-days") {
		cfg.Thresholds.DeleteDays = f.deleteDays
	}
	if flags.Changed("enable-deletion") {
		cfg.DeletionEnabled = f.enableDeletion
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if flags.Changed("prefix") && len(f.prefixes) > 0 {
		cfg.Prefixes.Prefixes = f.prefixes
	}
	if f.searchBase != "" {
		cfg.SearchBase = f.searchBase
	}
}
