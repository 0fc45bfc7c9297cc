// run.go — сборка зависимостей и выполнение одного запуска.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethorneloe/identity-lifecycle/internal/config"
	"github.com/ethorneloe/identity-lifecycle/internal/database"
	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
	"github.com/ethorneloe/identity-lifecycle/internal/graph"
	"github.com/ethorneloe/identity-lifecycle/internal/ldapdir"
	"github.com/ethorneloe/identity-lifecycle/internal/mailer"
	"github.com/ethorneloe/identity-lifecycle/internal/message"
	"github.com/ethorneloe/identity-lifecycle/internal/metrics"
	"github.com/ethorneloe/identity-lifecycle/internal/repository"
	"github.com/ethorneloe/identity-lifecycle/internal/service"
	"github.com/ethorneloe/identity-lifecycle/internal/snapshot"
)

// Роли приложения Graph, без которых запуск не сможет выполнить действия.
const (
	roleUserReadWrite = "User.ReadWrite.All"
	roleMailSend      = "Mail.Send"
)

const (
	// postRunTimeout — отправка метрик и запись архива после запуска
	postRunTimeout = 30 * time.Second
	smtpTimeout    = 30 * time.Second
)

func runRemediation(cmd *cobra.Command, mode model.Mode, f *runFlags) error {
	ctx := cmd.Context()

	// 1. Загрузка конфигурации и флагов
	cfg, err := config.Load()
	if err != nil {
		return &exitError{code: exitUsage, err: fmt.Errorf("конфигурация: %w", err)}
	}
	applyFlags(cmd, cfg, f)
	if err := cfg.Thresholds.Validate(); err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("account-lifecycle запускается",
		slog.String("version", config.Version),
		slog.String("mode", string(mode)),
		slog.Any("prefixes", cfg.Prefixes.Prefixes),
		slog.Bool("cloud_enabled", cfg.CloudEnabled),
		slog.String("mail_transport", cfg.MailTransport),
	)

	// 3. Входной список (Reconciliation)
	var accounts []model.InputAccount
	if mode == model.ModeReconciliation {
		accounts, err = readInput(f.input, cfg.InputLocation, logger)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
	}

	// 4. Клиент AD
	ldapClient := ldapdir.New(ldapdir.Options{
		URL:            cfg.LDAPURL,
		BindDN:         cfg.LDAPBindDN,
		BindPassword:   cfg.LDAPBindPassword,
		CACertPath:     cfg.LDAPCACertPath,
		BaseDN:         cfg.LDAPBaseDN,
		PageSize:       cfg.LDAPPageSize,
		Timeout:        cfg.LDAPTimeout,
		OwnerAttribute: cfg.OwnerAttribute,
	}, logger)
	defer ldapClient.Close()
	connectors := []service.Connector{ldapClient}

	// 5. Клиент Microsoft Graph (интерфейсы остаются nil, если облако выключено)
	var (
		graphClient *graph.Client
		cloudDir    service.CloudDirectory
		cloudMgr    service.CloudAccountManager
	)
	if cfg.CloudEnabled {
		graphClient = graph.New(graph.Options{
			BaseURL:      cfg.GraphURL,
			AuthorityURL: cfg.GraphAuthorityURL,
			TenantID:     cfg.GraphTenantID,
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
			RPS:          cfg.GraphRPS,
		}, nil, logger)
		cloudDir = graphClient
		cloudMgr = graphClient
		connectors = append(connectors, graphClient)
	}

	// 6. Доставка писем
	var notifier service.Notifier
	switch cfg.MailTransport {
	case "smtp":
		smtpSender, err := mailer.NewSMTPSender(mailer.SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
			Timeout:  smtpTimeout,
		}, logger)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		notifier = smtpSender
	default:
		notifier = mailer.NewGraphSender(graphClient)
	}

	// 7. Шаблоны писем
	builder, err := message.NewBuilder(cfg.Thresholds, cfg.DeletionEnabled)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	// 8. Проверка ролей приложения Graph
	if graphClient != nil {
		checkGraphRoles(ctx, graphClient, cfg.MailTransport == "graph", logger)
	}

	// 9. Сервисы
	svc := service.NewRemediationService(service.Dependencies{
		Assembler:         service.NewAccountAssembler(ldapClient, cloudDir, cfg.Prefixes, logger),
		Owners:            service.NewOwnerResolver(ldapClient, cloudDir, cfg.Prefixes, cfg.OwnerPolicy, logger),
		Notifier:          notifier,
		Actions:           service.NewDirectoryActions(ldapClient, cloudMgr, logger),
		Messages:          builder,
		Sender:            cfg.MailSender,
		OverrideRecipient: cfg.MailOverrideRecipient,
		Connectors:        connectors,
	}, logger)

	// 10. Запуск
	out := svc.Run(ctx, service.RunRequest{
		Mode:            mode,
		SearchBase:      cfg.SearchBase,
		Accounts:        accounts,
		Thresholds:      cfg.Thresholds,
		DeletionEnabled: cfg.DeletionEnabled,
		DryRun:          cfg.DryRun,
	})

	// 11. Итоги и список повтора
	if err := writeOutputs(out, f.output, f.retryOutput, cmd.OutOrStdout()); err != nil {
		logger.Error("Ошибка записи итогов", slog.String("error", err.Error()))
		return &exitError{code: exitRunFailed, err: err}
	}

	// 12. Метрики и архив (не влияют на код выхода)
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postRunTimeout)
	defer cancel()
	if cfg.PushgatewayURL != "" {
		recorder := metrics.NewRecorder()
		recorder.Record(out)
		if err := recorder.Push(postCtx, cfg.PushgatewayURL, cfg.MetricsJob, nil); err != nil {
			logger.Warn("Метрики не отправлены", slog.String("error", err.Error()))
		}
	}
	if cfg.ArchiveEnabled() {
		if err := archiveRun(postCtx, cfg, out, logger); err != nil {
			logger.Warn("Запуск не сохранён в архив", slog.String("error", err.Error()))
		}
	}

	if !out.Success {
		return &exitError{code: exitRunFailed, err: errors.New(out.Error)}
	}
	return nil
}

// readInput читает входной список; нефатальные проблемы строк пишутся в лог.
func readInput(path string, loc *time.Location, logger *slog.Logger) ([]model.InputAccount, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("открытие входного файла: %w", err)
	}
	defer file.Close()

	res, err := snapshot.ReadAccountsIn(file, snapshot.FormatFromPath(path), loc)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	for _, w := range res.Warnings {
		logger.Warn("Проблема во входной строке",
			slog.Int("row", w.Row),
			slog.String("message", w.Message),
		)
	}
	logger.Info("Входной список прочитан",
		slog.String("path", path),
		slog.Int("accounts", len(res.Accounts)),
	)
	return res.Accounts, nil
}

// writeOutputs пишет итог запуска (в файл или stdout) и список повтора.
func writeOutputs(out *model.RunOutput, outputPath, retryPath string, stdout io.Writer) error {
	if outputPath == "" {
		if err := snapshot.WriteRunOutput(stdout, out); err != nil {
			return fmt.Errorf("вывод итогов: %w", err)
		}
	} else if err := writeFile(outputPath, func(w io.Writer) error {
		return snapshot.WriteRunOutput(w, out)
	}); err != nil {
		return err
	}

	if retryPath == "" {
		return nil
	}
	return writeFile(retryPath, func(w io.Writer) error {
		return snapshot.WriteAccounts(w, snapshot.FormatFromPath(retryPath), out.Retry)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("создание %s: %w", path, err)
	}
	if err := write(file); err != nil {
		file.Close()
		return fmt.Errorf("запись %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("закрытие %s: %w", path, err)
	}
	return nil
}

// checkGraphRoles предупреждает о недостающих ролях приложения.
// Ошибка получения токена здесь не фатальна: её покажет подключение в запуске.
func checkGraphRoles(ctx context.Context, client *graph.Client, mailViaGraph bool, logger *slog.Logger) {
	roles, err := client.GrantedRoles(ctx)
	if err != nil {
		logger.Warn("Не удалось проверить роли приложения Graph", slog.String("error", err.Error()))
		return
	}
	for _, role := range missingRoles(roles, mailViaGraph) {
		logger.Warn("У приложения Graph нет роли", slog.String("role", role))
	}
}

func missingRoles(granted []string, mailViaGraph bool) []string {
	required := []string{roleUserReadWrite}
	if mailViaGraph {
		required = append(required, roleMailSend)
	}
	var missing []string
	for _, role := range required {
		if !slices.Contains(granted, role) {
			missing = append(missing, role)
		}
	}
	return missing
}

// archiveRun сохраняет итог запуска в PostgreSQL.
func archiveRun(ctx context.Context, cfg *config.Config, out *model.RunOutput, logger *slog.Logger) error {
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewRunRepository(pool, repository.NewTxRunner(pool))
	if err := repo.Save(ctx, out); err != nil {
		return err
	}
	logger.Info("Запуск сохранён в архив",
		slog.String("run_id", out.RunID),
		slog.Int("results", len(out.Results)),
	)
	return nil
}
