// Пакет config — загрузка и валидация конфигурации account-lifecycle
// из переменных окружения и необязательного YAML-файла политики.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	// База зон для AL_INPUT_TIMEZONE на хостах без tzdata
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/policy"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации.
type Config struct {
	// --- Логирование ---

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text, auto)
	LogFormat string `validate:"oneof=json text auto"`

	// --- Политика ---

	// Путь к YAML-файлу политики (опционально)
	PolicyFile string
	// Префиксы привилегированных учёток и разделители
	Prefixes policy.PrefixPolicy
	// Корень поиска в локальном каталоге
	SearchBase string
	// Пороги неактивности
	Thresholds policy.Thresholds
	// Разрешено ли удаление
	DeletionEnabled bool
	// Пробный запуск без побочных эффектов
	DryRun bool
	// LDAP-атрибут со свободным текстом владельца
	OwnerAttribute string `validate:"required"`
	// Формат атрибута владельца
	OwnerPolicy policy.OwnerAttributePolicy
	// Зона дат без смещения во входном файле
	InputLocation *time.Location

	// --- LDAP (Active Directory) ---

	// URL LDAP-сервера (ldap:// или ldaps://)
	LDAPURL string `validate:"required,url"`
	// Корень домена для поиска владельцев
	LDAPBaseDN string `validate:"required"`
	// DN для bind
	LDAPBindDN string
	// Пароль для bind
	LDAPBindPassword string
	// Путь к CA-сертификату для TLS (опционально)
	LDAPCACertPath string
	// Размер страницы постраничного поиска
	LDAPPageSize int `validate:"gte=1,lte=5000"`
	// Таймаут соединения и операций
	LDAPTimeout time.Duration

	// --- Microsoft Graph ---

	// Облачный каталог используется
	CloudEnabled bool
	// ID тенанта
	GraphTenantID string `validate:"required_if=CloudEnabled true"`
	// Client ID приложения
	GraphClientID string `validate:"required_if=CloudEnabled true"`
	// Client Secret приложения
	GraphClientSecret string `validate:"required_if=CloudEnabled true"`
	// Базовый URL Graph API
	GraphURL string `validate:"url"`
	// Базовый URL сервера авторизации
	GraphAuthorityURL string `validate:"url"`
	// Ограничение запросов в секунду
	GraphRPS float64 `validate:"gt=0"`

	// --- Почта ---

	// Транспорт писем: graph или smtp
	MailTransport string `validate:"oneof=graph smtp"`
	// Адрес отправителя
	MailSender string `validate:"required,email"`
	// Адрес для перехвата всех писем (опционально)
	MailOverrideRecipient string `validate:"omitempty,email"`
	// SMTP-сервер
	SMTPHost string `validate:"required_if=MailTransport smtp"`
	// Порт SMTP
	SMTPPort int `validate:"gte=1,lte=65535"`
	// Пользователь SMTP
	SMTPUsername string
	// Пароль SMTP
	SMTPPassword string
	// Политика TLS: mandatory, opportunistic, none
	SMTPTLS string `validate:"oneof=mandatory opportunistic none"`

	// --- Метрики ---

	// URL Prometheus Pushgateway (пусто — метрики не отправляются)
	PushgatewayURL string `validate:"omitempty,url"`
	// Имя job в Pushgateway
	MetricsJob string `validate:"required"`

	// --- PostgreSQL (архив запусков) ---

	// Хост PostgreSQL (пусто — архив отключён)
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string `validate:"required_with=DBHost"`
	// Имя пользователя
	DBUser string `validate:"required_with=DBHost"`
	// Пароль пользователя
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string `validate:"oneof=disable require verify-ca verify-full"`
}

// policyFile — содержимое YAML-файла политики. Пустые поля не перекрывают значения по умолчанию.
type policyFile struct {
	Prefixes        []string                     `yaml:"prefixes"`
	Separators      *string                      `yaml:"separators"`
	SearchBase      string                       `yaml:"search_base"`
	Thresholds      *policy.Thresholds           `yaml:"thresholds"`
	DeletionEnabled *bool                        `yaml:"deletion_enabled"`
	OwnerAttribute  string                       `yaml:"owner_attribute"`
	OwnerPolicy     *policy.OwnerAttributePolicy `yaml:"owner_policy"`
}

// Load загружает конфигурацию: значения по умолчанию, затем YAML-файл
// политики (AL_POLICY_FILE), затем переменные окружения. Результат валидируется.
func Load() (*Config, error) {
	cfg := &Config{
		Prefixes:       policy.PrefixPolicy{Prefixes: []string{"adm"}, Separators: "-_."},
		Thresholds:     policy.DefaultThresholds(),
		OwnerAttribute: "extensionAttribute14",
		OwnerPolicy:    policy.DefaultOwnerAttributePolicy(),
	}
	var err error

	// --- Логирование ---

	// AL_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AL_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AL_LOG_LEVEL: %w", err)
	}

	// AL_LOG_FORMAT — формат логов (по умолчанию auto)
	cfg.LogFormat = getEnvDefault("AL_LOG_FORMAT", "auto")

	// --- Политика ---

	// AL_POLICY_FILE — YAML-файл политики (опционально)
	cfg.PolicyFile = getEnvDefault("AL_POLICY_FILE", "")
	if cfg.PolicyFile != "" {
		if err := cfg.applyPolicyFile(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("AL_POLICY_FILE: %w", err)
		}
	}

	// AL_ACCOUNT_PREFIXES — префиксы учёток через запятую
	if v := os.Getenv("AL_ACCOUNT_PREFIXES"); v != "" {
		cfg.Prefixes.Prefixes = parseCSV(v)
	}

	// AL_PREFIX_SEPARATORS — разделители после префикса
	if v, ok := os.LookupEnv("AL_PREFIX_SEPARATORS"); ok {
		cfg.Prefixes.Separators = v
	}

	// AL_SEARCH_BASE — корень поиска (нужен режиму обнаружения)
	cfg.SearchBase = getEnvDefault("AL_SEARCH_BASE", cfg.SearchBase)

	// AL_WARN_DAYS, AL_DISABLE_DAYS, AL_DELETE_DAYS — пороги неактивности
	cfg.Thresholds.WarnDays, err = getEnvInt("AL_WARN_DAYS", cfg.Thresholds.WarnDays)
	if err != nil {
		return nil, fmt.Errorf("AL_WARN_DAYS: %w", err)
	}
	cfg.Thresholds.DisableDays, err = getEnvInt("AL_DISABLE_DAYS", cfg.Thresholds.DisableDays)
	if err != nil {
		return nil, fmt.Errorf("AL_DISABLE_DAYS: %w", err)
	}
	cfg.Thresholds.DeleteDays, err = getEnvInt("AL_DELETE_DAYS", cfg.Thresholds.DeleteDays)
	if err != nil {
		return nil, fmt.Errorf("AL_DELETE_DAYS: %w", err)
	}

	// AL_DELETION_ENABLED — удаление только по явному включению (по умолчанию false)
	cfg.DeletionEnabled, err = getEnvBool("AL_DELETION_ENABLED", cfg.DeletionEnabled)
	if err != nil {
		return nil, fmt.Errorf("AL_DELETION_ENABLED: %w", err)
	}

	// AL_DRY_RUN — пробный запуск (по умолчанию false)
	cfg.DryRun, err = getEnvBool("AL_DRY_RUN", false)
	if err != nil {
		return nil, fmt.Errorf("AL_DRY_RUN: %w", err)
	}

	// AL_OWNER_* — атрибут и формат владельца
	cfg.OwnerAttribute = getEnvDefault("AL_OWNER_ATTRIBUTE", cfg.OwnerAttribute)
	cfg.OwnerPolicy.Key = getEnvDefault("AL_OWNER_KEY", cfg.OwnerPolicy.Key)
	cfg.OwnerPolicy.PairDelimiter = getEnvDefault("AL_OWNER_PAIR_DELIMITER", cfg.OwnerPolicy.PairDelimiter)
	cfg.OwnerPolicy.KeyValueSeparator = getEnvDefault("AL_OWNER_KV_SEPARATOR", cfg.OwnerPolicy.KeyValueSeparator)
	cfg.OwnerPolicy.CaseSensitiveKey, err = getEnvBool("AL_OWNER_KEY_CASE_SENSITIVE", cfg.OwnerPolicy.CaseSensitiveKey)
	if err != nil {
		return nil, fmt.Errorf("AL_OWNER_KEY_CASE_SENSITIVE: %w", err)
	}

	// AL_INPUT_TIMEZONE — зона дат без смещения во входном файле (по умолчанию UTC)
	cfg.InputLocation, err = time.LoadLocation(getEnvDefault("AL_INPUT_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("AL_INPUT_TIMEZONE: %w", err)
	}

	// --- LDAP ---

	// AL_LDAP_URL — обязательный
	cfg.LDAPURL, err = getEnvRequired("AL_LDAP_URL")
	if err != nil {
		return nil, err
	}
	// AL_LDAP_BASE_DN — обязательный
	cfg.LDAPBaseDN, err = getEnvRequired("AL_LDAP_BASE_DN")
	if err != nil {
		return nil, err
	}
	if cfg.SearchBase == "" {
		cfg.SearchBase = cfg.LDAPBaseDN
	}
	cfg.LDAPBindDN = getEnvDefault("AL_LDAP_BIND_DN", "")
	cfg.LDAPBindPassword = getEnvDefault("AL_LDAP_BIND_PASSWORD", "")
	cfg.LDAPCACertPath = getEnvDefault("AL_LDAP_CA_CERT_PATH", "")

	// AL_LDAP_PAGE_SIZE — размер страницы (по умолчанию 500)
	cfg.LDAPPageSize, err = getEnvInt("AL_LDAP_PAGE_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("AL_LDAP_PAGE_SIZE: %w", err)
	}

	// AL_LDAP_TIMEOUT — таймаут (по умолчанию 30s)
	cfg.LDAPTimeout, err = getEnvDuration("AL_LDAP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AL_LDAP_TIMEOUT: %w", err)
	}

	// --- Microsoft Graph ---

	// AL_CLOUD_ENABLED — использовать облачный каталог (по умолчанию true)
	cfg.CloudEnabled, err = getEnvBool("AL_CLOUD_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("AL_CLOUD_ENABLED: %w", err)
	}
	cfg.GraphTenantID = getEnvDefault("AL_GRAPH_TENANT_ID", "")
	cfg.GraphClientID = getEnvDefault("AL_GRAPH_CLIENT_ID", "")
	cfg.GraphClientSecret = getEnvDefault("AL_GRAPH_CLIENT_SECRET", "")
	cfg.GraphURL = strings.TrimRight(getEnvDefault("AL_GRAPH_URL", "https://graph.microsoft.com/v1.0"), "/")
	cfg.GraphAuthorityURL = strings.TrimRight(getEnvDefault("AL_GRAPH_AUTHORITY_URL", "https://login.microsoftonline.com"), "/")

	// AL_GRAPH_RPS — запросов в секунду к Graph (по умолчанию 10)
	cfg.GraphRPS, err = getEnvFloat("AL_GRAPH_RPS", 10)
	if err != nil {
		return nil, fmt.Errorf("AL_GRAPH_RPS: %w", err)
	}

	// --- Почта ---

	// AL_MAIL_TRANSPORT — graph или smtp (по умолчанию graph)
	cfg.MailTransport = getEnvDefault("AL_MAIL_TRANSPORT", "graph")

	// AL_MAIL_SENDER — обязательный
	cfg.MailSender, err = getEnvRequired("AL_MAIL_SENDER")
	if err != nil {
		return nil, err
	}
	cfg.MailOverrideRecipient = getEnvDefault("AL_MAIL_OVERRIDE_RECIPIENT", "")
	cfg.SMTPHost = getEnvDefault("AL_SMTP_HOST", "")
	cfg.SMTPPort, err = getEnvInt("AL_SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("AL_SMTP_PORT: %w", err)
	}
	cfg.SMTPUsername = getEnvDefault("AL_SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvDefault("AL_SMTP_PASSWORD", "")
	cfg.SMTPTLS = getEnvDefault("AL_SMTP_TLS", "mandatory")

	// --- Метрики ---

	cfg.PushgatewayURL = getEnvDefault("AL_PUSHGATEWAY_URL", "")
	cfg.MetricsJob = getEnvDefault("AL_METRICS_JOB", "account_lifecycle")

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("AL_DB_HOST", "")
	cfg.DBPort, err = getEnvInt("AL_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AL_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("AL_DB_NAME", "")
	cfg.DBUser = getEnvDefault("AL_DB_USER", "")
	cfg.DBPassword = getEnvDefault("AL_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("AL_DB_SSL_MODE", "disable")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию по тегам validate и правилам политики.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: недопустимое значение %q (правило %s)", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return fmt.Errorf("валидация конфигурации: %w", err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.MailTransport == "graph" && !c.CloudEnabled {
		return fmt.Errorf("AL_MAIL_TRANSPORT: транспорт graph требует AL_CLOUD_ENABLED=true")
	}
	return nil
}

// ArchiveEnabled сообщает, включён ли архив запусков в PostgreSQL.
func (c *Config) ArchiveEnabled() bool {
	return c.DBHost != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// applyPolicyFile накладывает значения из YAML-файла политики.
func (c *Config) applyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("чтение файла: %w", err)
	}
	// Блоки thresholds и owner_policy накладываются на текущие значения по полям
	th := c.Thresholds
	op := c.OwnerPolicy
	pf := policyFile{Thresholds: &th, OwnerPolicy: &op}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("разбор YAML: %w", err)
	}

	if len(pf.Prefixes) > 0 {
		c.Prefixes.Prefixes = pf.Prefixes
	}
	if pf.Separators != nil {
		c.Prefixes.Separators = *pf.Separators
	}
	if pf.SearchBase != "" {
		c.SearchBase = pf.SearchBase
	}
	if pf.Thresholds != nil {
		c.Thresholds = *pf.Thresholds
	}
	if pf.DeletionEnabled != nil {
		c.DeletionEnabled = *pf.DeletionEnabled
	}
	if pf.OwnerAttribute != "" {
		c.OwnerAttribute = pf.OwnerAttribute
	}
	if pf.OwnerPolicy != nil {
		c.OwnerPolicy = *pf.OwnerPolicy
	}
	return nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Логи пишутся в stderr: stdout занят итогом запуска.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	format := cfg.LogFormat
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает дробное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
