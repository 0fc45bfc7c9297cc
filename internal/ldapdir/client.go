// client.go — операции с Active Directory: постраничный поиск по префиксам,
// поиск учётки по имени, отключение (userAccountControl) и удаление.
package ldapdir

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// ErrNotConnected — операция вызвана до Connect.
var ErrNotConnected = errors.New("нет соединения с LDAP")

// Options — параметры подключения к AD.
type Options struct {
	// URL — ldap:// или ldaps://
	URL string
	// BindDN, BindPassword — учётные данные для bind (пустой BindDN — без bind)
	BindDN       string
	BindPassword string
	// CACertPath — CA-сертификат для TLS (опционально)
	CACertPath string
	// BaseDN — корень домена для поиска владельцев
	BaseDN string
	// PageSize — размер страницы постраничного поиска
	PageSize int
	// Timeout — таймаут соединения и операций
	Timeout time.Duration
	// OwnerAttribute — атрибут со свободным текстом владельца
	OwnerAttribute string
}

// conn — используемое подмножество *ldap.Conn.
type conn interface {
	Bind(username, password string) error
	SearchWithPaging(searchRequest *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Modify(modifyRequest *ldap.ModifyRequest) error
	Del(delRequest *ldap.DelRequest) error
}

// dialFunc открывает соединение и возвращает функцию его закрытия.
type dialFunc func(opts Options) (conn, func(), error)

// Client — клиент AD. Соединение одно на запуск, операции последовательны.
type Client struct {
	opts   Options
	dial   dialFunc
	logger *slog.Logger

	mu      sync.Mutex
	conn    conn
	closeFn func()
}

// New создаёт клиент AD. Соединение открывается в Connect.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	return &Client{
		opts:   opts,
		dial:   dialLDAP,
		logger: logger.With(slog.String("component", "ldap_client")),
	}
}

// Connect открывает соединение и выполняет bind.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	cn, closeFn, err := c.dial(c.opts)
	if err != nil {
		return fmt.Errorf("подключение к LDAP %s: %w", c.opts.URL, err)
	}

	if c.opts.BindDN != "" {
		if err := cn.Bind(c.opts.BindDN, c.opts.BindPassword); err != nil {
			closeFn()
			return fmt.Errorf("LDAP bind %s: %w", c.opts.BindDN, err)
		}
	}

	c.conn = cn
	c.closeFn = closeFn
	c.logger.Info("Подключение к LDAP установлено", slog.String("url", c.opts.URL))
	return nil
}

// Close закрывает соединение.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeFn != nil {
		c.closeFn()
	}
	c.conn = nil
	c.closeFn = nil
}

// ListAccounts возвращает учётки, sAMAccountName которых начинается с одного из префиксов,
// под корнем searchBase (пустой — BaseDN).
func (c *Client) ListAccounts(ctx context.Context, prefixes []string, searchBase string) ([]model.OnPremAccount, error) {
	if searchBase == "" {
		searchBase = c.opts.BaseDN
	}

	entries, err := c.search(ctx, searchBase, prefixFilter(prefixes))
	if err != nil {
		return nil, fmt.Errorf("LDAP ListAccounts: %w", err)
	}

	result := make([]model.OnPremAccount, 0, len(entries))
	for _, e := range entries {
		result = append(result, entryToAccount(e, c.opts.OwnerAttribute))
	}

	c.logger.Debug("Учётки AD получены",
		slog.String("search_base", searchBase),
		slog.Int("count", len(result)),
	)
	return result, nil
}

// LookupAccount ищет учётку по sAMAccountName или UPN во всём домене.
// Отсутствие — model.ErrAccountNotFound.
func (c *Client) LookupAccount(ctx context.Context, identifier string) (model.OnPremAccount, error) {
	entries, err := c.search(ctx, c.opts.BaseDN, identityFilter(identifier))
	if err != nil {
		return model.OnPremAccount{}, fmt.Errorf("LDAP LookupAccount %s: %w", identifier, err)
	}

	switch len(entries) {
	case 0:
		return model.OnPremAccount{}, fmt.Errorf("%w: %s", model.ErrAccountNotFound, identifier)
	case 1:
		return entryToAccount(entries[0], c.opts.OwnerAttribute), nil
	default:
		return model.OnPremAccount{}, fmt.Errorf("LDAP LookupAccount %s: найдено %d объектов", identifier, len(entries))
	}
}

// DisableAccount устанавливает бит ACCOUNTDISABLE. Уже отключённая учётка не изменяется.
func (c *Client) DisableAccount(ctx context.Context, samAccountName string) error {
	entry, err := c.findEntry(ctx, samAccountName)
	if err != nil {
		return fmt.Errorf("LDAP DisableAccount: %w", err)
	}

	uac := parseUAC(entry.GetAttributeValue(attrUserAccountControl))
	if uac&uacAccountDisable != 0 {
		c.logger.Debug("Учётка AD уже отключена", slog.String("sam", samAccountName))
		return nil
	}

	req := ldap.NewModifyRequest(entry.DN, nil)
	req.Replace(attrUserAccountControl, []string{fmt.Sprintf("%d", uac|uacAccountDisable)})

	cn, err := c.current()
	if err != nil {
		return fmt.Errorf("LDAP DisableAccount: %w", err)
	}
	if err := cn.Modify(req); err != nil {
		return fmt.Errorf("LDAP DisableAccount %s: %w", entry.DN, err)
	}

	c.logger.Info("Учётка AD отключена", slog.String("dn", entry.DN))
	return nil
}

// DeleteAccount удаляет объект учётки.
func (c *Client) DeleteAccount(ctx context.Context, samAccountName string) error {
	entry, err := c.findEntry(ctx, samAccountName)
	if err != nil {
		return fmt.Errorf("LDAP DeleteAccount: %w", err)
	}

	cn, err := c.current()
	if err != nil {
		return fmt.Errorf("LDAP DeleteAccount: %w", err)
	}
	if err := cn.Del(ldap.NewDelRequest(entry.DN, nil)); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return fmt.Errorf("LDAP DeleteAccount: %w: %s", model.ErrAccountNotFound, entry.DN)
		}
		return fmt.Errorf("LDAP DeleteAccount %s: %w", entry.DN, err)
	}

	c.logger.Info("Учётка AD удалена", slog.String("dn", entry.DN))
	return nil
}

// --- helpers ---

// findEntry возвращает единственную запись по sAMAccountName.
func (c *Client) findEntry(ctx context.Context, samAccountName string) (*ldap.Entry, error) {
	filter := userFilter("(" + attrSamAccountName + "=" + ldap.EscapeFilter(samAccountName) + ")")
	entries, err := c.search(ctx, c.opts.BaseDN, filter)
	if err != nil {
		return nil, err
	}
	switch len(entries) {
	case 0:
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, samAccountName)
	case 1:
		return entries[0], nil
	default:
		return nil, fmt.Errorf("найдено %d объектов с sAMAccountName=%s", len(entries), samAccountName)
	}
}

// search выполняет постраничный поиск по поддереву.
func (c *Client) search(ctx context.Context, base, filter string) ([]*ldap.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cn, err := c.current()
	if err != nil {
		return nil, err
	}

	attrs := []string{
		attrSamAccountName, attrUserPrincipalName, attrUserAccountControl,
		attrLastLogonTimestamp, attrWhenCreated, attrMail, attrDescription,
	}
	if c.opts.OwnerAttribute != "" {
		attrs = append(attrs, c.opts.OwnerAttribute)
	}

	timeLimit := int(c.opts.Timeout / time.Second)
	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		0, timeLimit, false,
		filter,
		attrs,
		nil,
	)

	res, err := cn.SearchWithPaging(req, uint32(c.opts.PageSize))
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, err
	}
	return res.Entries, nil
}

// current возвращает открытое соединение.
func (c *Client) current() (conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// dialLDAP открывает реальное соединение с AD.
func dialLDAP(opts Options) (conn, func(), error) {
	dialOpts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: opts.Timeout}),
	}
	if opts.CACertPath != "" {
		tlsCfg, err := tlsConfigWithCA(opts.CACertPath)
		if err != nil {
			return nil, nil, err
		}
		dialOpts = append(dialOpts, ldap.DialWithTLSConfig(tlsCfg))
	}

	l, err := ldap.DialURL(opts.URL, dialOpts...)
	if err != nil {
		return nil, nil, err
	}
	if opts.Timeout > 0 {
		l.SetTimeout(opts.Timeout)
	}
	return l, func() { l.Close() }, nil
}

// tlsConfigWithCA создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func tlsConfigWithCA(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
