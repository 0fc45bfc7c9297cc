// smtp.go — доставка через SMTP (github.com/wneessen/go-mail).
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPOptions — параметры SMTP-сервера.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS — mandatory, opportunistic или none
	TLS     string
	Timeout time.Duration
}

// SMTPSender отправляет письма через SMTP. Соединение открывается на каждое письмо.
type SMTPSender struct {
	client *mail.Client
	logger *slog.Logger
}

// NewSMTPSender создаёт SMTP-клиент. Соединение не открывается до первой отправки.
func NewSMTPSender(opts SMTPOptions, logger *slog.Logger) (*SMTPSender, error) {
	clientOpts := []mail.Option{
		mail.WithPort(opts.Port),
		mail.WithTLSPolicy(tlsPolicy(opts.TLS)),
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, mail.WithTimeout(opts.Timeout))
	}
	if opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password),
		)
	}

	client, err := mail.NewClient(opts.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("создание SMTP-клиента: %w", err)
	}

	return &SMTPSender{
		client: client,
		logger: logger.With(slog.String("component", "smtp_sender")),
	}, nil
}

// Send отправляет письмо. Любая ошибка возвращается как *DeliveryError.
func (s *SMTPSender) Send(ctx context.Context, n Notification) error {
	msg, err := buildMessage(n)
	if err != nil {
		return &DeliveryError{Recipient: n.To, Transport: "smtp", Err: err}
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return &DeliveryError{Recipient: n.To, Transport: "smtp", Err: err}
	}

	s.logger.Debug("Письмо отправлено", slog.String("to", n.To))
	return nil
}

// buildMessage собирает MIME-письмо.
func buildMessage(n Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.From); err != nil {
		return nil, fmt.Errorf("адрес отправителя %q: %w", n.From, err)
	}
	if err := msg.To(n.To); err != nil {
		return nil, fmt.Errorf("адрес получателя %q: %w", n.To, err)
	}
	msg.Subject(n.Subject)
	msg.SetBodyString(mail.TypeTextHTML, n.HTMLBody)
	return msg, nil
}

// tlsPolicy сопоставляет строку конфигурации с политикой go-mail.
func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case "opportunistic":
		return mail.TLSOpportunistic
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSMandatory
	}
}
