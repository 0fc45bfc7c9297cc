// Пакет mailer — доставка уведомлений владельцам через Graph sendMail или SMTP.
package mailer

import (
	"context"
	"fmt"
)

// Notification — письмо к отправке.
type Notification struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

// DeliveryError — сбой транспорта при доставке письма.
type DeliveryError struct {
	Recipient string
	Transport string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("доставка письма %s через %s: %v", e.Recipient, e.Transport, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// graphMailer — используемая часть graph.Client.
type graphMailer interface {
	SendMail(ctx context.Context, sender, to, subject, htmlBody string) error
}

// GraphSender отправляет письма через Microsoft Graph.
type GraphSender struct {
	client graphMailer
}

// NewGraphSender создаёт отправителя поверх клиента Graph.
func NewGraphSender(client graphMailer) *GraphSender {
	return &GraphSender{client: client}
}

// Send отправляет письмо. Любая ошибка возвращается как *DeliveryError.
func (s *GraphSender) Send(ctx context.Context, n Notification) error {
	if err := s.client.SendMail(ctx, n.From, n.To, n.Subject, n.HTMLBody); err != nil {
		return &DeliveryError{Recipient: n.To, Transport: "graph", Err: err}
	}
	return nil
}
