package mailer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type fakeGraphMailer struct {
	sent []Notification
	err  error
}

func (f *fakeGraphMailer) SendMail(_ context.Context, sender, to, subject, htmlBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, Notification{From: sender, To: to, Subject: subject, HTMLBody: htmlBody})
	return nil
}

func TestGraphSender_Send(t *testing.T) {
	fake := &fakeGraphMailer{}
	s := NewGraphSender(fake)

	n := Notification{From: "lifecycle@corp.example", To: "jdoe@corp.example", Subject: "s", HTMLBody: "<p>b</p>"}
	require.NoError(t, s.Send(context.Background(), n))
	assert.Equal(t, []Notification{n}, fake.sent)
}

func TestGraphSender_DeliveryError(t *testing.T) {
	cause := errors.New("mailbox unavailable")
	s := NewGraphSender(&fakeGraphMailer{err: cause})

	err := s.Send(context.Background(), Notification{To: "jdoe@corp.example"})

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "jdoe@corp.example", derr.Recipient)
	assert.Equal(t, "graph", derr.Transport)
	assert.ErrorIs(t, err, cause)
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage(Notification{
		From:     "lifecycle@corp.example",
		To:       "jdoe@corp.example",
		Subject:  "Privileged account adm-jdoe has been disabled",
		HTMLBody: "<p>disabled</p>",
	})
	require.NoError(t, err)

	var buf strings.Builder
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "jdoe@corp.example")
	assert.Contains(t, raw, "text/html")
	assert.Contains(t, raw, "<p>disabled</p>")
}

func TestBuildMessage_InvalidAddress(t *testing.T) {
	_, err := buildMessage(Notification{From: "lifecycle@corp.example", To: "not an address"})
	assert.Error(t, err)
}

func TestSMTPSender_InvalidRecipientIsDeliveryError(t *testing.T) {
	s, err := NewSMTPSender(SMTPOptions{Host: "localhost", Port: 2525, TLS: "none"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	err = s.Send(context.Background(), Notification{From: "lifecycle@corp.example", To: "not an address"})
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "smtp", derr.Transport)
}

func TestTLSPolicy(t *testing.T) {
	assert.Equal(t, mail.TLSMandatory, tlsPolicy("mandatory"))
	assert.Equal(t, mail.TLSMandatory, tlsPolicy(""))
	assert.Equal(t, mail.TLSOpportunistic, tlsPolicy("opportunistic"))
	assert.Equal(t, mail.NoTLS, tlsPolicy("none"))
}
