// Package mail renders and sends signer emails: one-time codes and signing confirmations.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	"docsign-engine/backend/internal/otp"
)

// ErrNotConfigured is returned when a transport lacks its endpoint or credentials.
var ErrNotConfigured = errors.New("mail: transport not configured")

// Message is one rendered email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Transport hands a rendered message to a delivery service.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

// Notice is a confirmation that a request reached a final state the signer caused.
type Notice struct {
	RequestID     string
	To            string
	SignerName    string
	DocumentTitle string
	Status        string
	At            time.Time
}

var (
	codeTmpl = template.Must(template.New("code").Parse(`<p>Hello {{.SignerName}},</p>
<p>Your verification code for signing <strong>{{.DocumentTitle}}</strong> is:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires at {{.ExpiresAt}}. If you did not request it, ignore this email.</p>`))

	noticeTmpl = template.Must(template.New("notice").Parse(`<p>Hello {{.SignerName}},</p>
<p>The document <strong>{{.DocumentTitle}}</strong> was {{.Verb}} at {{.At}}.</p>
<p>No further action is needed.</p>`))
)

// Mailer implements otp.CodeSender on top of a Transport.
type Mailer struct {
	transport Transport
	from      string
	log       *zap.Logger
}

// NewMailer returns a Mailer sending from the given address.
func NewMailer(transport Transport, from string, log *zap.Logger) *Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{transport: transport, from: from, log: log}
}

// SendCode renders and sends a verification code email. The code is never logged.
func (m *Mailer) SendCode(ctx context.Context, d otp.Delivery) error {
	var body bytes.Buffer
	err := codeTmpl.Execute(&body, map[string]string{
		"SignerName":    d.SignerName,
		"DocumentTitle": d.DocumentTitle,
		"Code":          d.Code,
		"ExpiresAt":     d.ExpiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return fmt.Errorf("render code email: %w", err)
	}
	msg := Message{From: m.from, To: d.To, Subject: "Your signing verification code", HTML: body.String()}
	if err := m.transport.Send(ctx, msg); err != nil {
		return err
	}
	m.log.Info("verification code email sent",
		zap.String("request_id", d.RequestID),
		zap.String("to", otp.MaskEmail(d.To)),
	)
	return nil
}

// SendNotice sends a confirmation for a signed or declined request.
func (m *Mailer) SendNotice(ctx context.Context, n Notice) error {
	verb := "signed"
	if n.Status == "DECLINED" {
		verb = "declined"
	}
	var body bytes.Buffer
	err := noticeTmpl.Execute(&body, map[string]string{
		"SignerName":    n.SignerName,
		"DocumentTitle": n.DocumentTitle,
		"Verb":          verb,
		"At":            n.At.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return fmt.Errorf("render notice email: %w", err)
	}
	msg := Message{From: m.from, To: n.To, Subject: "Document " + verb + ": " + n.DocumentTitle, HTML: body.String()}
	if err := m.transport.Send(ctx, msg); err != nil {
		return err
	}
	m.log.Info("confirmation email sent",
		zap.String("request_id", n.RequestID),
		zap.String("status", n.Status),
		zap.String("to", otp.MaskEmail(n.To)),
	)
	return nil
}

// LogTransport drops messages after logging their recipient and subject. Used in development
// when neither a relay nor SMTP is configured.
type LogTransport struct {
	Log *zap.Logger
}

func (t LogTransport) Send(ctx context.Context, m Message) error {
	if t.Log != nil {
		t.Log.Info("mail transport disabled; message dropped",
			zap.String("to", otp.MaskEmail(m.To)),
			zap.String("subject", m.Subject),
		)
	}
	return nil
}
