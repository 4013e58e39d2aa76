package notify

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Mailer delivers one message. Failures are retry-later; the notifier
// does not interpret the error beyond success/failure.
type Mailer interface {
	SendMail(to, subject, htmlBody string) error
}

// SMTPMailer sends over plain SMTP with optional auth. STARTTLS is
// negotiated when the server offers it.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendMail implements Mailer.
func (m *SMTPMailer) SendMail(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	if err := smtp.SendMail(addr, auth, m.From, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
