package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/dkarpov/authvault/internal/logging"
)

var subjects = map[string]string{
	TemplateVerifyEmail:   "Confirm your email address",
	TemplateResetPassword: "Reset your password",
}

var bodies = map[string]string{
	TemplateVerifyEmail:   "Use this token to confirm your email address:\r\n\r\n%s\r\n",
	TemplateResetPassword: "Use this token to reset your password:\r\n\r\n%s\r\n",
}

// SMTPDispatcher sends plain-text messages through a single SMTP relay.
type SMTPDispatcher struct {
	addr string
	from string
	auth smtp.Auth

	// sendMail is a test seam for smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPDispatcher(addr, from, user, pass string) *SMTPDispatcher {
	d := &SMTPDispatcher{addr: addr, from: from, sendMail: smtp.SendMail}
	if user != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		d.auth = smtp.PlainAuth("", user, pass, host)
	}
	return d
}

func (d *SMTPDispatcher) Send(ctx context.Context, recipient, template, tokenString string) error {
	subject, ok := subjects[template]
	if !ok {
		return fmt.Errorf("unknown mail template: %s", template)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", d.from)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n\r\n", subject)
	fmt.Fprintf(&msg, bodies[template], tokenString)

	return d.sendMail(d.addr, d.auth, d.from, []string{recipient}, []byte(msg.String()))
}

// LogDispatcher writes messages to the log instead of delivering them.
// Useful for development and tests.
type LogDispatcher struct {
	logger logging.Logger
}

func NewLogDispatcher(logger logging.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("module", "mail")}
}

func (d *LogDispatcher) Send(ctx context.Context, recipient, template, tokenString string) error {
	d.logger.Info(ctx, "mail dispatched", "recipient", recipient, "template", template, "token", tokenString)
	return nil
}
