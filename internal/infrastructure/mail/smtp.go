package mail

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/go-doubleoptin/internal/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	host     string
	port     string
	from     string
	username string
	password string
	sendMail sendMailFunc
}

func NewSMTPSender(cfg *config.Config) *SMTPSender {
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		sendMail: smtp.SendMail,
	}
}

func (m *SMTPSender) Send(_ context.Context, msg *Message) error {
	prepared := prepare(msg, m.from)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	if err := m.sendMail(addr, auth, prepared.From, []string{prepared.To}, BuildMIME(prepared)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// prepare applies the default sender and strips header injection attempts.
func prepare(msg *Message, defaultFrom string) *Message {
	cp := *msg
	if cp.From == "" {
		cp.From = defaultFrom
	}
	cp.From = sanitizeHeader(cp.From)
	cp.FromName = sanitizeHeader(cp.FromName)
	cp.To = sanitizeHeader(cp.To)
	cp.ReplyTo = sanitizeHeader(cp.ReplyTo)
	cp.Subject = sanitizeHeader(cp.Subject)
	if len(msg.Headers) > 0 {
		cp.Headers = make(map[string]string, len(msg.Headers))
		for k, v := range msg.Headers {
			cp.Headers[sanitizeHeader(k)] = sanitizeHeader(v)
		}
	}
	return &cp
}
