package mail

import (
	"fmt"

	"github.com/go-doubleoptin/internal/config"
)

// NewSender builds the transport selected by cfg.MailTransport.
func NewSender(cfg *config.Config) (Sender, error) {
	switch cfg.MailTransport {
	case "", "smtp":
		return NewSMTPSender(cfg), nil
	case "ses":
		return NewSESSender(cfg)
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("resend transport needs RESEND_API_KEY")
		}
		return NewResendSender(cfg.ResendAPIKey, cfg.SMTPFrom), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.MailTransport)
	}
}
